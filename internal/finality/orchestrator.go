package finality

import (
	"fmt"
	"time"

	"github.com/sutehoge/catapult-server/internal/finality/storage"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

type (
	// StageAdvancerFactory creates the advancer for a round started at a time.
	StageAdvancerFactory func(round types.FinalizationRound, startTime time.Time) StageAdvancer

	// MessageSink receives the locally created vote messages.
	MessageSink func(*fp.Msg)

	// FinalizationSubscriber is notified when a block becomes final.
	FinalizationSubscriber interface {
		NotifyFinalizedBlock(round types.FinalizationRound, height types.Height, hash types.Hash)
	}

	// Orchestrator drives the local voting rounds forward.
	Orchestrator struct {
		votingStatus    VotingStatus
		advancerFactory StageAdvancerFactory
		messageSink     MessageSink
		messageFactory  MessageFactory
		advancer        StageAdvancer
	}
)

func NewOrchestrator(
	votingStatus VotingStatus,
	advancerFactory StageAdvancerFactory,
	messageSink MessageSink,
	messageFactory MessageFactory,
) *Orchestrator {
	log.Debug("creating finalization orchestrator starting at round %s (has sent prevote? %t) (has sent precommit? %t)",
		votingStatus.Round, votingStatus.HasSentPrevote, votingStatus.HasSentPrecommit)
	return &Orchestrator{
		votingStatus:    votingStatus,
		advancerFactory: advancerFactory,
		messageSink:     messageSink,
		messageFactory:  messageFactory,
	}
}

func (o *Orchestrator) VotingStatus() VotingStatus {
	return o.votingStatus
}

// SetEpoch moves the orchestrator to the first round of epoch. Decreasing the
// epoch is a programming error; setting the current epoch is a no-op.
func (o *Orchestrator) SetEpoch(epoch types.FinalizationEpoch) error {
	if epoch < o.votingStatus.Round.Epoch {
		return fmt.Errorf("cannot decrease epoch from %d to %d", o.votingStatus.Round.Epoch, epoch)
	}
	if epoch == o.votingStatus.Round.Epoch {
		return nil
	}

	o.votingStatus.Round = types.FinalizationRound{Epoch: epoch, Point: 1}
	o.clearFlags()
	o.advancer = nil
	return nil
}

// Poll checks the voting stage gates and emits any message that became due.
func (o *Orchestrator) Poll(now time.Time) {
	// on the first poll keep the loaded voting status instead of starting a
	// fresh round, so a restarted voter does not re-sign sent stages
	if nil == o.advancer {
		o.advancer = o.advancerFactory(o.votingStatus.Round, now)
	}

	if !o.votingStatus.HasSentPrevote && o.advancer.CanSendPrevote(now) {
		prevote, err := o.messageFactory.CreatePrevote(o.votingStatus.Round.Epoch)
		if err != nil {
			log.Warning("cannot create prevote at round %s: %v", o.votingStatus.Round, err)
		} else {
			o.messageSink(prevote)
			o.votingStatus.HasSentPrevote = true
		}
	}

	if !o.votingStatus.HasSentPrecommit {
		if target, ok := o.advancer.CanSendPrecommit(now); ok {
			precommit, err := o.messageFactory.CreatePrecommit(o.votingStatus.Round.Epoch, target.Height, target.Hash)
			if err != nil {
				log.Warning("cannot create precommit at round %s: %v", o.votingStatus.Round, err)
			} else {
				o.messageSink(precommit)
				o.votingStatus.HasSentPrecommit = true
			}
		}
	}

	if o.votingStatus.HasSentPrecommit && o.advancer.CanStartNextRound() {
		o.votingStatus.Round.Point++
		o.startRound(now)
	}
}

func (o *Orchestrator) startRound(now time.Time) {
	o.clearFlags()
	o.advancer = o.advancerFactory(o.votingStatus.Round, now)
}

func (o *Orchestrator) clearFlags() {
	o.votingStatus.HasSentPrevote = false
	o.votingStatus.HasSentPrecommit = false
}

// CreateFinalizer returns the periodic action that persists a proof for the
// best precommit and prunes decided rounds.
func CreateFinalizer(
	aggregator *MultiRoundMessageAggregator,
	subscriber FinalizationSubscriber,
	proofStorage *storage.ProofStorageCache,
) func() error {
	return func() error {
		view := aggregator.View()
		descriptor := view.TryFindBestPrecommit()
		view.Release()
		if descriptor.Round.IsZero() {
			return nil
		}

		storageView := proofStorage.View()
		finalizedHeight := storageView.Statistics().Height
		storageView.Release()
		if finalizedHeight == descriptor.Target.Height {
			return nil
		}

		proof := fp.NewProof(fp.Statistics{
			Round:  descriptor.Round,
			Height: descriptor.Target.Height,
			Hash:   descriptor.Target.Hash,
		}, descriptor.Proof)

		modifier := proofStorage.Modifier()
		err := modifier.SaveProof(proof)
		modifier.Release()
		if err != nil {
			return fmt.Errorf("saving proof for round %s: %w", descriptor.Round, err)
		}

		subscriber.NotifyFinalizedBlock(descriptor.Round, descriptor.Target.Height, descriptor.Target.Hash)

		aggregatorModifier := aggregator.Modifier()
		aggregatorModifier.Prune()
		aggregatorModifier.Release()
		return nil
	}
}
