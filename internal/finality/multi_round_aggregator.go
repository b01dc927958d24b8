package finality

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

type (
	// RoundAggregatorFactory creates the aggregator for a newly seen round.
	// height is the height carried by the message that opened the round.
	RoundAggregatorFactory func(round types.FinalizationRound, height types.Height) (*RoundMessageAggregator, error)

	// BestPrecommitDescriptor is the output of the cross round best precommit
	// search: the round that decided, its target and the witnessing messages.
	BestPrecommitDescriptor struct {
		Round  types.FinalizationRound
		Target types.HeightHashPair
		Proof  []*fp.Msg
	}

	multiRoundState struct {
		maxResponseSize                 uint64
		minFinalizationRound            types.FinalizationRound
		maxFinalizationRound            types.FinalizationRound
		previousFinalizedHeightHashPair types.HeightHashPair
		factory                         RoundAggregatorFactory
		rounds                          map[types.FinalizationRound]*RoundMessageAggregator
	}

	// MultiRoundMessageAggregator owns the aggregators of all in-flight rounds
	// behind a reader/writer lock. Queries go through a View, mutations
	// through a Modifier; both are short-lived handles that must be released.
	MultiRoundMessageAggregator struct {
		mu    sync.RWMutex
		state multiRoundState
	}

	// MultiRoundView is a read locked snapshot of the aggregator.
	MultiRoundView struct {
		state   *multiRoundState
		release func()
	}

	// MultiRoundModifier is a write locked handle to the aggregator.
	MultiRoundModifier struct {
		state   *multiRoundState
		release func()
	}
)

func NewMultiRoundMessageAggregator(
	maxResponseSize uint64,
	round types.FinalizationRound,
	previousFinalized types.HeightHashPair,
	factory RoundAggregatorFactory,
) *MultiRoundMessageAggregator {
	return &MultiRoundMessageAggregator{
		state: multiRoundState{
			maxResponseSize:                 maxResponseSize,
			minFinalizationRound:            round,
			maxFinalizationRound:            round,
			previousFinalizedHeightHashPair: previousFinalized,
			factory:                         factory,
			rounds:                          make(map[types.FinalizationRound]*RoundMessageAggregator),
		},
	}
}

// View acquires the read lock; release with Release.
func (a *MultiRoundMessageAggregator) View() *MultiRoundView {
	a.mu.RLock()
	return &MultiRoundView{state: &a.state, release: a.mu.RUnlock}
}

// Modifier acquires the write lock; release with Release.
func (a *MultiRoundMessageAggregator) Modifier() *MultiRoundModifier {
	a.mu.Lock()
	return &MultiRoundModifier{state: &a.state, release: a.mu.Unlock}
}

func (s *multiRoundState) sortedRounds() []types.FinalizationRound {
	rounds := make([]types.FinalizationRound, 0, len(s.rounds))
	for round := range s.rounds {
		rounds = append(rounds, round)
	}
	slices.SortFunc(rounds, func(a, b types.FinalizationRound) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	return rounds
}

// region view

func (v *MultiRoundView) Release() {
	v.release()
}

func (v *MultiRoundView) Size() int {
	return len(v.state.rounds)
}

func (v *MultiRoundView) MinFinalizationRound() types.FinalizationRound {
	return v.state.minFinalizationRound
}

func (v *MultiRoundView) MaxFinalizationRound() types.FinalizationRound {
	return v.state.maxFinalizationRound
}

// TryGetRoundContext returns the round context for round, nil when the round
// has seen no messages.
func (v *MultiRoundView) TryGetRoundContext(round types.FinalizationRound) *RoundContext {
	aggregator, ok := v.state.rounds[round]
	if !ok {
		return nil
	}
	return aggregator.RoundContext()
}

// FindEstimate returns the estimate of the highest round at or before round
// that has one, falling back to the previously finalized block.
func (v *MultiRoundView) FindEstimate(round types.FinalizationRound) types.HeightHashPair {
	rounds := v.state.sortedRounds()
	for i := len(rounds) - 1; i >= 0; i-- {
		if round.Less(rounds[i]) {
			continue
		}
		if estimate, ok := v.state.rounds[rounds[i]].RoundContext().TryFindEstimate(); ok {
			return estimate
		}
	}
	return v.state.previousFinalizedHeightHashPair
}

// TryFindBestPrecommit searches rounds from the highest down for a best
// precommit; the zero descriptor means none was found.
func (v *MultiRoundView) TryFindBestPrecommit() BestPrecommitDescriptor {
	rounds := v.state.sortedRounds()
	for i := len(rounds) - 1; i >= 0; i-- {
		aggregator := v.state.rounds[rounds[i]]
		if target, ok := aggregator.RoundContext().TryFindBestPrecommit(); ok {
			return BestPrecommitDescriptor{
				Round:  rounds[i],
				Target: target,
				Proof:  aggregator.UnknownMessages(nil),
			}
		}
	}
	return BestPrecommitDescriptor{}
}

// ShortHashes returns the short hashes of all messages in all rounds.
func (v *MultiRoundView) ShortHashes() []types.ShortHash {
	var shortHashes []types.ShortHash
	for _, round := range v.state.sortedRounds() {
		shortHashes = append(shortHashes, v.state.rounds[round].ShortHashes()...)
	}
	return shortHashes
}

// UnknownMessages collects unknown messages from all rounds at or after round,
// stopping when the response size budget is exhausted.
func (v *MultiRoundView) UnknownMessages(round types.FinalizationRound, knownShortHashes map[types.ShortHash]struct{}) []*fp.Msg {
	var totalSize uint64
	var allMessages []*fp.Msg
	for _, r := range v.state.sortedRounds() {
		if r.Less(round) {
			continue
		}
		for _, message := range v.state.rounds[r].UnknownMessages(knownShortHashes) {
			totalSize += message.Size()
			if totalSize > v.state.maxResponseSize {
				return allMessages
			}
			allMessages = append(allMessages, message)
		}
	}
	return allMessages
}

// endregion

// region modifier

func (m *MultiRoundModifier) Release() {
	m.release()
}

// SetMaxFinalizationRound raises the upper bound for admissible rounds.
func (m *MultiRoundModifier) SetMaxFinalizationRound(round types.FinalizationRound) error {
	if round.Less(m.state.minFinalizationRound) {
		return fmt.Errorf("cannot set max finalization round %s below min %s", round, m.state.minFinalizationRound)
	}
	m.state.maxFinalizationRound = round
	return nil
}

// Add routes msg to its round aggregator, creating it on first contact.
func (m *MultiRoundModifier) Add(msg *fp.Msg) AddResult {
	round := msg.StepIdentifier.Round()
	if round.Less(m.state.minFinalizationRound) || m.state.maxFinalizationRound.Less(round) {
		return ResultFailureInvalidPoint
	}

	aggregator, ok := m.state.rounds[round]
	if !ok {
		var err error
		if aggregator, err = m.state.factory(round, msg.Height); err != nil {
			log.Warning("cannot create aggregator for round %s: %v", round, err)
			return ResultFailureProcessing
		}
		m.state.rounds[round] = aggregator
	}
	return aggregator.Add(msg)
}

// Prune drops all rounds before the last round with a best precommit. The
// estimate of the last round before it becomes the new previously finalized
// height/hash pair so estimate continuity is preserved.
func (m *MultiRoundModifier) Prune() {
	rounds := m.state.sortedRounds()

	lastMatching := -1
	for i, round := range rounds {
		if _, ok := m.state.rounds[round].RoundContext().TryFindBestPrecommit(); ok {
			lastMatching = i
		}
	}
	if lastMatching < 0 {
		return
	}

	for i := lastMatching - 1; i >= 0; i-- {
		if estimate, ok := m.state.rounds[rounds[i]].RoundContext().TryFindEstimate(); ok {
			m.state.previousFinalizedHeightHashPair = estimate
			break
		}
	}

	for i := 0; i < lastMatching; i++ {
		delete(m.state.rounds, rounds[i])
	}
	m.state.minFinalizationRound = rounds[lastMatching]
}

// endregion
