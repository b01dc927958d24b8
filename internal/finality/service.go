package finality

import (
	"fmt"
	"time"

	"github.com/sutehoge/catapult-server/internal/finality/storage"
	"github.com/sutehoge/catapult-server/internal/types"
)

type epochStatus int

const (
	epochContinue epochStatus = iota
	epochWait
	epochAdvance
)

// OrchestratorService wraps the orchestrator with the epoch bookkeeping that
// runs before every poll: advancing the epoch once its voting set is fully
// finalized and the aggregator round window behind the orchestrator round.
type OrchestratorService struct {
	votingSetGrouping uint64
	aggregator        *MultiRoundMessageAggregator
	proofStorage      *storage.ProofStorageCache
	blockStorage      BlockStorage
	statusFile        *VotingStatusFile
	orchestrator      *Orchestrator
	finalizer         func() error
}

func NewOrchestratorService(
	votingSetGrouping uint64,
	aggregator *MultiRoundMessageAggregator,
	proofStorage *storage.ProofStorageCache,
	blockStorage BlockStorage,
	statusFile *VotingStatusFile,
	orchestrator *Orchestrator,
	finalizer func() error,
) *OrchestratorService {
	return &OrchestratorService{
		votingSetGrouping: votingSetGrouping,
		aggregator:        aggregator,
		proofStorage:      proofStorage,
		blockStorage:      blockStorage,
		statusFile:        statusFile,
		orchestrator:      orchestrator,
		finalizer:         finalizer,
	}
}

// Poll runs one finalization tick.
func (s *OrchestratorService) Poll(now time.Time) error {
	round := s.orchestrator.VotingStatus().Round

	status, err := s.epochStatus(round.Epoch)
	if err != nil {
		return err
	}
	if epochWait == status {
		return nil
	}
	if epochAdvance == status {
		if err := s.orchestrator.SetEpoch(round.Epoch + 1); err != nil {
			return err
		}
		round = s.orchestrator.VotingStatus().Round
		log.Debug("advancing to next epoch %s", round)
	}

	view := s.aggregator.View()
	maxRound := view.MaxFinalizationRound()
	view.Release()
	if maxRound.Less(round) {
		modifier := s.aggregator.Modifier()
		err := modifier.SetMaxFinalizationRound(round)
		modifier.Release()
		if err != nil {
			return err
		}
	}

	s.orchestrator.Poll(now)

	if err := s.statusFile.Save(s.orchestrator.VotingStatus()); err != nil {
		return fmt.Errorf("persisting voting status: %w", err)
	}
	return s.finalizer()
}

// epochStatus decides whether the current epoch keeps running, waits for the
// chain to catch up, or hands over to the next epoch.
func (s *OrchestratorService) epochStatus(epoch types.FinalizationEpoch) (epochStatus, error) {
	view := s.proofStorage.View()
	statistics := view.Statistics()
	view.Release()

	votingSetEndHeight := types.VotingSetEndHeight(epoch, s.votingSetGrouping)
	if statistics.Height != votingSetEndHeight {
		return epochContinue, nil
	}

	localChainHeight, err := s.blockStorage.ChainHeight()
	if err != nil {
		return epochContinue, fmt.Errorf("loading chain height: %w", err)
	}
	if localChainHeight < statistics.Height {
		log.Warning("waiting for sync before transitioning from epoch %d (height %d < finalized height %d)",
			epoch, localChainHeight, statistics.Height)
		return epochWait, nil
	}

	hashes, err := s.blockStorage.LoadHashesFrom(statistics.Height, 1)
	if err != nil {
		return epochContinue, fmt.Errorf("loading local block hash: %w", err)
	}
	if 0 == len(hashes) || hashes[0] != statistics.Hash {
		log.Warning("waiting for sync before transitioning from epoch %d (local hash does not match finalized hash %s)",
			epoch, statistics.Hash)
		return epochWait, nil
	}

	return epochAdvance, nil
}
