package finality

import (
	"context"

	"github.com/sutehoge/catapult-server/internal/finality/storage"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

// SyncResult is the outcome of one synchronizer run.
type SyncResult int

const (
	SyncFailure SyncResult = iota
	SyncNeutral
	SyncSuccess
)

func (r SyncResult) String() string {
	switch r {
	case SyncFailure:
		return "Failure"
	case SyncNeutral:
		return "Neutral"
	case SyncSuccess:
		return "Success"
	default:
		return "Unknown"
	}
}

type (
	// RemoteProofApi retrieves finalization proofs from a remote node.
	RemoteProofApi interface {
		FinalizationStatistics(ctx context.Context) (fp.Statistics, error)
		ProofAt(ctx context.Context, height types.Height) (*fp.Proof, error)
	}

	// ProofValidator decides whether a pulled proof is acceptable.
	ProofValidator func(proof *fp.Proof) bool

	// ProofSynchronizer pulls the proof for the next voting set boundary the
	// local chain has already crossed but finality has not.
	ProofSynchronizer struct {
		votingSetGrouping uint64
		blockStorage      BlockStorage
		proofStorage      *storage.ProofStorageCache
		proofValidator    ProofValidator
	}
)

func NewProofSynchronizer(
	votingSetGrouping uint64,
	blockStorage BlockStorage,
	proofStorage *storage.ProofStorageCache,
	proofValidator ProofValidator,
) *ProofSynchronizer {
	return &ProofSynchronizer{
		votingSetGrouping: votingSetGrouping,
		blockStorage:      blockStorage,
		proofStorage:      proofStorage,
		proofValidator:    proofValidator,
	}
}

func (s *ProofSynchronizer) Synchronize(ctx context.Context, api RemoteProofApi) SyncResult {
	localChainHeight, err := s.blockStorage.ChainHeight()
	if err != nil {
		log.Warning("proof synchronizer cannot read chain height: %v", err)
		return SyncFailure
	}

	view := s.proofStorage.View()
	localFinalizedHeight := view.Statistics().Height
	view.Release()

	nextProofHeight := types.GroupedHeight(localFinalizedHeight+types.Height(s.votingSetGrouping), s.votingSetGrouping)
	if nextProofHeight >= localChainHeight {
		return SyncNeutral
	}

	remoteStatistics, err := api.FinalizationStatistics(ctx)
	if err != nil {
		log.Warning("requesting finalization statistics failed: %v", err)
		return SyncFailure
	}
	if remoteStatistics.Height < nextProofHeight {
		return SyncNeutral
	}

	proof, err := api.ProofAt(ctx, nextProofHeight)
	if err != nil {
		log.Warning("requesting proof for height %d failed: %v", nextProofHeight, err)
		return SyncFailure
	}
	if nil == proof {
		return SyncNeutral
	}

	log.Debug("peer returned proof for height %d", nextProofHeight)

	if nextProofHeight != proof.Height {
		log.Warning("peer returned proof with wrong height %d, requested %d", proof.Height, nextProofHeight)
		return SyncFailure
	}
	if !s.proofValidator(proof) {
		log.Warning("peer returned proof for height %d that failed validation", nextProofHeight)
		return SyncFailure
	}

	modifier := s.proofStorage.Modifier()
	err = modifier.SaveProof(proof)
	modifier.Release()
	if err != nil {
		log.Warning("saving pulled proof for height %d failed: %v", nextProofHeight, err)
		return SyncFailure
	}
	return SyncSuccess
}
