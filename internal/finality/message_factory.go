package finality

import (
	"fmt"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/finality/storage"
	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

// BlockStorage is the read interface to the host chain's block store.
type BlockStorage interface {
	ChainHeight() (types.Height, error)
	LoadHashesFrom(height types.Height, numHashes uint64) ([]types.Hash, error)
}

// MessageFactory builds and signs the local vote messages.
type MessageFactory interface {
	CreatePrevote(epoch types.FinalizationEpoch) (*fp.Msg, error)
	CreatePrecommit(epoch types.FinalizationEpoch, height types.Height, hash types.Hash) (*fp.Msg, error)
}

type messageFactory struct {
	config       Config
	blockStorage BlockStorage
	proofStorage *storage.ProofStorageCache
	otsTree      *ots.Tree
}

// NewMessageFactory creates a factory; it takes exclusive ownership of otsTree.
func NewMessageFactory(config Config, blockStorage BlockStorage, proofStorage *storage.ProofStorageCache, otsTree *ots.Tree) MessageFactory {
	return &messageFactory{
		config:       config,
		blockStorage: blockStorage,
		proofStorage: proofStorage,
		otsTree:      otsTree,
	}
}

// clamp rounds value down (adjustment 0) or up (adjustment 1) to a multiple.
func clamp(value uint64, multiple uint16, adjustment uint64) uint64 {
	if 0 == value%uint64(multiple) {
		return value
	}
	return (value/uint64(multiple) + adjustment) * uint64(multiple)
}

func (f *messageFactory) finalizationState() fp.Statistics {
	view := f.proofStorage.View()
	defer view.Release()
	return view.Statistics()
}

// loadPrevoteHashChain loads the prevote hash window: the chain tail clamped
// down to a prevote blocks multiple, truncated to the hash count limit.
func (f *messageFactory) loadPrevoteHashChain(startHeight types.Height) ([]types.Hash, error) {
	chainHeight, err := f.blockStorage.ChainHeight()
	if err != nil {
		return nil, fmt.Errorf("loading chain height: %w", err)
	}
	clampedChainHeight := types.Height(clamp(uint64(chainHeight), f.config.PrevoteBlocksMultiple, 0))

	numHashes := uint64(1)
	if clampedChainHeight > startHeight {
		numHashes = uint64(clampedChainHeight-startHeight) + 1
	}
	if numHashes > uint64(f.config.MaxHashesPerPoint) {
		numHashes -= clamp(numHashes-uint64(f.config.MaxHashesPerPoint), f.config.PrevoteBlocksMultiple, 1)
	}

	return f.blockStorage.LoadHashesFrom(startHeight, numHashes)
}

func (f *messageFactory) prepare(stepIdentifier types.StepIdentifier, height types.Height, hashes []types.Hash) (*fp.Msg, error) {
	msg := &fp.Msg{
		Version:        fp.CurrentVersion,
		StepIdentifier: stepIdentifier,
		Height:         height,
		Hashes:         hashes,
	}
	data, err := msg.SigningBytes()
	if err != nil {
		return nil, err
	}

	keyIdentifier := types.ToOtsKeyIdentifier(stepIdentifier, f.config.OtsKeyDilution)
	signature, err := f.otsTree.Sign(keyIdentifier, data)
	if err != nil {
		return nil, fmt.Errorf("signing message at step %s: %w", stepIdentifier, err)
	}
	msg.Signature = signature
	return msg, nil
}

func (f *messageFactory) CreatePrevote(epoch types.FinalizationEpoch) (*fp.Msg, error) {
	statistics := f.finalizationState()

	hashes, err := f.loadPrevoteHashChain(statistics.Height)
	if err != nil {
		return nil, err
	}
	if 0 == len(hashes) {
		// chain is behind the finalized height, vote to hold it
		hashes = []types.Hash{statistics.Hash}
	}

	stepIdentifier := types.StepIdentifier{Epoch: epoch, Point: statistics.Round.Point + 1, Stage: types.StagePrevote}
	return f.prepare(stepIdentifier, statistics.Height, hashes)
}

func (f *messageFactory) CreatePrecommit(epoch types.FinalizationEpoch, height types.Height, hash types.Hash) (*fp.Msg, error) {
	statistics := f.finalizationState()

	stepIdentifier := types.StepIdentifier{Epoch: epoch, Point: statistics.Round.Point + 1, Stage: types.StagePrecommit}
	return f.prepare(stepIdentifier, height, []types.Hash{hash})
}
