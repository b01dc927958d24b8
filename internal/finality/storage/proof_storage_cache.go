package storage

import (
	"sync"

	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

type (
	// ProofStorageCache fronts a ProofStorage with the view/modifier locking
	// discipline and keeps the current statistics in memory so readers never
	// touch the index for them.
	ProofStorageCache struct {
		mu         sync.RWMutex
		storage    ProofStorage
		statistics fp.Statistics
	}

	// ProofStorageView is a read locked handle.
	ProofStorageView struct {
		cache   *ProofStorageCache
		release func()
	}

	// ProofStorageModifier is a write locked handle.
	ProofStorageModifier struct {
		cache   *ProofStorageCache
		release func()
	}
)

func NewProofStorageCache(storage ProofStorage) (*ProofStorageCache, error) {
	statistics, err := storage.Statistics()
	if err != nil {
		return nil, err
	}
	return &ProofStorageCache{storage: storage, statistics: statistics}, nil
}

func (c *ProofStorageCache) View() *ProofStorageView {
	c.mu.RLock()
	return &ProofStorageView{cache: c, release: c.mu.RUnlock}
}

func (c *ProofStorageCache) Modifier() *ProofStorageModifier {
	c.mu.Lock()
	return &ProofStorageModifier{cache: c, release: c.mu.Unlock}
}

func (v *ProofStorageView) Release() {
	v.release()
}

func (v *ProofStorageView) Statistics() fp.Statistics {
	return v.cache.statistics
}

func (v *ProofStorageView) LoadProofAtEpoch(epoch types.FinalizationEpoch) (*fp.Proof, error) {
	return v.cache.storage.LoadProofAtEpoch(epoch)
}

func (v *ProofStorageView) LoadProofAtHeight(height types.Height) (*fp.Proof, error) {
	return v.cache.storage.LoadProofAtHeight(height)
}

func (m *ProofStorageModifier) Release() {
	m.release()
}

func (m *ProofStorageModifier) SaveProof(proof *fp.Proof) error {
	if err := m.cache.storage.SaveProof(proof); err != nil {
		return err
	}
	m.cache.statistics = proof.Statistics()
	return nil
}
