package testutils

import (
	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/types"
)

// MemoryBlockStorage is an in-memory block hash index keyed by height.
type MemoryBlockStorage struct {
	Height types.Height
	Blocks map[types.Height]types.Hash
}

func NewMemoryBlockStorage(chainHeight types.Height) *MemoryBlockStorage {
	storage := &MemoryBlockStorage{Height: chainHeight, Blocks: make(map[types.Height]types.Hash)}
	for h := types.Height(1); h <= chainHeight; h++ {
		var hash types.Hash
		hash[0] = byte(h)
		hash[1] = byte(h >> 8)
		storage.Blocks[h] = hash
	}
	return storage
}

func (s *MemoryBlockStorage) ChainHeight() (types.Height, error) {
	return s.Height, nil
}

func (s *MemoryBlockStorage) LoadHashesFrom(height types.Height, numHashes uint64) ([]types.Hash, error) {
	var hashes []types.Hash
	for i := uint64(0); i < numHashes; i++ {
		hash, ok := s.Blocks[height+types.Height(i)]
		if !ok {
			break
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// StaticAccountState returns the same voter table at every height.
type StaticAccountState struct {
	Accounts map[ots.PublicKey]types.Amount
}

func (s *StaticAccountState) VotingAccountsAt(types.Height) (map[ots.PublicKey]types.Amount, error) {
	return s.Accounts, nil
}
