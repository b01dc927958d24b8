package finalization

import (
	"github.com/sutehoge/catapult-server/internal/types"
)

// Statistics describe the most recently finalized block.
type Statistics struct {
	_      struct{} `cbor:",toarray"`
	Round  types.FinalizationRound
	Height types.Height
	Hash   types.Hash
}
