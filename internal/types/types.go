package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

type (
	// Height is a block chain height.
	Height uint64

	// Hash is a 32 byte block or message hash.
	Hash [32]byte

	// ShortHash is the first four bytes of a Hash, used in synchronization
	// handshakes to keep known-hash sets small.
	ShortHash uint32

	// FinalizationEpoch is a coarse finalization era, incremented when the
	// voter set rotates.
	FinalizationEpoch uint32

	// FinalizationPoint is the round counter within an epoch.
	FinalizationPoint uint32

	// Amount is a voter weight.
	Amount uint64
)

func (h Hash) String() string {
	return hex.EncodeToString(h[:8])
}

// ToShortHash returns the short form of h (little endian first four bytes).
func ToShortHash(h Hash) ShortHash {
	return ShortHash(binary.LittleEndian.Uint32(h[:4]))
}

func HashFromBytes(b []byte) (h Hash) {
	copy(h[:], b)
	return h
}

// FinalizationRound is the unit of voting.
type FinalizationRound struct {
	_     struct{} `cbor:",toarray"`
	Epoch FinalizationEpoch
	Point FinalizationPoint
}

func (r FinalizationRound) IsZero() bool {
	return 0 == r.Epoch && 0 == r.Point
}

func (r FinalizationRound) Less(rhs FinalizationRound) bool {
	if r.Epoch != rhs.Epoch {
		return r.Epoch < rhs.Epoch
	}
	return r.Point < rhs.Point
}

// Compare returns -1, 0 or 1 ordering rounds lexicographically by (epoch, point).
func (r FinalizationRound) Compare(rhs FinalizationRound) int {
	switch {
	case r.Less(rhs):
		return -1
	case rhs.Less(r):
		return 1
	default:
		return 0
	}
}

func (r FinalizationRound) String() string {
	return fmt.Sprintf("(%d, %d)", r.Epoch, r.Point)
}

// HeightHashPair identifies a block by height and hash.
type HeightHashPair struct {
	_      struct{} `cbor:",toarray"`
	Height Height
	Hash   Hash
}

func (p HeightHashPair) String() string {
	return fmt.Sprintf("%s @ %d", p.Hash, p.Height)
}
