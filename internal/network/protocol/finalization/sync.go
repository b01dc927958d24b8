package finalization

import (
	"github.com/sutehoge/catapult-server/internal/types"
)

// PullMessagesRequest asks a peer for finalization messages at or after Round
// excluding those whose short hashes the requester already knows.
type PullMessagesRequest struct {
	_                struct{} `cbor:",toarray"`
	Round            types.FinalizationRound
	KnownShortHashes []types.ShortHash
}

// PullMessagesResponse carries the messages the peer had that the requester
// did not, bounded by the peer's response size budget.
type PullMessagesResponse struct {
	_        struct{} `cbor:",toarray"`
	Messages []*Msg
}

// PullProofRequest asks a peer for its finalization statistics and, when
// Height is nonzero, the proof finalizing that height.
type PullProofRequest struct {
	_      struct{} `cbor:",toarray"`
	Height types.Height
}

// PullProofResponse returns the peer's statistics; Proof is nil when the
// request carried no height or the peer has no proof at that height.
type PullProofResponse struct {
	_          struct{} `cbor:",toarray"`
	Statistics Statistics
	Proof      *Proof
}
