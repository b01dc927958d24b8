package finalization

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"

	"github.com/sutehoge/catapult-server/internal/crypto/ots"
	"github.com/sutehoge/catapult-server/internal/types"
)

// CurrentVersion is the finalization message and proof wire version.
const CurrentVersion = 1

// message header accounting: version + step identifier + height + tree signature
const messageHeaderSize = 4 + (4 + 4 + 1) + 8 + 3*(32+64)

// Msg is a signed prevote or precommit. A prevote carries the hashes of
// consecutive heights starting at Height, a precommit exactly one hash.
type Msg struct {
	_              struct{} `cbor:",toarray"`
	Version        uint32
	StepIdentifier types.StepIdentifier
	Height         types.Height
	Signature      ots.TreeSignature
	Hashes         []types.Hash
}

func (m *Msg) IsPrevote() bool {
	return types.StagePrevote == m.StepIdentifier.Stage
}

func (m *Msg) HashesCount() int {
	return len(m.Hashes)
}

// Size is the accounting size of the message, used for response budgets.
func (m *Msg) Size() uint64 {
	return messageHeaderSize + uint64(len(m.Hashes))*32
}

// SigningBytes returns the verifiable part of the message, everything except
// the signature itself.
func (m *Msg) SigningBytes() ([]byte, error) {
	data, err := cbor.Marshal(&struct {
		_              struct{} `cbor:",toarray"`
		Version        uint32
		StepIdentifier types.StepIdentifier
		Height         types.Height
		Hashes         []types.Hash
	}{
		Version:        m.Version,
		StepIdentifier: m.StepIdentifier,
		Height:         m.Height,
		Hashes:         m.Hashes,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing message signing bytes: %w", err)
	}
	return data, nil
}

// Hash is the message content hash, excluding the signature so that a
// resubmission with the same content is recognized as redundant.
func (m *Msg) Hash() (types.Hash, error) {
	data, err := m.SigningBytes()
	if err != nil {
		return types.Hash{}, err
	}
	return types.Hash(sha3.Sum256(data)), nil
}

// VoterPublicKey is the root public key of the one time signature chain, the
// stable identity of the voter across the tree lifetime.
func (m *Msg) VoterPublicKey() ots.PublicKey {
	return m.Signature.Root.ParentPublicKey
}

// VerifySignature checks the one time signature against the key identifier
// derived from the step identifier.
func (m *Msg) VerifySignature(dilution uint64) bool {
	data, err := m.SigningBytes()
	if err != nil {
		return false
	}
	return ots.Verify(m.Signature, types.ToOtsKeyIdentifier(m.StepIdentifier, dilution), data)
}
