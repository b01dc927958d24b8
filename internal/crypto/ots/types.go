package ots

import (
	"crypto/ed25519"
	"fmt"
)

type (
	// PublicKey is an ed25519 public key.
	PublicKey [ed25519.PublicKeySize]byte

	// Signature is an ed25519 signature.
	Signature [ed25519.SignatureSize]byte
)

// KeyIdentifier locates a single one time key within the tree.
type KeyIdentifier struct {
	_       struct{} `cbor:",toarray"`
	BatchID uint64
	KeyID   uint64
}

func (k KeyIdentifier) Less(rhs KeyIdentifier) bool {
	if k.BatchID != rhs.BatchID {
		return k.BatchID < rhs.BatchID
	}
	return k.KeyID < rhs.KeyID
}

func (k KeyIdentifier) String() string {
	return fmt.Sprintf("(%d, %d)", k.BatchID, k.KeyID)
}

// Options describe the key identifier range a tree is created for.
type Options struct {
	Dilution uint64
	Start    KeyIdentifier
	End      KeyIdentifier
}

// ParentPublicKeySignaturePair is a public key together with the signature its
// owner made over the next lower level key.
type ParentPublicKeySignaturePair struct {
	_               struct{} `cbor:",toarray"`
	ParentPublicKey PublicKey
	Signature       Signature
}

// TreeSignature is a full one time signature: the root key certifies the batch
// key, the batch key certifies the message key and the message key signs the
// payload. Verifying the chain binds the payload to a single key identifier.
type TreeSignature struct {
	_      struct{} `cbor:",toarray"`
	Root   ParentPublicKeySignaturePair
	Top    ParentPublicKeySignaturePair
	Bottom ParentPublicKeySignaturePair
}
