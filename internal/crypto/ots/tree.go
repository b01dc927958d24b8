package ots

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	seedSize  = ed25519.SeedSize
	entrySize = seedSize + ed25519.SignatureSize

	keyIdentifierSize = 2 * 8
	optionsSize       = 8 + 2*keyIdentifierSize
	treeHeaderSize    = optionsSize + keyIdentifierSize
	levelHeaderSize   = ed25519.PublicKeySize + 8 + 8

	invalidBatchID = ^uint64(0)
)

var (
	ErrExhaustedKey = errors.New("sign called with expired key identifier")
	ErrOutOfRange   = errors.New("key identifier out of tree range")
)

// Storage is the durable backing of a tree. Keys are wiped from storage as
// they are consumed, so a stolen storage file cannot re-sign old steps.
type Storage interface {
	io.Reader
	io.Writer
	io.Seeker
}

type signedSeed struct {
	seed      [seedSize]byte
	signature Signature
}

// level holds the signed private keys for one tree layer, ordered by
// descending identifier (index 0 holds endID).
type level struct {
	parentPublicKey PublicKey
	startID         uint64
	endID           uint64
	entries         []signedSeed
}

// Tree is a two level one time signature tree. Signing consumes keys in
// strictly increasing identifier order and erases consumed key material from
// memory and storage.
type Tree struct {
	storage Storage
	options Options

	top    *level
	low    *level
	lastID KeyIdentifier
}

func publicKeyOf(seed []byte) (pub PublicKey) {
	copy(pub[:], ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey))
	return pub
}

func signWithSeed(seed []byte, data []byte) (sig Signature) {
	copy(sig[:], ed25519.Sign(ed25519.NewKeyFromSeed(seed), data))
	return sig
}

func boundBuffer(publicKey PublicKey, identifier uint64) []byte {
	buf := make([]byte, 0, ed25519.PublicKeySize+8)
	buf = append(buf, publicKey[:]...)
	return binary.LittleEndian.AppendUint64(buf, identifier)
}

func newRandomLevel(parentSeed []byte, startID, endID uint64) (*level, error) {
	lvl := &level{
		parentPublicKey: publicKeyOf(parentSeed),
		startID:         startID,
		endID:           endID,
		entries:         make([]signedSeed, 0, endID-startID+1),
	}
	for i := uint64(0); i <= endID-startID; i++ {
		identifier := endID - i
		var entry signedSeed
		if _, err := rand.Read(entry.seed[:]); err != nil {
			return nil, fmt.Errorf("generating one time key: %w", err)
		}
		entry.signature = signWithSeed(parentSeed, boundBuffer(publicKeyOf(entry.seed[:]), identifier))
		lvl.entries = append(lvl.entries, entry)
	}
	return lvl, nil
}

func (l *level) size() int {
	return levelHeaderSize + int(l.endID-l.startID+1)*entrySize
}

func (l *level) publicKeySignature(identifier uint64) ParentPublicKeySignaturePair {
	return ParentPublicKeySignaturePair{
		ParentPublicKey: l.parentPublicKey,
		Signature:       l.entries[l.endID-identifier].signature,
	}
}

// wipeUntil removes key material for all identifiers below identifier.
func (l *level) wipeUntil(identifier uint64) {
	index := l.endID - identifier
	for uint64(len(l.entries)) > index+1 {
		l.entries[len(l.entries)-1] = signedSeed{}
		l.entries = l.entries[:len(l.entries)-1]
	}
}

func (l *level) detachSeed(identifier uint64) []byte {
	index := l.endID - identifier
	seed := make([]byte, seedSize)
	copy(seed, l.entries[index].seed[:])
	l.entries[index].seed = [seedSize]byte{}
	return seed
}

func (l *level) write(w io.Writer) error {
	if _, err := w.Write(l.parentPublicKey[:]); err != nil {
		return err
	}
	var header [16]byte
	binary.LittleEndian.PutUint64(header[:8], l.startID)
	binary.LittleEndian.PutUint64(header[8:], l.endID)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	for i := range l.entries {
		if _, err := w.Write(l.entries[i].seed[:]); err != nil {
			return err
		}
		if _, err := w.Write(l.entries[i].signature[:]); err != nil {
			return err
		}
	}
	return nil
}

func readLevel(r io.Reader) (*level, error) {
	lvl := &level{}
	if _, err := io.ReadFull(r, lvl.parentPublicKey[:]); err != nil {
		return nil, fmt.Errorf("reading level public key: %w", err)
	}
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading level bounds: %w", err)
	}
	lvl.startID = binary.LittleEndian.Uint64(header[:8])
	lvl.endID = binary.LittleEndian.Uint64(header[8:])
	for i := uint64(0); i <= lvl.endID-lvl.startID; i++ {
		var entry signedSeed
		if _, err := io.ReadFull(r, entry.seed[:]); err != nil {
			return nil, fmt.Errorf("reading one time key %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, entry.signature[:]); err != nil {
			return nil, fmt.Errorf("reading one time key signature %d: %w", i, err)
		}
		lvl.entries = append(lvl.entries, entry)
	}
	return lvl, nil
}

func writeKeyIdentifier(w io.Writer, id KeyIdentifier) error {
	var buf [keyIdentifierSize]byte
	binary.LittleEndian.PutUint64(buf[:8], id.BatchID)
	binary.LittleEndian.PutUint64(buf[8:], id.KeyID)
	_, err := w.Write(buf[:])
	return err
}

func readKeyIdentifier(r io.Reader) (id KeyIdentifier, err error) {
	var buf [keyIdentifierSize]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return id, err
	}
	id.BatchID = binary.LittleEndian.Uint64(buf[:8])
	id.KeyID = binary.LittleEndian.Uint64(buf[8:])
	return id, nil
}

// Create builds a new tree from rootSeed covering the key identifier range in
// options and writes it to storage.
func Create(rootSeed []byte, storage Storage, options Options) (*Tree, error) {
	if 0 == options.Dilution {
		return nil, errors.New("dilution must be positive")
	}
	if len(rootSeed) != seedSize {
		return nil, fmt.Errorf("root seed must be %d bytes, got %d", seedSize, len(rootSeed))
	}

	tree := &Tree{storage: storage, options: options, lastID: KeyIdentifier{BatchID: invalidBatchID}}
	top, err := newRandomLevel(rootSeed, options.Start.BatchID, options.End.BatchID)
	if err != nil {
		return nil, err
	}
	tree.top = top

	if err := tree.writeHeader(); err != nil {
		return nil, fmt.Errorf("writing tree header: %w", err)
	}
	if err := tree.writeLevel(tree.top, tree.topOffset()); err != nil {
		return nil, fmt.Errorf("writing top level: %w", err)
	}
	return tree, nil
}

// FromStorage loads a previously persisted tree.
func FromStorage(storage Storage) (*Tree, error) {
	if _, err := storage.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	tree := &Tree{storage: storage}
	var buf [8]byte
	if _, err := io.ReadFull(storage, buf[:]); err != nil {
		return nil, fmt.Errorf("reading dilution: %w", err)
	}
	tree.options.Dilution = binary.LittleEndian.Uint64(buf[:])
	var err error
	if tree.options.Start, err = readKeyIdentifier(storage); err != nil {
		return nil, fmt.Errorf("reading start identifier: %w", err)
	}
	if tree.options.End, err = readKeyIdentifier(storage); err != nil {
		return nil, fmt.Errorf("reading end identifier: %w", err)
	}
	if tree.lastID, err = readKeyIdentifier(storage); err != nil {
		return nil, fmt.Errorf("reading last used identifier: %w", err)
	}
	if tree.top, err = readLevel(storage); err != nil {
		return nil, fmt.Errorf("loading top level: %w", err)
	}

	// if any key was consumed before saving, the low level for the active
	// batch follows; consumed entries hold zeroed seeds
	if invalidBatchID != tree.lastID.BatchID {
		tree.top.wipeUntil(tree.lastID.BatchID)
		if tree.low, err = readLevel(storage); err != nil {
			return nil, fmt.Errorf("loading low level: %w", err)
		}
		tree.low.wipeUntil(tree.lastID.KeyID)
	}
	return tree, nil
}

func (t *Tree) RootPublicKey() PublicKey {
	return t.top.parentPublicKey
}

func (t *Tree) Options() Options {
	return t.options
}

// CanSign returns true if the key for keyIdentifier is still available.
func (t *Tree) CanSign(keyIdentifier KeyIdentifier) bool {
	if invalidBatchID != t.lastID.BatchID && !t.lastID.Less(keyIdentifier) {
		return false
	}
	if keyIdentifier.Less(t.options.Start) || t.options.End.Less(keyIdentifier) {
		return false
	}
	return keyIdentifier.KeyID < t.options.Dilution
}

// Sign signs data with the one time key at keyIdentifier, wiping all key
// material at or before it.
func (t *Tree) Sign(keyIdentifier KeyIdentifier, data []byte) (TreeSignature, error) {
	if !t.CanSign(keyIdentifier) {
		return TreeSignature{}, fmt.Errorf("%w: %s (last used %s)", ErrExhaustedKey, keyIdentifier, t.lastID)
	}

	if t.lastID.BatchID != keyIdentifier.BatchID {
		endKeyID := t.options.Dilution - 1
		if t.options.End.BatchID == keyIdentifier.BatchID {
			endKeyID = t.options.End.KeyID
		}
		batchSeed, err := t.detachSeed(t.top, t.topOffset(), keyIdentifier.BatchID)
		if err != nil {
			return TreeSignature{}, err
		}
		low, err := newRandomLevel(batchSeed, keyIdentifier.KeyID, endKeyID)
		if err != nil {
			return TreeSignature{}, err
		}
		t.low = low
		if err := t.writeLevel(t.low, t.lowOffset()); err != nil {
			return TreeSignature{}, fmt.Errorf("writing low level: %w", err)
		}
	}

	messageSeed, err := t.detachSeed(t.low, t.lowOffset(), keyIdentifier.KeyID)
	if err != nil {
		return TreeSignature{}, err
	}

	t.lastID = keyIdentifier
	if _, err := t.storage.Seek(optionsSize, io.SeekStart); err != nil {
		return TreeSignature{}, err
	}
	if err := writeKeyIdentifier(t.storage, t.lastID); err != nil {
		return TreeSignature{}, fmt.Errorf("persisting last used identifier: %w", err)
	}

	return TreeSignature{
		Root:   t.top.publicKeySignature(keyIdentifier.BatchID),
		Top:    t.low.publicKeySignature(keyIdentifier.KeyID),
		Bottom: ParentPublicKeySignaturePair{
			ParentPublicKey: publicKeyOf(messageSeed),
			Signature:       signWithSeed(messageSeed, data),
		},
	}, nil
}

func (t *Tree) topOffset() int64 {
	return treeHeaderSize
}

func (t *Tree) lowOffset() int64 {
	return treeHeaderSize + int64(t.top.size())
}

func (t *Tree) writeHeader() error {
	if _, err := t.storage.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], t.options.Dilution)
	if _, err := t.storage.Write(buf[:]); err != nil {
		return err
	}
	if err := writeKeyIdentifier(t.storage, t.options.Start); err != nil {
		return err
	}
	if err := writeKeyIdentifier(t.storage, t.options.End); err != nil {
		return err
	}
	return writeKeyIdentifier(t.storage, t.lastID)
}

func (t *Tree) writeLevel(lvl *level, offset int64) error {
	if _, err := t.storage.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return lvl.write(t.storage)
}

// detachSeed extracts the private seed for identifier from lvl and wipes it,
// and everything consumed before it, from memory and storage.
func (t *Tree) detachSeed(lvl *level, levelOffset int64, identifier uint64) ([]byte, error) {
	index := lvl.endID - identifier
	zero := make([]byte, seedSize)
	for i := index; i < uint64(len(lvl.entries)); i++ {
		offset := levelOffset + levelHeaderSize + int64(i)*entrySize
		if _, err := t.storage.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := t.storage.Write(zero); err != nil {
			return nil, fmt.Errorf("wiping one time key: %w", err)
		}
	}

	seed := lvl.detachSeed(identifier)
	lvl.wipeUntil(identifier)
	return seed, nil
}

// Verify checks a tree signature chain for keyIdentifier over data.
func Verify(signature TreeSignature, keyIdentifier KeyIdentifier, data []byte) bool {
	if !verifyBound(signature.Root, signature.Top.ParentPublicKey, keyIdentifier.BatchID) {
		return false
	}
	if !verifyBound(signature.Top, signature.Bottom.ParentPublicKey, keyIdentifier.KeyID) {
		return false
	}
	return ed25519.Verify(signature.Bottom.ParentPublicKey[:], data, signature.Bottom.Signature[:])
}

func verifyBound(pair ParentPublicKeySignaturePair, signedPublicKey PublicKey, boundary uint64) bool {
	return ed25519.Verify(pair.ParentPublicKey[:], boundBuffer(signedPublicKey, boundary), pair.Signature[:])
}
