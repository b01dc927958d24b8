package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/sutehoge/catapult-server/internal/types"
)

var (
	bucketBlocks = []byte("blocks")

	errNoBlocksBucket = errors.New("blocks bucket not found")
)

// BlockElement is the stored digest of one block.
type BlockElement struct {
	_              struct{} `cbor:",toarray"`
	Height         types.Height
	EntityHash     types.Hash
	GenerationHash types.Hash
}

// Store is a bbolt backed index of block hashes by height. The host chain
// appends to it; the finalization core only reads.
type Store struct {
	db *bbolt.DB
}

func New(file string) (*Store, error) {
	db, err := bbolt.Open(file, 0600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open block database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlocks)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing block database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func heightKey(height types.Height) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(height))
}

// Put stores element; heights are expected to be appended in order.
func (s *Store) Put(element *BlockElement) error {
	data, err := cbor.Marshal(element)
	if err != nil {
		return fmt.Errorf("serializing block element: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b == nil {
			return errNoBlocksBucket
		}
		return b.Put(heightKey(element.Height), data)
	})
}

// ChainHeight is the height of the highest stored block, zero when empty.
func (s *Store) ChainHeight() (height types.Height, _ error) {
	return height, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b == nil {
			return errNoBlocksBucket
		}
		if k, _ := b.Cursor().Last(); k != nil {
			height = types.Height(binary.BigEndian.Uint64(k))
		}
		return nil
	})
}

// LoadBlockElement loads the element stored at height.
func (s *Store) LoadBlockElement(height types.Height) (*BlockElement, error) {
	element := &BlockElement{}
	return element, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b == nil {
			return errNoBlocksBucket
		}
		data := b.Get(heightKey(height))
		if data == nil {
			return fmt.Errorf("no block at height %d", height)
		}
		return cbor.Unmarshal(data, element)
	})
}

// LoadHashesFrom returns up to numHashes entity hashes of consecutive blocks
// starting at height; the range ends early at the first missing height.
func (s *Store) LoadHashesFrom(height types.Height, numHashes uint64) (hashes []types.Hash, _ error) {
	return hashes, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b == nil {
			return errNoBlocksBucket
		}
		for i := uint64(0); i < numHashes; i++ {
			data := b.Get(heightKey(height + types.Height(i)))
			if data == nil {
				return nil
			}
			element := &BlockElement{}
			if err := cbor.Unmarshal(data, element); err != nil {
				return fmt.Errorf("deserializing block at height %d: %w", height+types.Height(i), err)
			}
			hashes = append(hashes, element.EntityHash)
		}
		return nil
	})
}
