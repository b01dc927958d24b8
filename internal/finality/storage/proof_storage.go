package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	fp "github.com/sutehoge/catapult-server/internal/network/protocol/finalization"
	"github.com/sutehoge/catapult-server/internal/types"
)

var (
	bucketHeights  = []byte("heights")
	bucketMetadata = []byte("metadata")

	keyStatistics = []byte("statistics")

	errNoHeightsBucket  = errors.New("heights bucket not found")
	errNoMetadataBucket = errors.New("metadata bucket not found")
)

const (
	proofFileExtension = ".proof"
	epochsPerDirectory = 100
)

// ProofStorage persists finalization proofs.
type ProofStorage interface {
	// Statistics describe the most recently saved proof.
	Statistics() (fp.Statistics, error)

	// LoadProofAtEpoch loads the proof saved for epoch.
	LoadProofAtEpoch(epoch types.FinalizationEpoch) (*fp.Proof, error)

	// LoadProofAtHeight loads the most recent proof at or below height, nil
	// when no proof covers a height that low.
	LoadProofAtHeight(height types.Height) (*fp.Proof, error)

	// SaveProof persists proof and advances the statistics.
	SaveProof(proof *fp.Proof) error

	Close() error
}

// FileProofStorage keeps proof payloads as flat files under zero padded
// epoch group directories and the statistics plus epoch to height index in a
// bbolt database.
type FileProofStorage struct {
	dataDirectory string
	db            *bbolt.DB
}

func NewFileProofStorage(dataDirectory string) (*FileProofStorage, error) {
	if err := os.MkdirAll(dataDirectory, 0700); err != nil {
		return nil, fmt.Errorf("creating proof storage directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dataDirectory, "proof.index.db"), 0600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open proof index database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketHeights); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMetadata)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing proof index database: %w", err)
	}
	return &FileProofStorage{dataDirectory: dataDirectory, db: db}, nil
}

func (s *FileProofStorage) Close() error {
	return s.db.Close()
}

func (s *FileProofStorage) Statistics() (statistics fp.Statistics, _ error) {
	return statistics, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if b == nil {
			return errNoMetadataBucket
		}
		data := b.Get(keyStatistics)
		if data == nil {
			return nil
		}
		return cbor.Unmarshal(data, &statistics)
	})
}

func (s *FileProofStorage) proofFilename(epoch types.FinalizationEpoch) string {
	group := fmt.Sprintf("%05d", uint32(epoch)/epochsPerDirectory)
	return filepath.Join(s.dataDirectory, group, fmt.Sprintf("%08d%s", uint32(epoch), proofFileExtension))
}

func (s *FileProofStorage) readProofFile(epoch types.FinalizationEpoch) (*fp.Proof, error) {
	data, err := os.ReadFile(s.proofFilename(epoch))
	if err != nil {
		return nil, fmt.Errorf("reading proof for epoch %d: %w", epoch, err)
	}
	proof := &fp.Proof{}
	if err := cbor.Unmarshal(data, proof); err != nil {
		return nil, fmt.Errorf("deserializing proof for epoch %d: %w", epoch, err)
	}
	return proof, nil
}

func (s *FileProofStorage) LoadProofAtEpoch(epoch types.FinalizationEpoch) (*fp.Proof, error) {
	if 0 == epoch {
		return nil, errors.New("loadProof called with epoch 0")
	}

	statistics, err := s.Statistics()
	if err != nil {
		return nil, err
	}
	if statistics.Round.Epoch < epoch {
		return nil, fmt.Errorf("cannot load proof with epoch %d when storage epoch is %d", epoch, statistics.Round.Epoch)
	}
	return s.readProofFile(epoch)
}

func (s *FileProofStorage) LoadProofAtHeight(height types.Height) (*fp.Proof, error) {
	if 0 == height {
		return nil, errors.New("loadProof called with height 0")
	}

	statistics, err := s.Statistics()
	if err != nil {
		return nil, err
	}
	if statistics.Height < height {
		return nil, fmt.Errorf("cannot load proof with height %d when storage height is %d", height, statistics.Height)
	}

	epoch, err := s.findEpochForHeight(height)
	if err != nil {
		return nil, err
	}
	if 0 == epoch {
		return nil, nil
	}
	return s.readProofFile(epoch)
}

// findEpochForHeight finds the epoch of the most recent proof whose height is
// at or below height, zero when every proof is above it.
func (s *FileProofStorage) findEpochForHeight(height types.Height) (epoch types.FinalizationEpoch, _ error) {
	return epoch, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHeights)
		if b == nil {
			return errNoHeightsBucket
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if types.Height(binary.BigEndian.Uint64(v)) <= height {
				epoch = types.FinalizationEpoch(binary.BigEndian.Uint32(k))
				return nil
			}
		}
		return nil
	})
}

func (s *FileProofStorage) SaveProof(proof *fp.Proof) error {
	statistics, err := s.Statistics()
	if err != nil {
		return err
	}

	if !statistics.Round.Less(proof.Round) {
		return fmt.Errorf("cannot save proof with round %s when storage round is %s", proof.Round, statistics.Round)
	}
	if uint32(proof.Round.Epoch) > uint32(statistics.Round.Epoch)+1 {
		return fmt.Errorf("cannot save proof with epoch %d when storage epoch is %d", proof.Round.Epoch, statistics.Round.Epoch)
	}
	if statistics.Height > proof.Height {
		return fmt.Errorf("cannot save proof with height %d when storage height is %d", proof.Height, statistics.Height)
	}

	data, err := cbor.Marshal(proof)
	if err != nil {
		return fmt.Errorf("serializing proof: %w", err)
	}
	filename := s.proofFilename(proof.Round.Epoch)
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("creating proof group directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("writing proof file: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHeights)
		if b == nil {
			return errNoHeightsBucket
		}
		epochKey := binary.BigEndian.AppendUint32(nil, uint32(proof.Round.Epoch))
		if err := b.Put(epochKey, binary.BigEndian.AppendUint64(nil, uint64(proof.Height))); err != nil {
			return fmt.Errorf("storing epoch height mapping: %w", err)
		}

		b = tx.Bucket(bucketMetadata)
		if b == nil {
			return errNoMetadataBucket
		}
		encoded, err := cbor.Marshal(proof.Statistics())
		if err != nil {
			return fmt.Errorf("serializing statistics: %w", err)
		}
		return b.Put(keyStatistics, encoded)
	})
}
