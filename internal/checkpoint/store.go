// Package checkpoint persists trainer and scheduler state between runs in a
// bbolt file.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/thyrook/trainkit/internal/schedule"
)

const (
	// BucketName holds one record per saved epoch
	BucketName = "checkpoints"

	// MetaBucket holds bookkeeping keys
	MetaBucket = "meta"

	// LatestKey points at the most recently saved epoch
	LatestKey = "latest"
)

// ErrNotFound is returned when no checkpoint matches
var ErrNotFound = errors.New("checkpoint not found")

// Record is the state saved at the end of an epoch
type Record struct {
	Epoch         int            `json:"epoch"`
	Scheduler     schedule.State `json:"scheduler"`
	Loss          float64        `json:"loss"`
	LearningRates []float64      `json:"learning_rates"`
	SavedAt       time.Time      `json:"saved_at"`

	// Early-stopping progress. BestValLoss is nil until a validation loss
	// has been seen; Stopped marks a run that ended on patience.
	BestValLoss *float64 `json:"best_val_loss,omitempty"`
	BadEpochs   int      `json:"bad_epochs"`
	Stopped     bool     `json:"stopped"`
}

// Store manages checkpoint records in a bbolt database
type Store struct {
	db   *bbolt.DB
	path string
	mu   sync.RWMutex
}

// Open creates or opens the checkpoint database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketName)); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MetaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save stores rec under its epoch and marks it as the latest checkpoint
func (s *Store) Save(rec Record) error {
	if rec.Epoch < 0 {
		return fmt.Errorf("invalid checkpoint epoch: %d", rec.Epoch)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("store is closed")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		key := epochKey(rec.Epoch)
		if err := b.Put(key, value); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		return meta.Put([]byte(LatestKey), key)
	})
}

// Latest returns the most recently saved record
func (s *Store) Latest() (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("store is closed")
	}

	var rec *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(MetaBucket)).Get([]byte(LatestKey))
		if key == nil {
			return ErrNotFound
		}
		var err error
		rec, err = get(tx, key)
		return err
	})
	return rec, err
}

// Get returns the record saved for epoch
func (s *Store) Get(epoch int) (*Record, error) {
	if epoch < 0 {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("store is closed")
	}

	var rec *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = get(tx, epochKey(epoch))
		return err
	})
	return rec, err
}

// List returns all records in epoch order
func (s *Store) List() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("store is closed")
	}

	var records []*Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketName)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal checkpoint %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

func get(tx *bbolt.Tx, key []byte) (*Record, error) {
	b := tx.Bucket([]byte(BucketName))
	if b == nil {
		return nil, fmt.Errorf("bucket not found")
	}
	v := b.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}

	var rec Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &rec, nil
}

// epochKey encodes epoch big-endian so cursor order is epoch order
func epochKey(epoch int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(epoch))
	return key
}
