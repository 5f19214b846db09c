package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/nexd-io/nexd/pkg/errdefs"
	"github.com/nexd-io/nexd/pkg/types"
)

var (
	// Bucket names
	bucketNexuses = []byte("nexuses")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "nexd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNexuses); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketNexuses, err)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateNexus stores a nexus record keyed by name. Creating an existing
// name fails; the registry is responsible for uniqueness checks ahead of
// time and this is the backstop.
func (s *BoltStore) CreateNexus(record *types.NexusRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNexuses)
		if b.Get([]byte(record.Name)) != nil {
			return fmt.Errorf("nexus record %s: %w", record.Name, errdefs.ErrAlreadyExists)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.Name), data)
	})
}

func (s *BoltStore) GetNexus(name string) (*types.NexusRecord, error) {
	var record types.NexusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNexuses)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("nexus record %s: %w", name, errdefs.ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListNexus() ([]*types.NexusRecord, error) {
	var records []*types.NexusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNexuses)
		return b.ForEach(func(k, v []byte) error {
			var record types.NexusRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// UpdateNexus upserts a record (used when the child list changes).
func (s *BoltStore) UpdateNexus(record *types.NexusRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNexuses)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.Name), data)
	})
}

func (s *BoltStore) DeleteNexus(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNexuses)
		return b.Delete([]byte(name))
	})
}
