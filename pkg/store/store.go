package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPending     = []byte("pending_mutations")
	bucketSynced      = []byte("synced_mutations")
	bucketDead        = []byte("dead_mutations")
	bucketCollections = []byte("entity_collections")
	bucketScoped      = []byte("entity_scoped")
	bucketResponses   = []byte("edge_responses")
	bucketWriteQueue  = []byte("edge_write_queue")
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the process-wide durable store: the mutation queue, the
// entity cache, and the edge response cache all live in one BoltDB
// file. Components receive the open handle by injection; they never
// open storage themselves.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "fieldsync.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPending,
			bucketSynced,
			bucketDead,
			bucketCollections,
			bucketScoped,
			bucketResponses,
			bucketWriteQueue,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// itob encodes a sequence id as a big-endian key so cursor order is
// insertion order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
