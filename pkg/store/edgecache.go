package store

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// CachedResponse is one stored HTTP response in the edge cache.
type CachedResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// QueuedWrite is one captured failed write awaiting background retry.
// It parallels PendingMutation but belongs to the request boundary, not
// the entity layer: the body is an opaque HTTP request.
type QueuedWrite struct {
	ID       uint64      `json:"id"`
	Method   string      `json:"method"`
	Path     string      `json:"path"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	QueuedAt time.Time   `json:"queuedAt"`
}

// PutResponse stores a response under the versioned cache key.
func (s *Store) PutResponse(version, path string, resp *CachedResponse) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResponses)
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return b.Put(responseKey(version, path), data)
	})
}

// GetResponse returns the cached response for path, or ErrNotFound.
func (s *Store) GetResponse(version, path string) (*CachedResponse, error) {
	var resp CachedResponse
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketResponses).Get(responseKey(version, path))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PurgeStaleResponses deletes every cached response written under a
// version other than keep. Called once at activation so superseded
// shell assets do not accumulate.
func (s *Store) PurgeStaleResponses(keep string) (int, error) {
	prefix := keep + "|"
	purged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResponses)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !strings.HasPrefix(string(k), prefix) {
				if err := c.Delete(); err != nil {
					return err
				}
				purged++
			}
		}
		return nil
	})
	return purged, err
}

// EnqueueWrite captures a failed write for background retry.
func (s *Store) EnqueueWrite(w *QueuedWrite) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWriteQueue)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		w.ID = id
		if w.QueuedAt.IsZero() {
			w.QueuedAt = time.Now().UTC()
		}
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	return id, err
}

// ListWrites returns captured writes in insertion order.
func (s *Store) ListWrites() ([]*QueuedWrite, error) {
	var writes []*QueuedWrite
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketWriteQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var w QueuedWrite
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			writes = append(writes, &w)
		}
		return nil
	})
	return writes, err
}

// DeleteWrite removes a captured write, after successful retry or when
// its retention window has lapsed.
func (s *Store) DeleteWrite(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWriteQueue).Delete(itob(id))
	})
}

func responseKey(version, path string) []byte {
	return []byte(version + "|" + path)
}
