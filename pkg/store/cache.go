package store

import (
	"encoding/json"

	"github.com/fieldops/fieldsync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// The entity cache is deliberately dumb: it knows nothing about pending
// mutations or merge semantics. Every write is a full replace of the
// named collection, never a partial patch, so records the server
// deleted are never silently kept.

// ReplaceCollection overwrites the global collection name with records.
func (s *Store) ReplaceCollection(name string, records []types.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCollections)
		data, err := json.Marshal(records)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

// Collection returns the cached global collection, or an empty slice if
// it has never been fetched. Missing collections are not an error.
func (s *Store) Collection(name string) ([]types.Record, error) {
	return s.readCollection(bucketCollections, name)
}

// ReplaceScoped overwrites the parent-scoped collection, e.g. the risks
// assigned to one activity.
func (s *Store) ReplaceScoped(name, scopeKey string, records []types.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScoped)
		data, err := json.Marshal(records)
		if err != nil {
			return err
		}
		return b.Put(scopedKey(name, scopeKey), data)
	})
}

// Scoped returns the cached parent-scoped collection, or an empty slice.
func (s *Store) Scoped(name, scopeKey string) ([]types.Record, error) {
	var records []types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketScoped).Get(scopedKey(name, scopeKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &records)
	})
	if records == nil {
		records = []types.Record{}
	}
	return records, err
}

// ReplaceForScope routes to the global or scoped collection based on the
// scope's parent.
func (s *Store) ReplaceForScope(scope types.Scope, records []types.Record) error {
	if scope.ParentID == "" {
		return s.ReplaceCollection(scope.Kind, records)
	}
	return s.ReplaceScoped(scope.Kind, scope.ParentID, records)
}

// ForScope reads the cached collection for scope.
func (s *Store) ForScope(scope types.Scope) ([]types.Record, error) {
	if scope.ParentID == "" {
		return s.Collection(scope.Kind)
	}
	return s.Scoped(scope.Kind, scope.ParentID)
}

func (s *Store) readCollection(bucket []byte, key string) ([]types.Record, error) {
	var records []types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &records)
	})
	if records == nil {
		records = []types.Record{}
	}
	return records, err
}

// scopedKey namespaces a collection by its parent so two activities'
// collections can never bleed into each other. The NUL separator cannot
// appear in either part.
func scopedKey(name, scopeKey string) []byte {
	return []byte(name + "\x00" + scopeKey)
}
