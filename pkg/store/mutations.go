package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldops/fieldsync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Enqueue appends a mutation to the pending queue and returns its
// store-assigned id. The id is monotonic, so key order is FIFO order.
// A storage failure is returned to the caller verbatim: the write path
// must surface it rather than report optimistic success.
func (s *Store) Enqueue(kind string, payload types.Record) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq

		m := types.PendingMutation{
			ID:        id,
			Kind:      kind,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	return id, nil
}

// ListPending returns all not-yet-synced mutations in insertion order.
func (s *Store) ListPending() ([]*types.PendingMutation, error) {
	var pending []*types.PendingMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m types.PendingMutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			pending = append(pending, &m)
		}
		return nil
	})
	return pending, err
}

// ListSynced returns the archived mutations, keyed by their original
// pending id.
func (s *Store) ListSynced() ([]*types.SyncedMutation, error) {
	var synced []*types.SyncedMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSynced)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m types.SyncedMutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			synced = append(synced, &m)
		}
		return nil
	})
	return synced, err
}

// ListDead returns quarantined mutations.
func (s *Store) ListDead() ([]*types.DeadMutation, error) {
	var dead []*types.DeadMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDead)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m types.DeadMutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			dead = append(dead, &m)
		}
		return nil
	})
	return dead, err
}

// Archive moves a pending mutation to the synced archive. Both writes
// happen in one transaction, so a crash cannot leave the record in both
// places. Archiving an id that was already archived is a no-op, which
// makes replay idempotent by id.
func (s *Store) Archive(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPending)
		sb := tx.Bucket(bucketSynced)
		key := itob(id)

		data := pb.Get(key)
		if data == nil {
			if sb.Get(key) != nil {
				return nil // already archived
			}
			return fmt.Errorf("mutation %d: %w", id, ErrNotFound)
		}

		var m types.PendingMutation
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.Synced = true

		out, err := json.Marshal(&types.SyncedMutation{
			PendingMutation: m,
			SyncedAt:        time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := sb.Put(key, out); err != nil {
			return err
		}
		return pb.Delete(key)
	})
}

// Quarantine moves a pending mutation to the dead-letter bucket with the
// rejection reason. Like Archive it is a single transaction and a no-op
// for ids already quarantined.
func (s *Store) Quarantine(id uint64, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPending)
		db := tx.Bucket(bucketDead)
		key := itob(id)

		data := pb.Get(key)
		if data == nil {
			if db.Get(key) != nil {
				return nil
			}
			return fmt.Errorf("mutation %d: %w", id, ErrNotFound)
		}

		var m types.PendingMutation
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}

		out, err := json.Marshal(&types.DeadMutation{
			PendingMutation: m,
			Reason:          reason,
			DeadAt:          time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := db.Put(key, out); err != nil {
			return err
		}
		return pb.Delete(key)
	})
}

// Requeue moves a quarantined mutation back to the pending queue under a
// fresh id, preserving FIFO fairness against newer enqueues.
func (s *Store) Requeue(deadID uint64) (uint64, error) {
	var newID uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		db := tx.Bucket(bucketDead)
		pb := tx.Bucket(bucketPending)
		key := itob(deadID)

		data := db.Get(key)
		if data == nil {
			return fmt.Errorf("dead mutation %d: %w", deadID, ErrNotFound)
		}
		var m types.DeadMutation
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}

		seq, err := pb.NextSequence()
		if err != nil {
			return err
		}
		newID = seq

		requeued := m.PendingMutation
		requeued.ID = newID
		requeued.Attempts = 0
		requeued.LastError = ""
		out, err := json.Marshal(&requeued)
		if err != nil {
			return err
		}
		if err := pb.Put(itob(newID), out); err != nil {
			return err
		}
		return db.Delete(key)
	})
	return newID, err
}

// RecordAttempt increments the attempt counter and stores the last
// replay error for a pending mutation.
func (s *Store) RecordAttempt(id uint64, attemptErr error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		key := itob(id)

		data := b.Get(key)
		if data == nil {
			return nil // archived or quarantined by a concurrent pass
		}
		var m types.PendingMutation
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.Attempts++
		if attemptErr != nil {
			m.LastError = attemptErr.Error()
		}
		out, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

// RemapLocalID rewrites every pending payload field holding the local
// temporary id localID to the server-assigned serverID. Called by the
// replay engine after the server confirms the record, so queued
// mutations that reference an offline-created parent replay against the
// real id.
func (s *Store) RemapLocalID(localID, serverID string) error {
	if localID == "" || serverID == "" {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)

		// Writing while the cursor iterates is unsafe; collect first.
		updated := make(map[uint64][]byte)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m types.PendingMutation
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			changed := false
			for field, val := range m.Payload {
				if sv, ok := val.(string); ok && sv == localID {
					m.Payload[field] = serverID
					changed = true
				}
			}
			if !changed {
				continue
			}
			out, err := json.Marshal(&m)
			if err != nil {
				return err
			}
			updated[m.ID] = out
		}

		for id, out := range updated {
			if err := b.Put(itob(id), out); err != nil {
				return err
			}
		}
		return nil
	})
}
