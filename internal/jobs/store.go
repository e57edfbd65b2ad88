package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for different record types
const (
	prefixJob   = "j:"  // j:<batchId> -> Record
	prefixEvent = "pe:" // pe:<reverseTimestamp> -> PublishEvent
)

// Errors
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobActive   = errors.New("job already active for batch")
)

// Record is the persisted view of a fulfilment job.
type Record struct {
	BatchID         string    `json:"batchId"`
	CorrelationID   string    `json:"correlationId"`
	Standard        Standard  `json:"standard"`
	Status          Status    `json:"status"`
	Stage           string    `json:"stage,omitempty"`
	Error           string    `json:"error,omitempty"`
	RequestedCount  int       `json:"requestedCount"`
	CellCount       int       `json:"cellCount"`
	UpToDateCount   int       `json:"upToDateCount"`
	ExcludedCount   int       `json:"excludedCount"`
	VolumeCount     int       `json:"volumeCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PublishEvent is one inbound product-published notification.
type PublishEvent struct {
	ID          string    `json:"id"`
	ProductName string    `json:"productName"`
	Time        time.Time `json:"time"`
}

// Store persists job records and publish events using BadgerDB.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) the job store at path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger logging
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a job record.
func (s *Store) Put(rec Record) error {
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixJob+rec.BatchID), data)
	})
}

// Claim writes a job record only if the batch has no non-terminal job. The
// existence check and the write share one transaction, so concurrent claims
// for the same batch cannot both succeed.
func (s *Store) Claim(rec Record) error {
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			key := []byte(prefixJob + rec.BatchID)

			item, err := txn.Get(key)
			if err == nil {
				var existing Record
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				}); err != nil {
					return err
				}
				if !existing.Status.Terminal() {
					return ErrJobActive
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}

			return txn.Set(key, data)
		})
		// A conflict means another claim committed first; re-reading then
		// reports that claim as active.
		if err == badger.ErrConflict {
			continue
		}
		return err
	}
}

// Get returns the record for a batch id.
func (s *Store) Get(batchID string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixJob + batchID))
		if err == badger.ErrKeyNotFound {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// Update applies mutate to the stored record under a single transaction.
func (s *Store) Update(batchID string, mutate func(*Record)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixJob + batchID)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		var rec Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}

		mutate(&rec)
		rec.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// SetStatus transitions a job's status.
func (s *Store) SetStatus(batchID string, status Status) error {
	return s.Update(batchID, func(rec *Record) {
		rec.Status = status
	})
}

// IsActive reports whether the batch has a job in a non-terminal state.
// Unknown batches are not active; the housekeeping sweep may reclaim them.
func (s *Store) IsActive(batchID string) bool {
	rec, err := s.Get(batchID)
	if err != nil {
		return false
	}
	return !rec.Status.Terminal()
}

// reverseTimestamp returns a string that sorts newest-first in lexicographic order.
func reverseTimestamp() string {
	return fmt.Sprintf("%019d", math.MaxInt64-time.Now().UnixNano())
}

// RecordPublishEvent persists an inbound product-published notification.
func (s *Store) RecordPublishEvent(productName string) error {
	ev := PublishEvent{
		ID:          reverseTimestamp(),
		ProductName: productName,
		Time:        time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixEvent+ev.ID), data)
	})
}

// ListPublishEvents returns up to limit events, newest first.
func (s *Store) ListPublishEvents(limit int) ([]PublishEvent, error) {
	var events []PublishEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEvent)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}
			var ev PublishEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}
