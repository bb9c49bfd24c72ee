// Package store persists transcript entries in an embedded Badger database,
// keyed so one conversation thread lists back in creation order.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"go.parley.dev/parley/internal/types"
)

// entry is the stored record. It carries only durable fields; transient
// state like streaming lifecycle is reconstructed on replay.
type entry struct {
	ItemID    string                 `json:"item_id"`
	Role      types.Role             `json:"role"`
	Text      string                 `json:"text"`
	Language  string                 `json:"language,omitempty"`
	Guardrail *types.GuardrailResult `json:"guardrail,omitempty"`
	Order     int64                  `json:"order"`
	CreatedAt int64                  `json:"created_at"`
}

// Store is a thread-scoped transcript log over Badger.
type Store struct {
	db      *badger.DB
	nextOrd atomic.Int64
}

// Open opens (or creates) the database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}
	s := &Store{db: db}
	if err := s.loadOrder(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close transcript store: %w", err)
	}
	return nil
}

// Upsert writes the entry for itemID within the thread, replacing any prior
// text for the same item. The key encodes the identity, so repeated upserts
// for one item never duplicate.
func (s *Store) Upsert(ctx context.Context, threadID, itemID string, role types.Role, text string) error {
	if threadID == "" || itemID == "" {
		return fmt.Errorf("store: thread and item ids required")
	}

	key := entryKey(threadID, itemID)
	return s.db.Update(func(txn *badger.Txn) error {
		rec := entry{
			ItemID:    itemID,
			Role:      role,
			Text:      text,
			CreatedAt: time.Now().UnixMilli(),
		}

		// Keep the original ordering fields when the item already exists.
		switch item, err := txn.Get(key); {
		case err == nil:
			if verr := item.Value(func(val []byte) error {
				var prev entry
				if uerr := json.Unmarshal(val, &prev); uerr != nil {
					return uerr
				}
				rec.Order = prev.Order
				rec.CreatedAt = prev.CreatedAt
				rec.Language = prev.Language
				rec.Guardrail = prev.Guardrail
				return nil
			}); verr != nil {
				slog.Warn("decode stored entry", "item", itemID, "error", verr)
			}
		case err == badger.ErrKeyNotFound:
			rec.Order = s.nextOrd.Add(1)
		default:
			return fmt.Errorf("read entry %s: %w", itemID, err)
		}

		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", itemID, err)
		}
		if err := txn.Set(key, val); err != nil {
			return fmt.Errorf("write entry %s: %w", itemID, err)
		}
		return nil
	})
}

// Create mints and persists a brand new completed entry, returning its item ID.
func (s *Store) Create(ctx context.Context, threadID string, role types.Role, text string) (string, error) {
	itemID := uuid.NewString()
	if err := s.Upsert(ctx, threadID, itemID, role, text); err != nil {
		return "", err
	}
	return itemID, nil
}

// List returns the thread's entries in creation order. Stored entries replay
// as already completed.
func (s *Store) List(ctx context.Context, threadID string) ([]types.TranscriptEntry, error) {
	var entries []types.TranscriptEntry

	prefix := threadPrefix(threadID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec entry
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				entries = append(entries, types.TranscriptEntry{
					ItemID:    rec.ItemID,
					Role:      rec.Role,
					Text:      rec.Text,
					Lifecycle: types.LifecycleDone,
					Language:  rec.Language,
					Guardrail: rec.Guardrail,
					Order:     rec.Order,
					CreatedAt: rec.CreatedAt,
				})
				return nil
			})
			if err != nil {
				slog.Warn("skip undecodable entry", "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list thread %s: %w", threadID, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })
	return entries, nil
}

// loadOrder seeds the order counter past every persisted entry.
func (s *Store) loadOrder() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		var max int64
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec entry
				if err := json.Unmarshal(val, &rec); err != nil {
					return nil // skip undecodable
				}
				if rec.Order > max {
					max = rec.Order
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		s.nextOrd.Store(max)
		return nil
	})
}

func entryKey(threadID, itemID string) []byte {
	return []byte("thread/" + threadID + "/item/" + itemID)
}

func threadPrefix(threadID string) []byte {
	return []byte("thread/" + threadID + "/item/")
}
