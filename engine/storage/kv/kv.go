// Package kv implements a process engine storage backend using a key-value interface.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/micromdm/nanoprocess/engine/storage"

	"github.com/micromdm/nanolib/storage/kv"
)

// KV is a process engine storage backend using a key-value interface.
// Commits are serialized with a mutex; this backend is only suitable
// for a single engine instance.
type KV struct {
	mu      sync.RWMutex
	records kv.KeysPrefixTraversingBucket
}

// New creates a new key-value process engine storage backend.
func New(records kv.KeysPrefixTraversingBucket) *KV {
	return &KV{records: records}
}

// envelope is the stored form of a record.
type envelope struct {
	Parent  string `json:"parent,omitempty"`
	Status  string `json:"status,omitempty"`
	Version string `json:"version"`
	Data    []byte `json:"data"`
}

func recordKey(kind, id string) string {
	return kind + "." + id
}

func (s *KV) get(ctx context.Context, kind, id string) (*storage.Record, error) {
	raw, err := s.records.Get(ctx, recordKey(kind, id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrRecordNotFound, kind, id)
	} else if err != nil {
		return nil, fmt.Errorf("getting %s %s: %w", kind, id, err)
	}
	env := new(envelope)
	if err = json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("unmarshal %s %s: %w", kind, id, err)
	}
	return &storage.Record{
		Kind:    kind,
		ID:      id,
		Parent:  env.Parent,
		Status:  env.Status,
		Version: env.Version,
		Data:    env.Data,
	}, nil
}

// RetrieveRecord implements the storage interface method.
func (s *KV) RetrieveRecord(ctx context.Context, kind, id string) (*storage.Record, error) {
	if kind == "" || id == "" {
		return nil, storage.ErrEmptyKindOrID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, kind, id)
}

// retrieveMatching scans every record of kind.
func (s *KV) retrieveMatching(ctx context.Context, kind string, match func(*storage.Record) bool) ([]*storage.Record, error) {
	if kind == "" {
		return nil, storage.ErrEmptyKindOrID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := kind + "."
	keys := kv.AllKeysPrefix(ctx, s.records, prefix)
	sort.Strings(keys)
	var ret []*storage.Record
	for _, k := range keys {
		r, err := s.get(ctx, kind, k[len(prefix):])
		if err != nil {
			return nil, err
		}
		if match(r) {
			ret = append(ret, r)
		}
	}
	return ret, nil
}

// RetrieveRecordsByParent implements the storage interface method.
func (s *KV) RetrieveRecordsByParent(ctx context.Context, kind, parent string) ([]*storage.Record, error) {
	return s.retrieveMatching(ctx, kind, func(r *storage.Record) bool { return r.Parent == parent })
}

// RetrieveRecordsByStatus implements the storage interface method.
func (s *KV) RetrieveRecordsByStatus(ctx context.Context, kind, status string) ([]*storage.Record, error) {
	return s.retrieveMatching(ctx, kind, func(r *storage.Record) bool { return r.Status == status })
}

// CommitRecords implements the storage interface method.
// Every write is checked before any is applied.
func (s *KV) CommitRecords(ctx context.Context, writes []*storage.Write) error {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[string][]byte)
	for _, w := range writes {
		r := w.Record
		found, err := s.records.Has(ctx, recordKey(r.Kind, r.ID))
		if err != nil {
			return fmt.Errorf("checking %s %s: %w", r.Kind, r.ID, err)
		}
		if w.Create && found {
			return fmt.Errorf("%w: %s %s", storage.ErrRecordExists, r.Kind, r.ID)
		} else if !w.Create {
			if !found {
				return fmt.Errorf("%w: %s %s", storage.ErrRecordNotFound, r.Kind, r.ID)
			}
			stored, err := s.get(ctx, r.Kind, r.ID)
			if err != nil {
				return err
			}
			if stored.Version != w.ExpectedVersion {
				return fmt.Errorf("%w: %s %s", storage.ErrVersionMismatch, r.Kind, r.ID)
			}
		}
		values[recordKey(r.Kind, r.ID)], err = json.Marshal(&envelope{
			Parent:  r.Parent,
			Status:  r.Status,
			Version: r.Version,
			Data:    r.Data,
		})
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", r.Kind, r.ID, err)
		}
	}
	return kv.SetMap(ctx, s.records, values)
}
