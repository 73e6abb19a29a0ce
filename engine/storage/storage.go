// Package storage defines the persistence contract of the process engine.
//
// Backends store opaque, versioned records. The UnitOfWork layered on top
// tracks typed entities, applies attach-and-modify updates and commits
// every change of an operation atomically with optimistic concurrency
// checks.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/micromdm/nanoprocess/process"
)

var (
	ErrRecordNotFound  = fmt.Errorf("record %w", process.ErrNotFound)
	ErrRecordExists    = fmt.Errorf("record already exists: %w", process.ErrConflict)
	ErrVersionMismatch = fmt.Errorf("version mismatch: %w", process.ErrConflict)

	ErrEmptyKindOrID = errors.New("empty kind or id")
	ErrNilRecord     = errors.New("nil record")
)

// Record is a stored, versioned value.
type Record struct {
	Kind string
	ID   string

	// Parent is the id of the owning entity, if any.
	// Backends index on it.
	Parent string

	// Status is a kind-specific value backends index on.
	Status string

	// Version is regenerated on every write.
	Version string

	Data []byte
}

// Validate checks r for required fields.
func (r *Record) Validate() error {
	if r == nil {
		return ErrNilRecord
	}
	if r.Kind == "" || r.ID == "" {
		return ErrEmptyKindOrID
	}
	if r.Version == "" {
		return fmt.Errorf("empty version for %s %s", r.Kind, r.ID)
	}
	return nil
}

// Write is one record change within a commit.
type Write struct {
	Record *Record

	// Create requires that the record does not yet exist.
	Create bool

	// ExpectedVersion must match the stored version for updates.
	ExpectedVersion string
}

// Validate checks w for required fields.
func (w *Write) Validate() error {
	if w == nil {
		return errors.New("nil write")
	}
	if err := w.Record.Validate(); err != nil {
		return err
	}
	if !w.Create && w.ExpectedVersion == "" {
		return fmt.Errorf("update of %s %s without expected version", w.Record.Kind, w.Record.ID)
	}
	return nil
}

// RecordStorage is the storage backend contract.
type RecordStorage interface {
	// RetrieveRecord retrieves the record of kind with id.
	// ErrRecordNotFound is returned (wrapped) if it does not exist.
	RetrieveRecord(ctx context.Context, kind, id string) (*Record, error)

	// RetrieveRecordsByParent retrieves the records of kind whose
	// parent is parent, ordered by id.
	RetrieveRecordsByParent(ctx context.Context, kind, parent string) ([]*Record, error)

	// RetrieveRecordsByStatus retrieves the records of kind whose
	// status is status, ordered by id.
	RetrieveRecordsByStatus(ctx context.Context, kind, status string) ([]*Record, error)

	// CommitRecords applies all of writes or none of them.
	// A create of an existing record fails with ErrRecordExists.
	// An update fails with ErrRecordNotFound if the record does not exist
	// and with ErrVersionMismatch if its stored version differs from the
	// write's expected version.
	CommitRecords(ctx context.Context, writes []*Write) error
}

// ValidateWrites validates each write and rejects writes to the same
// record more than once.
func ValidateWrites(writes []*Write) error {
	seen := make(map[string]bool)
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
		k := w.Record.Kind + "." + w.Record.ID
		if seen[k] {
			return fmt.Errorf("duplicate write of %s %s", w.Record.Kind, w.Record.ID)
		}
		seen[k] = true
	}
	return nil
}

// Entity is a typed value that is stored as a record.
type Entity interface {
	EntityKind() string
	EntityID() string
	EntityParent() string
	EntityStatus() string
	EntityVersion() string
	SetEntityVersion(version string)
}
