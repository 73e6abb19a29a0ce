// Package test provides a backend-agnostic test suite for engine storage.
package test

import (
	"context"
	"errors"
	"testing"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/utils/uuid"
)

// TestRecordStorage runs the storage test suite against the backend
// returned by newStorage. Every test uses fresh identifiers so
// persistent backends can be re-used between runs.
func TestRecordStorage(t *testing.T, newStorage func() storage.RecordStorage) {
	s := newStorage()

	t.Run("testRecordCRUD", func(t *testing.T) {
		testRecordCRUD(t, s)
	})

	t.Run("testCommitAtomic", func(t *testing.T) {
		testCommitAtomic(t, s)
	})

	t.Run("testRecordIndexes", func(t *testing.T) {
		testRecordIndexes(t, s)
	})

	t.Run("testUnitOfWork", func(t *testing.T) {
		TestUnitOfWork(t, newStorage())
	})
}

func testRecordCRUD(t *testing.T, s storage.RecordStorage) {
	ctx := context.Background()
	ider := uuid.NewUUID()
	const kind = "test_record"
	id := ider.ID()

	_, err := s.RetrieveRecord(ctx, kind, id)
	if !errors.Is(err, storage.ErrRecordNotFound) {
		t.Fatalf("want: %v; have: %v", storage.ErrRecordNotFound, err)
	}
	if !errors.Is(err, process.ErrNotFound) {
		t.Error("record not found should be a not found error")
	}

	r := &storage.Record{Kind: kind, ID: id, Parent: "p", Status: "S", Version: ider.ID(), Data: []byte(`{"a":1}`)}
	if err = s.CommitRecords(ctx, []*storage.Write{{Record: r, Create: true}}); err != nil {
		t.Fatal(err)
	}

	have, err := s.RetrieveRecord(ctx, kind, id)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := r.Version, have.Version; want != have {
		t.Errorf("version: want: %s; have: %s", want, have)
	}
	if want, have := string(r.Data), string(have.Data); want != have {
		t.Errorf("data: want: %s; have: %s", want, have)
	}
	if want, have := r.Parent, have.Parent; want != have {
		t.Errorf("parent: want: %s; have: %s", want, have)
	}

	// duplicate create
	err = s.CommitRecords(ctx, []*storage.Write{{Record: r, Create: true}})
	if !errors.Is(err, storage.ErrRecordExists) {
		t.Errorf("want: %v; have: %v", storage.ErrRecordExists, err)
	}
	if !errors.Is(err, process.ErrConflict) {
		t.Error("duplicate create should be a conflict")
	}

	// update with the current version
	r2 := &storage.Record{Kind: kind, ID: id, Status: "T", Version: ider.ID(), Data: []byte(`{"a":2}`)}
	if err = s.CommitRecords(ctx, []*storage.Write{{Record: r2, ExpectedVersion: r.Version}}); err != nil {
		t.Fatal(err)
	}

	// update with the now stale version
	r3 := &storage.Record{Kind: kind, ID: id, Version: ider.ID(), Data: []byte(`{"a":3}`)}
	err = s.CommitRecords(ctx, []*storage.Write{{Record: r3, ExpectedVersion: r.Version}})
	if !errors.Is(err, storage.ErrVersionMismatch) {
		t.Errorf("want: %v; have: %v", storage.ErrVersionMismatch, err)
	}

	have, err = s.RetrieveRecord(ctx, kind, id)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := `{"a":2}`, string(have.Data); want != have {
		t.Errorf("data: want: %s; have: %s", want, have)
	}
	if want, have := "", have.Parent; want != have {
		t.Errorf("parent: want: %s; have: %s", want, have)
	}

	// update of a missing record
	r4 := &storage.Record{Kind: kind, ID: ider.ID(), Version: ider.ID(), Data: []byte(`{}`)}
	err = s.CommitRecords(ctx, []*storage.Write{{Record: r4, ExpectedVersion: "nope"}})
	if !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("want: %v; have: %v", storage.ErrRecordNotFound, err)
	}

	// invalid writes
	err = s.CommitRecords(ctx, []*storage.Write{{Record: &storage.Record{Kind: kind, Version: "v"}, Create: true}})
	if !errors.Is(err, storage.ErrEmptyKindOrID) {
		t.Errorf("want: %v; have: %v", storage.ErrEmptyKindOrID, err)
	}
}

func testCommitAtomic(t *testing.T, s storage.RecordStorage) {
	ctx := context.Background()
	ider := uuid.NewUUID()
	const kind = "test_atomic"

	existing := &storage.Record{Kind: kind, ID: ider.ID(), Version: ider.ID(), Data: []byte(`{}`)}
	if err := s.CommitRecords(ctx, []*storage.Write{{Record: existing, Create: true}}); err != nil {
		t.Fatal(err)
	}

	fresh := &storage.Record{Kind: kind, ID: ider.ID(), Version: ider.ID(), Data: []byte(`{}`)}
	stale := &storage.Record{Kind: kind, ID: existing.ID, Version: ider.ID(), Data: []byte(`{"changed":true}`)}
	err := s.CommitRecords(ctx, []*storage.Write{
		{Record: fresh, Create: true},
		{Record: stale, ExpectedVersion: "not-the-version"},
	})
	if !errors.Is(err, storage.ErrVersionMismatch) {
		t.Fatalf("want: %v; have: %v", storage.ErrVersionMismatch, err)
	}

	// the create in the failed batch must not have been applied
	if _, err = s.RetrieveRecord(ctx, kind, fresh.ID); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("want: %v; have: %v", storage.ErrRecordNotFound, err)
	}

	// writing the same record twice in one batch is invalid
	err = s.CommitRecords(ctx, []*storage.Write{
		{Record: fresh, Create: true},
		{Record: fresh, Create: true},
	})
	if err == nil {
		t.Error("expected error for duplicate writes")
	}
}

func testRecordIndexes(t *testing.T, s storage.RecordStorage) {
	ctx := context.Background()
	ider := uuid.NewUUID()
	const kind = "test_index"
	parent := ider.ID()
	status := "S-" + ider.ID()

	var writes []*storage.Write
	for _, r := range []*storage.Record{
		{Kind: kind, ID: "b-" + parent, Parent: parent, Status: status},
		{Kind: kind, ID: "a-" + parent, Parent: parent},
		{Kind: kind, ID: "c-" + parent, Status: status},
		{Kind: "test_other", ID: "d-" + parent, Parent: parent, Status: status},
	} {
		r.Version = ider.ID()
		r.Data = []byte(`{}`)
		writes = append(writes, &storage.Write{Record: r, Create: true})
	}
	if err := s.CommitRecords(ctx, writes); err != nil {
		t.Fatal(err)
	}

	byParent, err := s.RetrieveRecordsByParent(ctx, kind, parent)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 2, len(byParent); want != have {
		t.Fatalf("by parent: want: %d; have: %d", want, have)
	}
	if want, have := "a-"+parent, byParent[0].ID; want != have {
		t.Errorf("by parent order: want: %s; have: %s", want, have)
	}

	byStatus, err := s.RetrieveRecordsByStatus(ctx, kind, status)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 2, len(byStatus); want != have {
		t.Fatalf("by status: want: %d; have: %d", want, have)
	}
	if want, have := "b-"+parent, byStatus[0].ID; want != have {
		t.Errorf("by status order: want: %s; have: %s", want, have)
	}
}
