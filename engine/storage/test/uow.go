package test

import (
	"context"
	"errors"
	"testing"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/process"
)

// TestUnitOfWork tests attach-and-modify semantics on top of s.
func TestUnitOfWork(t *testing.T, s storage.RecordStorage) {
	ctx := context.Background()

	u := storage.NewUnitOfWork(s)
	p, err := u.CreateProcess(process.TypeApplicationChecklist, "app-"+u.NewID())
	if err != nil {
		t.Fatal(err)
	}
	steps, err := u.CreateProcessStepRange([]storage.StepSpec{
		{Type: process.StepVerifyRegistration, Status: process.StepStatusTodo, ProcessID: p.ID},
		{Type: process.StepCreateBusinessPartnerNumberManual, Status: process.StepStatusTodo, ProcessID: p.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = u.CreateChecklist(p.OwnerID, map[process.ChecklistEntryType]process.ChecklistEntryStatus{
		process.EntryRegistrationVerification: process.EntryStatusToDo,
		process.EntryBusinessPartnerNumber:    process.EntryStatusDone,
	}); err != nil {
		t.Fatal(err)
	}

	// uncommitted steps are visible through the unit of work
	_, pending, err := u.RetrieveProcess(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := 2, len(pending); want != have {
		t.Fatalf("uncommitted steps: want: %d; have: %d", want, have)
	}

	if err = u.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}
	if p.Version == "" {
		t.Fatal("process should have a version after commit")
	}
	if u.Pending() {
		t.Error("no changes should be pending after commit")
	}

	// reading back in a fresh unit of work
	u2 := storage.NewUnitOfWork(s)
	p2, steps2, err := u2.RetrieveProcess(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := p.Version, p2.Version; want != have {
		t.Errorf("process version: want: %s; have: %s", want, have)
	}
	if want, have := 2, len(steps2); want != have {
		t.Fatalf("steps: want: %d; have: %d", want, have)
	}
	checklist, err := u2.RetrieveChecklist(ctx, p.OwnerID)
	if err != nil {
		t.Fatal(err)
	}
	if want, have := process.EntryStatusDone, checklist[process.EntryBusinessPartnerNumber].Status; want != have {
		t.Errorf("entry status: want: %s; have: %s", want, have)
	}

	// two writers racing on the same step: the second loses
	u3 := storage.NewUnitOfWork(s)
	u4 := storage.NewUnitOfWork(s)
	for _, uow := range []*storage.UnitOfWork{u3, u4} {
		err = uow.AttachAndModifyProcessSteps(ctx, []storage.StepModification{{
			ID:     steps[0].ID,
			Modify: func(s *process.ProcessStep) { s.Status = process.StepStatusDone },
		}})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err = u3.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}
	err = u4.SaveChanges(ctx)
	if !errors.Is(err, process.ErrConflict) {
		t.Fatalf("want: %v; have: %v", process.ErrConflict, err)
	}

	// any step change moves the process version
	u5 := storage.NewUnitOfWork(s)
	p5, _, err := u5.RetrieveProcess(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p5.Version == p.Version {
		t.Error("process version should change when a step changes")
	}

	// a stale last-known process version is rejected
	u6 := storage.NewUnitOfWork(s)
	_, err = u6.AttachAndModifyProcess(ctx, p.ID, func(pr *process.Process) { pr.Version = p.Version }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = u6.SaveChanges(ctx); !errors.Is(err, storage.ErrVersionMismatch) {
		t.Errorf("want: %v; have: %v", storage.ErrVersionMismatch, err)
	}

	// checklist entries follow their state machine
	u7 := storage.NewUnitOfWork(s)
	_, err = u7.AttachAndModifyChecklistEntry(ctx, p.OwnerID, process.EntryBusinessPartnerNumber, nil, func(e *process.ChecklistEntry) {
		e.Status = process.EntryStatusToDo
	})
	if !errors.Is(err, process.ErrConflict) {
		t.Errorf("want: %v; have: %v", process.ErrConflict, err)
	}

	// missing entities
	u8 := storage.NewUnitOfWork(s)
	_, err = u8.AttachAndModifyProcess(ctx, "missing-"+u8.NewID(), nil, nil)
	if !errors.Is(err, process.ErrNotFound) {
		t.Errorf("want: %v; have: %v", process.ErrNotFound, err)
	}
}
