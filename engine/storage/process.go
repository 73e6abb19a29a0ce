package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/micromdm/nanoprocess/process"
)

// CreateProcess tracks a new process of type t owned by ownerID.
func (u *UnitOfWork) CreateProcess(t process.Type, ownerID string) (*process.Process, error) {
	if !t.Valid() {
		return nil, process.NewUnexpectedError("invalid process type: %s", t)
	}
	p := &process.Process{
		ID:      u.NewID(),
		Type:    t,
		OwnerID: ownerID,
	}
	return p, u.Add(p)
}

// StepSpec describes a process step to create.
type StepSpec struct {
	Type      process.StepType
	Status    process.StepStatus
	ProcessID string
}

// CreateProcessStepRange tracks new steps for each of specs.
// Steps created together share the same creation date.
func (u *UnitOfWork) CreateProcessStepRange(specs []StepSpec) ([]*process.ProcessStep, error) {
	now := u.Now()
	steps := make([]*process.ProcessStep, 0, len(specs))
	for _, spec := range specs {
		step := &process.ProcessStep{
			ID:              u.NewID(),
			Type:            spec.Type,
			Status:          spec.Status,
			ProcessID:       spec.ProcessID,
			DateCreated:     now,
			DateLastChanged: now,
		}
		if err := step.Validate(); err != nil {
			return nil, err
		}
		if err := u.Add(step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// StepModification is an attach-and-modify of a single step.
type StepModification struct {
	ID         string
	Initialize func(*process.ProcessStep)
	Modify     func(*process.ProcessStep)
}

// AttachAndModifyProcessSteps applies each of mods.
func (u *UnitOfWork) AttachAndModifyProcessSteps(ctx context.Context, mods []StepModification) error {
	for _, mod := range mods {
		modify := mod.Modify
		_, err := AttachAndModify(ctx, u, mod.ID, mod.Initialize, func(s *process.ProcessStep) {
			if modify != nil {
				modify(s)
			}
			s.DateLastChanged = u.Now()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// AttachAndModifyProcess attaches and modifies the process with id.
func (u *UnitOfWork) AttachAndModifyProcess(ctx context.Context, id string, initialize, modify func(*process.Process)) (*process.Process, error) {
	return AttachAndModify(ctx, u, id, initialize, modify)
}

// RetrieveProcess returns the process with id and its steps, oldest first.
func (u *UnitOfWork) RetrieveProcess(ctx context.Context, id string) (*process.Process, []*process.ProcessStep, error) {
	p, err := Retrieve[process.Process](ctx, u, id)
	if err != nil {
		return nil, nil, err
	}
	steps, err := RetrieveByParent[process.ProcessStep](ctx, u, id)
	if err != nil {
		return p, nil, err
	}
	process.SortSteps(steps)
	return p, steps, nil
}

// CreateChecklist tracks new checklist entries for applicationID.
func (u *UnitOfWork) CreateChecklist(applicationID string, statuses map[process.ChecklistEntryType]process.ChecklistEntryStatus) ([]*process.ChecklistEntry, error) {
	var entries []*process.ChecklistEntry
	for _, t := range process.ChecklistEntryTypes {
		status, ok := statuses[t]
		if !ok {
			continue
		}
		if !status.Valid() {
			return nil, process.NewUnexpectedError("invalid checklist entry status: %s", status)
		}
		entry := &process.ChecklistEntry{
			ApplicationID:   applicationID,
			Type:            t,
			Status:          status,
			DateLastChanged: u.Now(),
		}
		if err := u.Add(entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if len(entries) != len(statuses) {
		return nil, process.NewUnexpectedError("checklist contains unknown entry types")
	}
	return entries, nil
}

// RetrieveChecklist returns the checklist entries of applicationID by type.
func (u *UnitOfWork) RetrieveChecklist(ctx context.Context, applicationID string) (map[process.ChecklistEntryType]*process.ChecklistEntry, error) {
	entries, err := RetrieveByParent[process.ChecklistEntry](ctx, u, applicationID)
	if err != nil {
		return nil, err
	}
	checklist := make(map[process.ChecklistEntryType]*process.ChecklistEntry)
	for _, entry := range entries {
		checklist[entry.Type] = entry
	}
	return checklist, nil
}

// AttachAndModifyChecklistEntry attaches and modifies the entry of type t
// of applicationID. The entry's status change is validated against the
// checklist entry state machine.
func (u *UnitOfWork) AttachAndModifyChecklistEntry(ctx context.Context, applicationID string, t process.ChecklistEntryType, initialize, modify func(*process.ChecklistEntry)) (*process.ChecklistEntry, error) {
	var from process.ChecklistEntryStatus
	entry, err := AttachAndModify(ctx, u, process.ChecklistEntryID(applicationID, t), func(e *process.ChecklistEntry) {
		if initialize != nil {
			initialize(e)
		}
	}, func(e *process.ChecklistEntry) {
		from = e.Status
		if modify != nil {
			modify(e)
		}
		e.DateLastChanged = u.Now()
	})
	if err != nil {
		return nil, err
	}
	if err = process.ValidateEntryTransition(from, entry.Status); err != nil {
		return nil, fmt.Errorf("checklist entry %s of application %s: %w", t, applicationID, err)
	}
	return entry, nil
}

// IsNotFound is a convenience for errors.Is(err, process.ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, process.ErrNotFound)
}
