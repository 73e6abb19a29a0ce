package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"
)

// ChecklistProcessStepData is a verified application checklist step.
type ChecklistProcessStepData struct {
	*ProcessStepData

	ApplicationID string

	// Entry is the step's checklist entry at verification.
	Entry *process.ChecklistEntry

	// Checklist are the statuses of all entries of the application at
	// verification.
	Checklist map[process.ChecklistEntryType]process.ChecklistEntryStatus

	stepTypesToSkip []process.StepType
}

type verifyOptions struct {
	skip            []process.StepType
	createIfMissing []process.StepType
}

// VerifyOption configures checklist step verification.
type VerifyOption func(*verifyOptions)

// WithStepTypeToSkip skips the TODO steps of type t on finalization.
func WithStepTypeToSkip(t process.StepType) VerifyOption {
	return func(o *verifyOptions) {
		o.skip = append(o.skip, t)
	}
}

// WithStepTypesToCreateIfMissing creates the expected step if it is one
// of types and no TODO step of its type exists.
func WithStepTypesToCreateIfMissing(types ...process.StepType) VerifyOption {
	return func(o *verifyOptions) {
		o.createIfMissing = append(o.createIfMissing, types...)
	}
}

// workerEntryStatuses are the entry statuses automatic checklist steps run in.
var workerEntryStatuses = []process.ChecklistEntryStatus{
	process.EntryStatusToDo,
	process.EntryStatusInProgress,
}

// VerifyChecklistEntryAndProcessSteps checks that the checklist entry
// entryType of application applicationID has one of allowedStatuses and
// that a step of type expectedStepType is TODO in the application's
// checklist process.
func (e *Engine) VerifyChecklistEntryAndProcessSteps(ctx context.Context, identity process.Identity, applicationID string, entryType process.ChecklistEntryType, allowedStatuses []process.ChecklistEntryStatus, expectedStepType process.StepType, opts ...VerifyOption) (*ChecklistProcessStepData, error) {
	o := new(verifyOptions)
	for _, opt := range opts {
		opt(o)
	}
	u := e.NewUnitOfWork()
	app, err := storage.Retrieve[portal.CompanyApplication](ctx, u, applicationID)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("application %s does not exist", applicationID)
	} else if err != nil {
		return nil, err
	}
	if app.ChecklistProcessID == "" {
		return nil, process.NewNotFoundError("application %s has no checklist process", applicationID)
	}
	return e.verifyChecklist(ctx, u, TriggerManual, identity, app.ID, app.ChecklistProcessID, entryType, allowedStatuses, expectedStepType, o)
}

func (e *Engine) verifyChecklist(ctx context.Context, u *storage.UnitOfWork, trigger Trigger, identity process.Identity, applicationID, processID string, entryType process.ChecklistEntryType, allowedStatuses []process.ChecklistEntryStatus, expected process.StepType, o *verifyOptions) (*ChecklistProcessStepData, error) {
	p, err := attachProcess(ctx, u, processID)
	if err != nil {
		return nil, err
	}
	if p.Type != process.TypeApplicationChecklist {
		return nil, process.NewUnexpectedError("process %s of application %s has type %s", p.ID, applicationID, p.Type)
	}
	checklist, err := u.RetrieveChecklist(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("retrieving checklist: %w", err)
	}
	entry, ok := checklist[entryType]
	if !ok {
		return nil, process.NewNotFoundError("application %s has no checklist entry %s", applicationID, entryType)
	}
	if !slices.Contains(allowedStatuses, entry.Status) {
		return nil, process.NewConflictError("application %s checklist entry %s, status is not in %v", applicationID, entryType, allowedStatuses)
	}
	data, err := e.newProcessStepData(ctx, u, trigger, identity, p, expected, o.createIfMissing)
	if err != nil {
		return nil, err
	}
	statuses := make(map[process.ChecklistEntryType]process.ChecklistEntryStatus)
	for t, entry := range checklist {
		statuses[t] = entry.Status
	}
	return &ChecklistProcessStepData{
		ProcessStepData: data,
		ApplicationID:   applicationID,
		Entry:           entry,
		Checklist:       statuses,
		stepTypesToSkip: o.skip,
	}, nil
}

// FinalizeChecklistEntryAndProcessSteps applies initializeEntry and
// modifyEntry to the verified checklist entry, completes the verified
// step, skips configured steps and schedules nextSteps. Every change,
// including those made through the data's unit of work, is committed
// atomically.
//
// The step is marked FAILED with the entry's comment if the entry ends
// up FAILED, DONE otherwise.
func (e *Engine) FinalizeChecklistEntryAndProcessSteps(ctx context.Context, data *ChecklistProcessStepData, initializeEntry, modifyEntry func(*process.ChecklistEntry), nextSteps []process.StepType) error {
	status, message := process.StepStatusDone, ""
	if initializeEntry != nil || modifyEntry != nil {
		version := data.Entry.EntityVersion()
		entry, err := data.UnitOfWork.AttachAndModifyChecklistEntry(ctx, data.ApplicationID, data.Entry.Type, func(entry *process.ChecklistEntry) {
			entry.SetEntityVersion(version)
			if initializeEntry != nil {
				initializeEntry(entry)
			}
		}, modifyEntry)
		if err != nil {
			return err
		}
		if entry.Status == process.EntryStatusFailed {
			status, message = process.StepStatusFailed, entry.Comment
		}
	}
	if err := data.skipStepTypes(ctx, data.stepTypesToSkip); err != nil {
		return fmt.Errorf("skipping steps: %w", err)
	}
	return data.finalize(ctx, status, message, nextSteps)
}

// FailChecklistEntryAndProcessStep marks the verified checklist entry
// and step FAILED with message and schedules the step's retrigger step.
func (e *Engine) FailChecklistEntryAndProcessStep(ctx context.Context, data *ChecklistProcessStepData, message string) error {
	var next []process.StepType
	if rt, ok := process.RetriggerOf(data.Step.Type); ok {
		next = append(next, rt)
	}
	return e.FinalizeChecklistEntryAndProcessSteps(ctx, data, nil, func(entry *process.ChecklistEntry) {
		entry.Status = process.EntryStatusFailed
		entry.Comment = message
	}, next)
}
