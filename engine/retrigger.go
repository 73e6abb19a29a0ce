package engine

import (
	"context"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// Retrigger completes the TODO retrigger step of type t in process
// processID and schedules the step it resumes. For application
// checklist processes a FAILED checklist entry is reset to TO_DO.
func (e *Engine) Retrigger(ctx context.Context, identity process.Identity, processID string, t process.StepType) error {
	info, ok := t.Info()
	if !ok || info.Resumes == "" {
		return process.NewArgumentError("%s is not a retrigger step type", t)
	}
	u := e.NewUnitOfWork()
	p, err := attachProcess(ctx, u, processID)
	if err != nil {
		return err
	}
	if p.Type != info.Process {
		return process.NewConflictError("process %s has type %s, step type %s belongs to %s", p.ID, p.Type, t, info.Process)
	}
	data, err := e.newProcessStepData(ctx, u, TriggerManual, identity, p, t, nil)
	if err != nil {
		return err
	}
	if info.Entry != "" {
		_, err = u.AttachAndModifyChecklistEntry(ctx, p.OwnerID, info.Entry, nil, func(entry *process.ChecklistEntry) {
			if entry.Status == process.EntryStatusFailed {
				entry.Status = process.EntryStatusToDo
			}
		})
		if storage.IsNotFound(err) {
			return process.NewNotFoundError("application %s has no checklist entry %s", p.OwnerID, info.Entry)
		} else if err != nil {
			return err
		}
	}
	if err = data.finalize(ctx, process.StepStatusDone, "", []process.StepType{info.Resumes}); err != nil {
		return err
	}
	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "retriggered step",
		logkeys.ProcessID, p.ID,
		logkeys.StepType, info.Resumes,
		logkeys.CorrelationID, data.CorrelationID,
		logkeys.UserID, identity.UserID,
	)
	return nil
}
