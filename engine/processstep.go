package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/process"
)

// Trigger tells what started a step.
type Trigger int

const (
	// TriggerManual steps are completed by an operator or a callback.
	TriggerManual Trigger = iota
	// TriggerWorker steps are run by the Worker.
	TriggerWorker
)

func (t Trigger) String() string {
	if t == TriggerWorker {
		return "worker"
	}
	return "manual"
}

// ProcessStepData is a verified process step that is ready to be finalized.
type ProcessStepData struct {
	// CorrelationID is generated for every verification.
	CorrelationID string

	Trigger Trigger

	// Identity is empty for worker-triggered steps.
	Identity process.Identity

	Process *process.Process
	Step    *process.ProcessStep

	// Steps are all steps of the process at verification, oldest first.
	Steps []*process.ProcessStep

	// UnitOfWork collects the changes committed on finalization.
	UnitOfWork *storage.UnitOfWork
}

// PendingSteps returns the pending steps other than the verified step.
func (d *ProcessStepData) PendingSteps() (pending []*process.ProcessStep) {
	for _, s := range process.Pending(d.Steps) {
		if s.ID != d.Step.ID {
			pending = append(pending, s)
		}
	}
	return
}

// SkipProcessStepsExcept skips every pending step of the process other
// than the verified step and steps of types.
func (d *ProcessStepData) SkipProcessStepsExcept(ctx context.Context, types ...process.StepType) error {
	return skipPendingSteps(ctx, d.UnitOfWork, d.Process.ID, d.Step.ID, func(t process.StepType) bool {
		return !slices.Contains(types, t)
	})
}

func (d *ProcessStepData) skipStepTypes(ctx context.Context, types []process.StepType) error {
	if len(types) < 1 {
		return nil
	}
	return skipPendingSteps(ctx, d.UnitOfWork, d.Process.ID, d.Step.ID, func(t process.StepType) bool {
		return slices.Contains(types, t)
	})
}

func skipPendingSteps(ctx context.Context, u *storage.UnitOfWork, processID, exceptID string, skip func(process.StepType) bool) error {
	steps, err := storage.RetrieveByParent[process.ProcessStep](ctx, u, processID)
	if err != nil {
		return err
	}
	var mods []storage.StepModification
	for _, s := range process.Pending(steps) {
		if s.ID == exceptID || !skip(s.Type) {
			continue
		}
		mods = append(mods, storage.StepModification{
			ID: s.ID,
			Modify: func(s *process.ProcessStep) {
				s.Status = process.StepStatusSkipped
			},
		})
	}
	return u.AttachAndModifyProcessSteps(ctx, mods)
}

// SkipPendingSteps skips every pending step of process processID except
// steps of types.
func SkipPendingSteps(ctx context.Context, u *storage.UnitOfWork, processID string, except ...process.StepType) error {
	return skipPendingSteps(ctx, u, processID, "", func(t process.StepType) bool {
		return !slices.Contains(except, t)
	})
}

// SkipStepsOfTypes skips the pending steps of types in process processID.
func SkipStepsOfTypes(ctx context.Context, u *storage.UnitOfWork, processID string, types ...process.StepType) error {
	return skipPendingSteps(ctx, u, processID, "", func(t process.StepType) bool {
		return slices.Contains(types, t)
	})
}

// ScheduleSteps creates TODO steps of types in process p.
// No step is created for a type that already has a pending step.
func ScheduleSteps(ctx context.Context, u *storage.UnitOfWork, p *process.Process, types ...process.StepType) ([]*process.ProcessStep, error) {
	if len(types) < 1 {
		return nil, nil
	}
	steps, err := storage.RetrieveByParent[process.ProcessStep](ctx, u, p.ID)
	if err != nil {
		return nil, err
	}
	var specs []storage.StepSpec
	seen := make(map[process.StepType]bool)
	for _, t := range types {
		if err = process.ValidateStepType(p.Type, t); err != nil {
			return nil, err
		}
		if seen[t] || process.HasPending(steps, t) {
			continue
		}
		seen[t] = true
		specs = append(specs, storage.StepSpec{
			Type:      t,
			Status:    process.StepStatusTodo,
			ProcessID: p.ID,
		})
	}
	return u.CreateProcessStepRange(specs)
}

// attachProcess loads process id into u.
// The process's version becomes the version u commits against.
func attachProcess(ctx context.Context, u *storage.UnitOfWork, id string) (*process.Process, error) {
	p, err := u.AttachAndModifyProcess(ctx, id, nil, nil)
	if storage.IsNotFound(err) {
		return nil, process.NewNotFoundError("process %s does not exist", id)
	}
	return p, err
}

func (e *Engine) newProcessStepData(ctx context.Context, u *storage.UnitOfWork, trigger Trigger, identity process.Identity, p *process.Process, expected process.StepType, createIfMissing []process.StepType) (*ProcessStepData, error) {
	if err := process.ValidateStepType(p.Type, expected); err != nil {
		return nil, err
	}
	_, steps, err := u.RetrieveProcess(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("retrieving steps: %w", err)
	}
	var step *process.ProcessStep
	for _, s := range steps {
		if s.Type == expected && s.Status == process.StepStatusTodo {
			step = s
			break
		}
	}
	if step == nil {
		if !slices.Contains(createIfMissing, expected) {
			return nil, process.NewConflictError("process %s: step %s is not eligible to run", p.ID, expected)
		}
		created, err := u.CreateProcessStepRange([]storage.StepSpec{{
			Type:      expected,
			Status:    process.StepStatusTodo,
			ProcessID: p.ID,
		}})
		if err != nil {
			return nil, err
		}
		step = created[0]
		steps = append(steps, step)
	}
	return &ProcessStepData{
		CorrelationID: e.ider.ID(),
		Trigger:       trigger,
		Identity:      identity,
		Process:       p,
		Step:          step,
		Steps:         steps,
		UnitOfWork:    u,
	}, nil
}

// VerifyProcessStep checks that a step of type expectedStepType is TODO
// in process processID of type processType.
func (e *Engine) VerifyProcessStep(ctx context.Context, identity process.Identity, processID string, processType process.Type, expectedStepType process.StepType) (*ProcessStepData, error) {
	u := e.NewUnitOfWork()
	p, err := attachProcess(ctx, u, processID)
	if err != nil {
		return nil, err
	}
	if p.Type != processType {
		return nil, process.NewConflictError("process %s has type %s, expected %s", p.ID, p.Type, processType)
	}
	return e.newProcessStepData(ctx, u, TriggerManual, identity, p, expectedStepType, nil)
}

// finalize sets the verified step's status, schedules nextSteps and
// commits the data's unit of work.
func (d *ProcessStepData) finalize(ctx context.Context, status process.StepStatus, message string, nextSteps []process.StepType) error {
	version := d.Step.EntityVersion()
	var already process.StepStatus
	err := d.UnitOfWork.AttachAndModifyProcessSteps(ctx, []storage.StepModification{{
		ID: d.Step.ID,
		Initialize: func(s *process.ProcessStep) {
			s.SetEntityVersion(version)
		},
		Modify: func(s *process.ProcessStep) {
			if s.Status.Terminal() {
				already = s.Status
				return
			}
			s.Status = status
			s.Message = message
		},
	}})
	if err != nil {
		return err
	}
	if already != "" {
		return process.NewConflictError("step %s is already %s", d.Step.ID, already)
	}
	if _, err = ScheduleSteps(ctx, d.UnitOfWork, d.Process, nextSteps...); err != nil {
		return fmt.Errorf("scheduling steps: %w", err)
	}
	if err = d.UnitOfWork.SaveChanges(ctx); err != nil {
		return err
	}
	d.Step.Status = status
	d.Step.Message = message
	return nil
}

// FinalizeProcessStep marks the verified step DONE, schedules nextSteps
// and commits every change of the data's unit of work.
func (e *Engine) FinalizeProcessStep(ctx context.Context, data *ProcessStepData, nextSteps []process.StepType) error {
	return data.finalize(ctx, process.StepStatusDone, "", nextSteps)
}

// FailProcessStep marks the verified step FAILED with message and
// schedules its retrigger step, if it has one.
func (e *Engine) FailProcessStep(ctx context.Context, data *ProcessStepData, message string) error {
	var next []process.StepType
	if rt, ok := process.RetriggerOf(data.Step.Type); ok {
		next = append(next, rt)
	}
	return data.finalize(ctx, process.StepStatusFailed, message, next)
}

// IsVersionConflict returns true if err is caused by a concurrent change.
func IsVersionConflict(err error) bool {
	return errors.Is(err, storage.ErrVersionMismatch) || errors.Is(err, storage.ErrRecordExists)
}
