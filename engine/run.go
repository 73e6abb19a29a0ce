package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log"
)

type stepOutcome string

const (
	outcomeDone = stepOutcome("done")

	// the handler failed and the step was marked FAILED
	outcomeFailed = stepOutcome("failed")

	// a concurrent change left the step TODO
	outcomeRetry = stepOutcome("retry")

	// the step was no longer TODO
	outcomeIneligible = stepOutcome("ineligible")
)

func (h StepHandler) runStep(ctx context.Context, e *Engine, p *process.Process, step *process.ProcessStep) (string, error) {
	u := e.NewUnitOfWork()
	p, err := attachProcess(ctx, u, p.ID)
	if err != nil {
		return "", err
	}
	data, err := e.newProcessStepData(ctx, u, TriggerWorker, process.Identity{}, p, step.Type, nil)
	if err != nil {
		return "", err
	}
	result, err := h(ctx, data)
	if err == nil {
		if result == nil {
			result = new(StepResult)
		}
		err = e.FinalizeProcessStep(ctx, data, result.NextSteps)
		if err == nil || IsVersionConflict(err) {
			return result.Message, err
		}
	}
	return "", &handlerError{err: err}
}

func (h ChecklistStepHandler) runStep(ctx context.Context, e *Engine, p *process.Process, step *process.ProcessStep) (string, error) {
	info, _ := step.Type.Info()
	data, err := e.verifyChecklist(ctx, e.NewUnitOfWork(), TriggerWorker, process.Identity{}, p.OwnerID, p.ID, info.Entry, workerEntryStatuses, step.Type, new(verifyOptions))
	if err != nil {
		return "", err
	}
	result, err := h(ctx, data)
	if err == nil {
		if result == nil {
			result = new(ChecklistStepResult)
		}
		err = e.FinalizeChecklistEntryAndProcessSteps(ctx, data, result.InitializeEntry, result.ModifyEntry, result.NextSteps)
		if err == nil || IsVersionConflict(err) {
			return result.Message, err
		}
	}
	return "", &handlerError{err: err}
}

// handlerError marks errors of running or finalizing a step, as
// opposed to errors of verifying it.
type handlerError struct {
	err error
}

func (e *handlerError) Error() string { return e.err.Error() }

func (e *handlerError) Unwrap() error { return e.err }

// failStep marks step FAILED in a new unit of work, discarding any
// changes of the failed run. Conflict and unexpected errors fail the
// step without a retrigger step. Any other error also schedules the
// step's retrigger step and fails its checklist entry.
func (e *Engine) failStep(ctx context.Context, p *process.Process, step *process.ProcessStep, cause error) error {
	message := cause.Error()
	info, _ := step.Type.Info()
	recoverable := !errors.Is(cause, process.ErrConflict) && !errors.Is(cause, process.ErrUnexpected)
	if recoverable && info.Entry != "" {
		data, err := e.verifyChecklist(ctx, e.NewUnitOfWork(), TriggerWorker, process.Identity{}, p.OwnerID, p.ID, info.Entry, workerEntryStatuses, step.Type, new(verifyOptions))
		if err != nil {
			return err
		}
		return e.FailChecklistEntryAndProcessStep(ctx, data, message)
	}
	u := e.NewUnitOfWork()
	p, err := attachProcess(ctx, u, p.ID)
	if err != nil {
		return err
	}
	data, err := e.newProcessStepData(ctx, u, TriggerWorker, process.Identity{}, p, step.Type, nil)
	if err != nil {
		return err
	}
	if recoverable {
		return e.FailProcessStep(ctx, data, message)
	}
	return data.finalize(ctx, process.StepStatusFailed, message, nil)
}

// runStep runs the handler of step and finalizes or fails the step.
func (e *Engine) runStep(ctx context.Context, logger log.Logger, p *process.Process, step *process.ProcessStep) stepOutcome {
	logger = logger.With(
		logkeys.StepID, step.ID,
		logkeys.StepType, step.Type,
	)
	r := e.handler(step.Type)
	if r == nil {
		logger.Info(logkeys.Error, "no handler for step type")
		return outcomeIneligible
	}
	start := e.now()
	outcome := outcomeDone
	message, err := r.runStep(ctx, e, p, step)
	var herr *handlerError
	switch {
	case err == nil:
		logger.Debug(logkeys.Message, "step done", "process_message", message)
	case IsVersionConflict(err):
		outcome = outcomeRetry
		logger.Info(logkeys.Message, "step left for retry", logkeys.Error, err)
	case errors.As(err, &herr):
		outcome = outcomeFailed
		logger.Info(logkeys.Message, "step failed", logkeys.Error, herr.err)
		if err = e.failStep(ctx, p, step, herr.err); err != nil {
			outcome = outcomeRetry
			logger.Info(logkeys.Message, "marking step failed", logkeys.Error, err)
		}
	case errors.Is(err, process.ErrConflict), errors.Is(err, process.ErrNotFound), errors.Is(err, process.ErrUnexpected):
		// verification failed: the step or its entry moved on
		if ferr := e.failIneligible(ctx, p, step, err); ferr != nil {
			outcome = outcomeIneligible
			logger.Debug(logkeys.Message, "step not eligible", logkeys.Error, err)
		} else {
			outcome = outcomeFailed
			logger.Info(logkeys.Message, "step failed verification", logkeys.Error, err)
		}
	default:
		outcome = outcomeRetry
		logger.Info(logkeys.Message, "verifying step", logkeys.Error, err)
	}
	e.metrics.observeStep(step.Type, outcome, e.now().Sub(start))
	return outcome
}

// failIneligible marks step FAILED if it is still TODO but its checklist
// entry no longer allows it to run.
func (e *Engine) failIneligible(ctx context.Context, p *process.Process, step *process.ProcessStep, cause error) error {
	u := e.NewUnitOfWork()
	p, err := attachProcess(ctx, u, p.ID)
	if err != nil {
		return err
	}
	data, err := e.newProcessStepData(ctx, u, TriggerWorker, process.Identity{}, p, step.Type, nil)
	if err != nil {
		return err
	}
	return data.finalize(ctx, process.StepStatusFailed, fmt.Sprintf("step not eligible: %v", cause), nil)
}
