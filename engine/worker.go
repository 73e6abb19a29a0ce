package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/process"

	"github.com/micromdm/nanolib/log"
	"golang.org/x/time/rate"
)

const (
	DefaultDuration         = time.Second * 30
	DefaultLockDuration     = time.Minute * 5
	DefaultMaxStepsPerClaim = 20
)

// Worker polls storage on an interval for processes with automatic
// steps to run. A process is locked for the duration of a run so
// that concurrent workers do not run the same steps.
type Worker struct {
	engine *Engine
	logger log.Logger

	// duration is the interval at which the worker will wake up to
	// poll for steps to run.
	duration time.Duration

	// lockDuration is how long a claimed process stays locked.
	// Locks of crashed workers expire after this time.
	lockDuration time.Duration

	maxStepsPerClaim int

	limiter *rate.Limiter
}

type WorkerOption func(w *Worker)

func WithWorkerLogger(logger log.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithWorkerDuration configures the polling interval for the worker.
func WithWorkerDuration(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.duration = d
	}
}

// WithWorkerLockDuration configures how long a claimed process is locked.
func WithWorkerLockDuration(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockDuration = d
		}
	}
}

// WithWorkerMaxStepsPerClaim limits the steps run per claimed process.
func WithWorkerMaxStepsPerClaim(n int) WorkerOption {
	return func(w *Worker) {
		w.maxStepsPerClaim = n
	}
}

// WithWorkerRateLimit paces step handler invocations to r per second
// with bursts of burst.
func WithWorkerRateLimit(r float64, burst int) WorkerOption {
	return func(w *Worker) {
		w.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

func NewWorker(e *Engine, opts ...WorkerOption) *Worker {
	w := &Worker{
		engine:           e,
		logger:           log.NopLogger,
		duration:         DefaultDuration,
		lockDuration:     DefaultLockDuration,
		maxStepsPerClaim: DefaultMaxStepsPerClaim,
		limiter:          rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce runs the automatic steps of every process that has any.
func (w *Worker) RunOnce(ctx context.Context) error {
	ids, err := w.processesToRun(ctx)
	if err != nil {
		return logAndError(err, w.logger, "retrieving processes to run")
	}
	for _, id := range ids {
		if err = w.runProcess(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Info(
				logkeys.Message, "running process",
				logkeys.ProcessID, id,
				logkeys.Error, err,
			)
		}
	}
	return nil
}

// Run starts and runs the worker forever on an interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug(logkeys.Message, "starting worker", "duration", w.duration)

	ticker := time.NewTicker(w.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processesToRun returns the ids of processes with TODO automatic steps
// that have a handler, by oldest such step.
func (w *Worker) processesToRun(ctx context.Context) ([]string, error) {
	steps, err := storage.RetrieveByStatus[process.ProcessStep](ctx, w.engine.NewUnitOfWork(), string(process.StepStatusTodo))
	if err != nil {
		return nil, err
	}
	oldest := make(map[string]time.Time)
	for _, step := range steps {
		if !step.Type.Automatic() || !w.engine.StepHandlerRegistered(step.Type) {
			continue
		}
		if t, ok := oldest[step.ProcessID]; !ok || step.DateCreated.Before(t) {
			oldest[step.ProcessID] = step.DateCreated
		}
	}
	ids := make([]string, 0, len(oldest))
	for id := range oldest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if !oldest[ids[i]].Equal(oldest[ids[j]]) {
			return oldest[ids[i]].Before(oldest[ids[j]])
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// claim locks process id for the lock duration and returns the lock
// expiry. It returns the zero time if the process is locked by someone
// else or was changed concurrently.
func (w *Worker) claim(ctx context.Context, id string) (time.Time, error) {
	u := w.engine.NewUnitOfWork()
	now := w.engine.Now()
	expiry := now.Add(w.lockDuration)
	var locked bool
	_, err := u.AttachAndModifyProcess(ctx, id, nil, func(p *process.Process) {
		if p.Locked(now) {
			locked = true
			return
		}
		p.LockExpiryDate = expiry
	})
	if err == nil && !locked {
		err = u.SaveChanges(ctx)
		if errors.Is(err, process.ErrConflict) {
			locked, err = true, nil
		}
	}
	switch {
	case err != nil:
		w.engine.metrics.observeClaim("error")
		return time.Time{}, err
	case locked:
		w.engine.metrics.observeClaim("skipped")
		return time.Time{}, nil
	}
	w.engine.metrics.observeClaim("claimed")
	return expiry, nil
}

// release clears the lock of process id if it is still the lock
// expiring at expiry, retrying once on a concurrent change.
func (w *Worker) release(ctx context.Context, id string, expiry time.Time) error {
	for i := 0; i < 2; i++ {
		u := w.engine.NewUnitOfWork()
		var reclaimed bool
		_, err := u.AttachAndModifyProcess(ctx, id, nil, func(p *process.Process) {
			if !p.LockExpiryDate.Equal(expiry) {
				reclaimed = true
				return
			}
			p.LockExpiryDate = time.Time{}
		})
		if err != nil || reclaimed {
			return err
		}
		if err = u.SaveChanges(ctx); !errors.Is(err, process.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("process %s changed while releasing lock", id)
}

// nextStep returns the oldest TODO automatic step of steps that has a
// handler and is not in skip.
func (w *Worker) nextStep(steps []*process.ProcessStep, skip map[string]bool) *process.ProcessStep {
	for _, step := range steps {
		if step.Status != process.StepStatusTodo || skip[step.ID] {
			continue
		}
		if step.Type.Automatic() && w.engine.StepHandlerRegistered(step.Type) {
			return step
		}
	}
	return nil
}

func (w *Worker) runProcess(ctx context.Context, id string) error {
	logger := w.logger.With(logkeys.ProcessID, id)
	expiry, err := w.claim(ctx, id)
	if err != nil {
		return fmt.Errorf("claiming process: %w", err)
	}
	if expiry.IsZero() {
		logger.Debug(logkeys.Message, "process locked or changed, skipping")
		return nil
	}
	defer func() {
		if err := w.release(context.WithoutCancel(ctx), id, expiry); err != nil {
			logger.Info(logkeys.Message, "releasing process", logkeys.Error, err)
		}
	}()

	attempted := make(map[string]bool)
	for i := 0; i < w.maxStepsPerClaim; i++ {
		if !w.engine.Now().Before(expiry) {
			logger.Info(logkeys.Message, "process lock expired")
			break
		}
		p, steps, err := w.engine.NewUnitOfWork().RetrieveProcess(ctx, id)
		if err != nil {
			return fmt.Errorf("retrieving process: %w", err)
		}
		step := w.nextStep(steps, attempted)
		if step == nil {
			break
		}
		attempted[step.ID] = true
		if err = w.limiter.Wait(ctx); err != nil {
			return err
		}
		w.engine.runStep(ctx, logger.With(logkeys.ProcessType, p.Type), p, step)
	}
	return nil
}
