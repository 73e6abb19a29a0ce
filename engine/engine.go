// Package engine implements the verification, finalization and
// dispatching of process steps.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/log/logkeys"
	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/utils/uuid"

	"github.com/micromdm/nanolib/log"
)

// Engine verifies and finalizes process steps.
// Step handlers registered with the engine are run by the Worker.
type Engine struct {
	handlersMu sync.RWMutex
	handlers   map[process.StepType]stepRunner

	storage storage.RecordStorage
	logger  log.Logger
	ider    uuid.IDer
	now     func() time.Time
	metrics *Metrics
}

// Options configure the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithIDer sets the generator of entity ids, version tokens and
// correlation ids.
func WithIDer(ider uuid.IDer) Option {
	return func(e *Engine) {
		e.ider = ider
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics turns on step metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates a new engine on top of storage.
func New(storage storage.RecordStorage, opts ...Option) *Engine {
	e := &Engine{
		handlers: make(map[process.StepType]stepRunner),
		storage:  storage,
		logger:   log.NopLogger,
		ider:     uuid.NewUUID(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewUnitOfWork creates a new unit of work sharing the engine's id
// generator and clock.
func (e *Engine) NewUnitOfWork() *storage.UnitOfWork {
	return storage.NewUnitOfWork(
		e.storage,
		storage.WithIDer(e.ider),
		storage.WithClock(e.now),
	)
}

// Now returns the current time of the engine's clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

// logAndError logs and wraps err with msg.
func logAndError(err error, logger log.Logger, msg string) error {
	logger.Info(
		logkeys.Message, msg,
		logkeys.Error, err,
	)
	return fmt.Errorf("%s: %w", msg, err)
}
