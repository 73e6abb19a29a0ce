// Package test provides helpers for testing code built on the engine.
package test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/micromdm/nanoprocess/engine"
	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/engine/storage/inmem"
	"github.com/micromdm/nanoprocess/portal"
	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/utils/uuid"
)

// Clock is a time source that moves forward by a second on every read.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// NewEngine creates an engine on in-memory storage with sequential ids
// and a test clock.
func NewEngine(opts ...engine.Option) (*engine.Engine, *Clock) {
	clock := NewClock()
	opts = append([]engine.Option{
		engine.WithIDer(uuid.NewSequentialIDs("id")),
		engine.WithClock(clock.Now),
	}, opts...)
	return engine.New(inmem.New(), opts...), clock
}

// StepStatuses returns the sorted "TYPE:STATUS" pairs of the steps of
// process processID.
func StepStatuses(t *testing.T, e *engine.Engine, processID string) []string {
	t.Helper()
	snap, err := e.RetrieveProcess(context.Background(), processID)
	if err != nil {
		t.Fatal(err)
	}
	var ret []string
	for _, s := range snap.Steps {
		ret = append(ret, fmt.Sprintf("%s:%s", s.Type, s.Status))
	}
	sort.Strings(ret)
	return ret
}

// RunWorker runs a single pass of a worker for e.
func RunWorker(t *testing.T, e *engine.Engine, opts ...engine.WorkerOption) {
	t.Helper()
	if err := engine.NewWorker(e, opts...).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// SeedApplication stores company if it does not exist yet along with a
// submitted application, an active user with a pending invitation and
// the application's checklist with a checklist process holding TODO
// steps of types.
func SeedApplication(t *testing.T, e *engine.Engine, company *portal.Company, entries map[process.ChecklistEntryType]process.ChecklistEntryStatus, types ...process.StepType) *portal.CompanyApplication {
	t.Helper()
	ctx := context.Background()
	u := e.NewUnitOfWork()
	if _, err := storage.Retrieve[portal.Company](ctx, u, company.ID); storage.IsNotFound(err) {
		if err = u.Add(company); err != nil {
			t.Fatal(err)
		}
	} else if err != nil {
		t.Fatal(err)
	}
	app := &portal.CompanyApplication{
		ID:          u.NewID(),
		CompanyID:   company.ID,
		Status:      portal.ApplicationStatusSubmitted,
		Type:        portal.ApplicationTypeInternal,
		DateCreated: u.Now(),
	}
	p, err := u.CreateProcess(process.TypeApplicationChecklist, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	app.ChecklistProcessID = p.ID
	user := &portal.CompanyUser{
		ID:        u.NewID(),
		CompanyID: company.ID,
		Email:     "admin@example.com",
		Status:    portal.UserStatusActive,
	}
	for _, ent := range []storage.Entity{app, user, &portal.Invitation{
		ID:            u.NewID(),
		ApplicationID: app.ID,
		UserID:        user.ID,
		Status:        portal.InvitationStatusPending,
	}} {
		if err = u.Add(ent); err != nil {
			t.Fatal(err)
		}
	}
	if _, err = u.CreateChecklist(app.ID, entries); err != nil {
		t.Fatal(err)
	}
	if _, err = engine.ScheduleSteps(ctx, u, p, types...); err != nil {
		t.Fatal(err)
	}
	if err = u.SaveChanges(ctx); err != nil {
		t.Fatal(err)
	}
	return app
}

// Entry returns the checklist entry of type et of application appID.
func Entry(t *testing.T, e *engine.Engine, appID string, et process.ChecklistEntryType) *process.ChecklistEntry {
	t.Helper()
	entries, err := e.RetrieveChecklist(context.Background(), appID)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Type == et {
			return entry
		}
	}
	t.Fatalf("no checklist entry %s", et)
	return nil
}

// Retrieve returns the stored entity of type T with id.
func Retrieve[T any, P interface {
	*T
	storage.Entity
}](t *testing.T, e *engine.Engine, id string) P {
	t.Helper()
	v, err := storage.Retrieve[T, P](context.Background(), e.NewUnitOfWork(), id)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
