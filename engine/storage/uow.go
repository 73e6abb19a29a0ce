package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/micromdm/nanoprocess/process"
	"github.com/micromdm/nanoprocess/utils/uuid"
)

var ErrEmptyEntityID = errors.New("entity has no id")

type tracked struct {
	entity Entity

	// expected is the stored version a commit must still find.
	// Empty for added entities.
	expected string

	added    bool
	modified bool
}

// UnitOfWork tracks the entities an operation creates or changes and
// commits them together.
// A UnitOfWork is not safe for concurrent use.
type UnitOfWork struct {
	store RecordStorage
	ider  uuid.IDer
	now   func() time.Time

	tracked map[string]*tracked
	order   []string
}

// UnitOfWorkOption configures a UnitOfWork.
type UnitOfWorkOption func(*UnitOfWork)

// WithIDer sets the generator for new ids and version tokens.
func WithIDer(ider uuid.IDer) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		u.ider = ider
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) UnitOfWorkOption {
	return func(u *UnitOfWork) {
		u.now = now
	}
}

// NewUnitOfWork creates a new, empty unit of work on top of store.
func NewUnitOfWork(store RecordStorage, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{
		store:   store,
		ider:    uuid.NewUUID(),
		now:     time.Now,
		tracked: make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// NewID generates a new entity id.
func (u *UnitOfWork) NewID() string {
	return u.ider.ID()
}

// Now returns the current time of the unit of work's clock.
func (u *UnitOfWork) Now() time.Time {
	return u.now()
}

// Pending returns true if there are uncommitted changes.
func (u *UnitOfWork) Pending() bool {
	for _, t := range u.tracked {
		if t.added || t.modified {
			return true
		}
	}
	return false
}

func trackKey(kind, id string) string {
	return kind + "." + id
}

func (u *UnitOfWork) track(e Entity, t *tracked) {
	k := trackKey(e.EntityKind(), e.EntityID())
	if _, ok := u.tracked[k]; !ok {
		u.order = append(u.order, k)
	}
	u.tracked[k] = t
}

// Add tracks a new entity to be created on commit.
func (u *UnitOfWork) Add(e Entity) error {
	if e.EntityID() == "" {
		return fmt.Errorf("adding %s: %w", e.EntityKind(), ErrEmptyEntityID)
	}
	if _, ok := u.tracked[trackKey(e.EntityKind(), e.EntityID())]; ok {
		return fmt.Errorf("adding %s %s: %w", e.EntityKind(), e.EntityID(), ErrRecordExists)
	}
	u.track(e, &tracked{entity: e, added: true})
	return nil
}

type entityPtr[T any] interface {
	*T
	Entity
}

func kindOf[T any, P entityPtr[T]]() string {
	var zero T
	return P(&zero).EntityKind()
}

func decode[T any, P entityPtr[T]](r *Record) (P, error) {
	p := P(new(T))
	if err := json.Unmarshal(r.Data, p); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", r.Kind, r.ID, err)
	}
	p.SetEntityVersion(r.Version)
	return p, nil
}

func trackedAs[T any, P entityPtr[T]](t *tracked) (P, error) {
	p, ok := t.entity.(P)
	if !ok {
		return nil, process.NewUnexpectedError("tracked %s %s has type %T", t.entity.EntityKind(), t.entity.EntityID(), t.entity)
	}
	return p, nil
}

// Retrieve returns the entity of type T with id.
// Tracked entities are returned with their pending changes.
// Callers must not modify the returned entity; use AttachAndModify.
func Retrieve[T any, P entityPtr[T]](ctx context.Context, u *UnitOfWork, id string) (P, error) {
	kind := kindOf[T, P]()
	if t, ok := u.tracked[trackKey(kind, id)]; ok {
		return trackedAs[T, P](t)
	}
	r, err := u.store.RetrieveRecord(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving %s %s: %w", kind, id, err)
	}
	return decode[T, P](r)
}

// RetrieveByParent returns the entities of type T owned by parent,
// including tracked entities not yet committed.
func RetrieveByParent[T any, P entityPtr[T]](ctx context.Context, u *UnitOfWork, parent string) ([]P, error) {
	kind := kindOf[T, P]()
	records, err := u.store.RetrieveRecordsByParent(ctx, kind, parent)
	if err != nil {
		return nil, fmt.Errorf("retrieving %s by parent %s: %w", kind, parent, err)
	}
	var ret []P
	seen := make(map[string]bool)
	for _, r := range records {
		seen[r.ID] = true
		if t, ok := u.tracked[trackKey(kind, r.ID)]; ok {
			p, err := trackedAs[T, P](t)
			if err != nil {
				return nil, err
			}
			if p.EntityParent() == parent {
				ret = append(ret, p)
			}
			continue
		}
		p, err := decode[T, P](r)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	for _, k := range u.order {
		t := u.tracked[k]
		if t.entity.EntityKind() != kind || seen[t.entity.EntityID()] || t.entity.EntityParent() != parent {
			continue
		}
		p, err := trackedAs[T, P](t)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// RetrieveByStatus returns the committed entities of type T with status.
func RetrieveByStatus[T any, P entityPtr[T]](ctx context.Context, u *UnitOfWork, status string) ([]P, error) {
	kind := kindOf[T, P]()
	records, err := u.store.RetrieveRecordsByStatus(ctx, kind, status)
	if err != nil {
		return nil, fmt.Errorf("retrieving %s by status %s: %w", kind, status, err)
	}
	ret := make([]P, 0, len(records))
	for _, r := range records {
		p, err := decode[T, P](r)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// AttachAndModify loads the entity of type T with id (or reuses it if it
// is already tracked), applies initialize and then modify, and tracks
// the result for commit.
//
// The version of the entity after initialize is the version the commit
// expects to still find in storage. Callers that know the version they
// last observed set it in initialize. initialize is not applied to an
// entity that already has pending changes.
func AttachAndModify[T any, P entityPtr[T]](ctx context.Context, u *UnitOfWork, id string, initialize, modify func(P)) (P, error) {
	kind := kindOf[T, P]()
	t, ok := u.tracked[trackKey(kind, id)]
	if !ok {
		r, err := u.store.RetrieveRecord(ctx, kind, id)
		if err != nil {
			return nil, fmt.Errorf("attaching %s %s: %w", kind, id, err)
		}
		p, err := decode[T, P](r)
		if err != nil {
			return nil, err
		}
		t = &tracked{entity: p, expected: r.Version}
		u.track(p, t)
	}
	p, err := trackedAs[T, P](t)
	if err != nil {
		return nil, err
	}
	if initialize != nil && !t.added && !t.modified {
		initialize(p)
		t.expected = p.EntityVersion()
	}
	if modify != nil {
		modify(p)
	}
	if p.EntityID() != id {
		return nil, process.NewUnexpectedError("%s %s changed its id", kind, id)
	}
	t.modified = true
	return p, nil
}

// touchProcesses re-versions the process of every changed step.
func (u *UnitOfWork) touchProcesses(ctx context.Context) error {
	var processIDs []string
	for _, k := range u.order {
		t := u.tracked[k]
		if t.entity.EntityKind() != process.KindProcessStep || !(t.added || t.modified) {
			continue
		}
		processIDs = append(processIDs, t.entity.EntityParent())
	}
	for _, id := range processIDs {
		if t, ok := u.tracked[trackKey(process.KindProcess, id)]; ok {
			t.modified = t.modified || !t.added
			continue
		}
		if _, err := AttachAndModify[process.Process](ctx, u, id, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// SaveChanges commits all tracked changes in one atomic write.
// New version tokens are assigned to every written entity. On failure
// nothing is written and the unit of work should be discarded.
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	if err := u.touchProcesses(ctx); err != nil {
		return fmt.Errorf("versioning processes: %w", err)
	}
	var writes []*Write
	versions := make(map[string]string)
	for _, k := range u.order {
		t := u.tracked[k]
		if !t.added && !t.modified {
			continue
		}
		data, err := json.Marshal(t.entity)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", t.entity.EntityKind(), t.entity.EntityID(), err)
		}
		versions[k] = u.ider.ID()
		writes = append(writes, &Write{
			Record: &Record{
				Kind:    t.entity.EntityKind(),
				ID:      t.entity.EntityID(),
				Parent:  t.entity.EntityParent(),
				Status:  t.entity.EntityStatus(),
				Version: versions[k],
				Data:    data,
			},
			Create:          t.added,
			ExpectedVersion: t.expected,
		})
	}
	if len(writes) < 1 {
		return nil
	}
	if err := u.store.CommitRecords(ctx, writes); err != nil {
		return fmt.Errorf("committing %d records: %w", len(writes), err)
	}
	for k, version := range versions {
		t := u.tracked[k]
		t.entity.SetEntityVersion(version)
		t.expected = version
		t.added = false
		t.modified = false
	}
	return nil
}
