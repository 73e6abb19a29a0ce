// Package uuid provides identifier generation and test utilities.
package uuid

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDer generates identifiers.
// Identifiers are used for entity ids, version tokens and correlation ids.
type IDer interface {
	ID() string
}

// UUID is an ID generator utilizing a random (v4) UUID.
type UUID struct{}

// NewUUID creates a new UUID ID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// ID generates a new UUID ID.
func (u *UUID) ID() string {
	return uuid.NewString()
}

// StaticIDs is an ID generator that cycles through provided IDs.
type StaticIDs struct {
	mu  sync.Mutex
	ids []string
	i   int
}

// NewStaticIDs creates a new static ID generator.
func NewStaticIDs(ids ...string) *StaticIDs {
	return &StaticIDs{ids: ids}
}

// ID returns the next ID.
// It will continually cycle through the IDs.
func (s *StaticIDs) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}

// SequentialIDs generates predictable, never-repeating IDs.
// Handy for tests that need unique but readable identifiers.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a new sequential ID generator using prefix.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// ID returns the next ID, e.g. "prefix-1".
func (s *SequentialIDs) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
