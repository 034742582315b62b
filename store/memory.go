package store

import (
	"context"
	"sync"
	"time"

	"github.com/mdawes/phasetrack/engine"
)

// Memory is an in-process store for tests and single-node deployments.
// Updates for one key are serialized by a per-key mutex held across the
// whole callback; the callback itself must not call back into the store for
// the same key.
type Memory struct {
	mu     sync.Mutex
	phases map[engine.PhaseKey]*entry
	now    func() time.Time
}

type entry struct {
	mu    sync.Mutex
	phase *engine.PhaseInstance
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		phases: make(map[engine.PhaseKey]*entry),
		now:    time.Now,
	}
}

// Update runs fn under the key's lock and persists the returned instance.
func (s *Memory) Update(ctx context.Context, key engine.PhaseKey, fn func(*engine.PhaseInstance) (*engine.PhaseInstance, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := s.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	var cur *engine.PhaseInstance
	if e.phase != nil {
		cur = e.phase.Clone()
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	next.UpdatedAt = s.now()
	next.Version++
	e.phase = next.Clone()
	return nil
}

// Load returns a deep copy of the stored instance.
func (s *Memory) Load(ctx context.Context, key engine.PhaseKey) (*engine.PhaseInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == nil {
		return nil, notFoundErr(key)
	}
	return e.phase.Clone(), nil
}

// Keys lists every key with a persisted instance.
func (s *Memory) Keys(ctx context.Context) ([]engine.PhaseKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]engine.PhaseKey, 0, len(s.phases))
	for key, e := range s.phases {
		e.mu.Lock()
		stored := e.phase != nil
		e.mu.Unlock()
		if stored {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *Memory) entryFor(key engine.PhaseKey) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.phases[key]
	if !ok {
		e = &entry{}
		s.phases[key] = e
	}
	return e
}
