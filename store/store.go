// Package store provides PhaseInstance persistence backends implementing
// engine.Store: an in-process memory store, a Redis document store and a
// Postgres store with normalized rows.
//
// Every backend serializes Update calls per phase key, so the engine's
// load-mutate-save sequence runs inside one critical section. Creation of a
// missing instance happens inside that section through the engine's seed
// callback.
package store

import (
	"errors"
	"fmt"

	"github.com/mdawes/phasetrack/engine"
)

// ErrNotFound is wrapped into Load errors when no instance exists for a key.
// It carries the engine's not-found kind so callers can classify it without
// importing this package.
var ErrNotFound = engine.ErrNotFound

func notFoundErr(key engine.PhaseKey) error {
	return fmt.Errorf("phase %s: %w", key, ErrNotFound)
}

// IsNotFound reports whether err is a missing-instance error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
