// Package handlers provides HTTP handlers for the phasetrack server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"context"

	"github.com/mdawes/phasetrack/catalog"
	"github.com/mdawes/phasetrack/engine"
)

// Engine is the slice of the engine manager the handlers drive.
type Engine interface {
	TransitionActivity(ctx context.Context, key engine.PhaseKey, activity string, target engine.ActivityState, actorID string, role catalog.Role, vctx *engine.ValidationContext) (*engine.TransitionResult, error)
	HandleEvent(ctx context.Context, key engine.PhaseKey, ev engine.Event) (*engine.EventResult, error)
	ResetActivityCascade(ctx context.Context, key engine.PhaseKey, activity, actorID string, role catalog.Role) (*engine.ResetResult, error)
	GetPhaseActivities(ctx context.Context, key engine.PhaseKey) (*engine.PhaseView, error)
	SetOverride(ctx context.Context, key engine.PhaseKey, stateOverride, statusOverride, reason, actorID string, role catalog.Role) error
	ClearOverride(ctx context.Context, key engine.PhaseKey, actorID string, role catalog.Role) error
}
