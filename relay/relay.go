// Package relay bridges NATS subjects into engine events. Upstream systems
// publish JSON messages on <prefix>.<kind> and the relay routes each one to
// the engine under the phase key carried in the message.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/mdawes/phasetrack/engine"
)

// Event kinds as they appear in the final subject token.
const (
	KindSubmission          = "submission"
	KindApprovalDecision    = "approval_decision"
	KindAssignmentsComplete = "assignments_complete"
	KindProvidersAssigned   = "providers_assigned"
	KindPreviousComplete    = "previous_complete"
)

// Handler consumes decoded events. *engine.Manager satisfies it.
type Handler interface {
	HandleEvent(ctx context.Context, key engine.PhaseKey, ev engine.Event) (*engine.EventResult, error)
}

// Relay subscribes to an event subject tree and routes messages to a Handler.
type Relay struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	handler Handler
	prefix  string
	logger  *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay's logger. Default is slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger.With("component", "relay")
	}
}

// New connects to the NATS server at url. Messages are expected on
// <prefix>.<kind>, e.g. phasetrack.event.submission.
func New(url, prefix string, handler Handler, opts ...Option) (*Relay, error) {
	conn, err := nats.Connect(url, nats.Name("phasetrack-relay"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}

	r := &Relay{
		conn:    conn,
		handler: handler,
		prefix:  prefix,
		logger:  slog.Default().With("component", "relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start subscribes to the subject tree and dispatches until ctx is cancelled.
// Returns immediately; the drain happens in the background on cancellation.
func (r *Relay) Start(ctx context.Context) error {
	sub, err := r.conn.Subscribe(r.prefix+".>", func(msg *nats.Msg) {
		r.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s.>: %w", r.prefix, err)
	}
	r.sub = sub

	r.logger.Info("relay started", "subject", r.prefix+".>")

	go func() {
		<-ctx.Done()
		if err := r.sub.Drain(); err != nil {
			r.logger.Warn("draining subscription", "error", err)
		}
		r.conn.Close()
		r.logger.Info("relay shut down")
	}()
	return nil
}

func (r *Relay) dispatch(ctx context.Context, msg *nats.Msg) {
	key, ev, err := decode(r.prefix, msg.Subject, msg.Data)
	if err != nil {
		// Malformed messages are logged and dropped; the publisher owns the
		// contract.
		r.logger.Warn("dropping message",
			"subject", msg.Subject,
			"error", err,
		)
		return
	}

	res, err := r.handler.HandleEvent(ctx, key, ev)
	if err != nil {
		r.logger.Error("event failed",
			"subject", msg.Subject,
			"key", key.String(),
			"error", err,
		)
		return
	}
	r.logger.Info("event relayed",
		"subject", msg.Subject,
		"key", key.String(),
		"handled", res.Handled,
		"activity", res.Activity,
	)
}

// envelope is the superset wire shape; decode picks the fields the kind uses.
type envelope struct {
	Key          engine.PhaseKey             `json:"key"`
	ActorID      string                      `json:"actor_id"`
	SubmissionID string                      `json:"submission_id"`
	Decision     string                      `json:"decision"`
	LOBs         []engine.LOBAssignment      `json:"lobs"`
	Assignments  []engine.ProviderAssignment `json:"assignments"`
	Previous     string                      `json:"previous_activity"`
}

// decode maps one message onto its phase key and typed event.
func decode(prefix, subject string, data []byte) (engine.PhaseKey, engine.Event, error) {
	kind, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return engine.PhaseKey{}, nil, fmt.Errorf("subject %q outside prefix %q", subject, prefix)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return engine.PhaseKey{}, nil, fmt.Errorf("decoding payload: %w", err)
	}
	if err := env.Key.Validate(); err != nil {
		return engine.PhaseKey{}, nil, err
	}

	var ev engine.Event
	switch kind {
	case KindSubmission:
		ev = engine.SubmissionEvent{ActorID: env.ActorID, SubmissionID: env.SubmissionID}
	case KindApprovalDecision:
		ev = engine.ApprovalEvent{ActorID: env.ActorID, Decision: engine.Decision(env.Decision)}
	case KindAssignmentsComplete:
		ev = engine.AssignmentsCompleteEvent{ActorID: env.ActorID, LOBs: env.LOBs}
	case KindProvidersAssigned:
		ev = engine.ProvidersAssignedEvent{ActorID: env.ActorID, Assignments: env.Assignments}
	case KindPreviousComplete:
		ev = engine.PreviousCompleteEvent{Previous: env.Previous}
	default:
		return engine.PhaseKey{}, nil, fmt.Errorf("unknown event kind %q", kind)
	}
	return env.Key, ev, nil
}
