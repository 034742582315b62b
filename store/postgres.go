package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdawes/phasetrack/engine"
)

// Schema is the DDL for the normalized phase tables. The activity map is
// stored as rows, not a JSON blob, so catalog evolution cannot silently
// drift from persisted data.
const Schema = `
CREATE TABLE IF NOT EXISTS phase_instances (
	id              BIGSERIAL PRIMARY KEY,
	cycle_id        TEXT NOT NULL,
	report_id       TEXT NOT NULL,
	phase           TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'not_started',
	state_override  TEXT NOT NULL DEFAULT '',
	status_override TEXT NOT NULL DEFAULT '',
	override_reason TEXT NOT NULL DEFAULT '',
	override_by     TEXT NOT NULL DEFAULT '',
	override_at     TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	version         BIGINT NOT NULL DEFAULT 0,
	UNIQUE (cycle_id, report_id, phase)
);

CREATE TABLE IF NOT EXISTS phase_activities (
	phase_instance_id BIGINT NOT NULL REFERENCES phase_instances(id),
	name              TEXT NOT NULL,
	state             TEXT NOT NULL,
	started_at        TIMESTAMPTZ,
	started_by        TEXT NOT NULL DEFAULT '',
	completed_at      TIMESTAMPTZ,
	completed_by      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (phase_instance_id, name)
);

CREATE TABLE IF NOT EXISTS activity_resets (
	id                    TEXT PRIMARY KEY,
	phase_instance_id     BIGINT NOT NULL REFERENCES phase_instances(id),
	activity              TEXT NOT NULL,
	reset_at              TIMESTAMPTZ NOT NULL,
	reset_by              TEXT NOT NULL,
	previous_completed_at TIMESTAMPTZ
);
`

// Postgres persists phase instances as normalized rows. Update serializes
// per key by holding SELECT ... FOR UPDATE on the phase row for the whole
// load-mutate-save transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store on an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Init creates the schema if it does not exist.
func (s *Postgres) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("creating phase schema: %w", err)
	}
	return nil
}

// Update locks the phase row, runs fn on the loaded instance and writes the
// result back in the same transaction. A missing instance is created inside
// the transaction when fn seeds one.
func (s *Postgres) Update(ctx context.Context, key engine.PhaseKey, fn func(*engine.PhaseInstance) (*engine.PhaseInstance, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", key, err)
	}
	defer tx.Rollback(ctx)

	id, cur, err := s.lockRow(ctx, tx, key)
	if err != nil {
		return err
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		// Read-only outcome; roll back so a freshly inserted container
		// row is not kept.
		return nil
	}

	next.UpdatedAt = time.Now()
	next.Version++
	if err := s.save(ctx, tx, id, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing phase %s: %w", key, err)
	}
	return nil
}

// Load reads an instance without locking.
func (s *Postgres) Load(ctx context.Context, key engine.PhaseKey) (*engine.PhaseInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, state, state_override, status_override, override_reason,
		       override_by, override_at, updated_at, version
		FROM phase_instances
		WHERE cycle_id = $1 AND report_id = $2 AND phase = $3`,
		key.CycleID, key.ReportID, key.Phase)

	id, phase, err := scanPhase(row, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundErr(key)
	}
	if err != nil {
		return nil, fmt.Errorf("loading phase %s: %w", key, err)
	}
	if err := s.loadChildren(ctx, s.pool, id, phase); err != nil {
		return nil, err
	}
	return phase, nil
}

// Keys lists every persisted phase key.
func (s *Postgres) Keys(ctx context.Context) ([]engine.PhaseKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT cycle_id, report_id, phase FROM phase_instances`)
	if err != nil {
		return nil, fmt.Errorf("listing phase keys: %w", err)
	}
	defer rows.Close()

	var keys []engine.PhaseKey
	for rows.Next() {
		var key engine.PhaseKey
		if err := rows.Scan(&key.CycleID, &key.ReportID, &key.Phase); err != nil {
			return nil, fmt.Errorf("scanning phase key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing phase keys: %w", err)
	}
	return keys, nil
}

// lockRow takes the per-key row lock, inserting a container row when the key
// has never been persisted. Returns a nil instance for a fresh row.
func (s *Postgres) lockRow(ctx context.Context, tx pgx.Tx, key engine.PhaseKey) (int64, *engine.PhaseInstance, error) {
	const selectForUpdate = `
		SELECT id, state, state_override, status_override, override_reason,
		       override_by, override_at, updated_at, version
		FROM phase_instances
		WHERE cycle_id = $1 AND report_id = $2 AND phase = $3
		FOR UPDATE`

	id, phase, err := scanPhase(tx.QueryRow(ctx, selectForUpdate, key.CycleID, key.ReportID, key.Phase), key)
	if err == nil {
		if phase.Version == 0 {
			// Container row that never carried data; treat as absent.
			return id, nil, nil
		}
		if cerr := s.loadChildren(ctx, tx, id, phase); cerr != nil {
			return 0, nil, cerr
		}
		return id, phase, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, fmt.Errorf("locking phase %s: %w", key, err)
	}

	// First writer for this key inserts the container row; the insert
	// itself holds the lock for the rest of the transaction. A concurrent
	// inserter loses the conflict and locks the winner's row instead.
	err = tx.QueryRow(ctx, `
		INSERT INTO phase_instances (cycle_id, report_id, phase)
		VALUES ($1, $2, $3)
		ON CONFLICT (cycle_id, report_id, phase) DO NOTHING
		RETURNING id`,
		key.CycleID, key.ReportID, key.Phase).Scan(&id)
	if err == nil {
		return id, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, fmt.Errorf("creating phase %s: %w", key, err)
	}

	id, phase, err = scanPhase(tx.QueryRow(ctx, selectForUpdate, key.CycleID, key.ReportID, key.Phase), key)
	if err != nil {
		return 0, nil, fmt.Errorf("locking phase %s after conflict: %w", key, err)
	}
	if phase.Version == 0 {
		return id, nil, nil
	}
	if cerr := s.loadChildren(ctx, tx, id, phase); cerr != nil {
		return 0, nil, cerr
	}
	return id, phase, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhase(row rowScanner, key engine.PhaseKey) (int64, *engine.PhaseInstance, error) {
	phase := &engine.PhaseInstance{
		Key:        key,
		Activities: make(map[string]*engine.ActivityInstance),
	}
	var id int64
	err := row.Scan(&id, &phase.State, &phase.StateOverride, &phase.StatusOverride,
		&phase.OverrideReason, &phase.OverrideBy, &phase.OverrideAt,
		&phase.UpdatedAt, &phase.Version)
	if err != nil {
		return 0, nil, err
	}
	return id, phase, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Postgres) loadChildren(ctx context.Context, q querier, id int64, phase *engine.PhaseInstance) error {
	rows, err := q.Query(ctx, `
		SELECT name, state, started_at, started_by, completed_at, completed_by
		FROM phase_activities
		WHERE phase_instance_id = $1`, id)
	if err != nil {
		return fmt.Errorf("loading activities for %s: %w", phase.Key, err)
	}
	defer rows.Close()

	for rows.Next() {
		act := &engine.ActivityInstance{}
		if err := rows.Scan(&act.Name, &act.State, &act.StartedAt, &act.StartedBy,
			&act.CompletedAt, &act.CompletedBy); err != nil {
			return fmt.Errorf("scanning activity for %s: %w", phase.Key, err)
		}
		phase.Activities[act.Name] = act
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading activities for %s: %w", phase.Key, err)
	}
	rows.Close()

	resetRows, err := q.Query(ctx, `
		SELECT id, activity, reset_at, reset_by, previous_completed_at
		FROM activity_resets
		WHERE phase_instance_id = $1
		ORDER BY reset_at`, id)
	if err != nil {
		return fmt.Errorf("loading resets for %s: %w", phase.Key, err)
	}
	defer resetRows.Close()

	for resetRows.Next() {
		var rec engine.ResetRecord
		var activity string
		if err := resetRows.Scan(&rec.ID, &activity, &rec.ResetAt, &rec.ResetBy,
			&rec.PreviousCompletedAt); err != nil {
			return fmt.Errorf("scanning reset for %s: %w", phase.Key, err)
		}
		if act, ok := phase.Activities[activity]; ok {
			act.ResetHistory = append(act.ResetHistory, rec)
		}
	}
	if err := resetRows.Err(); err != nil {
		return fmt.Errorf("loading resets for %s: %w", phase.Key, err)
	}
	return nil
}

func (s *Postgres) save(ctx context.Context, tx pgx.Tx, id int64, phase *engine.PhaseInstance) error {
	_, err := tx.Exec(ctx, `
		UPDATE phase_instances
		SET state = $2, state_override = $3, status_override = $4,
		    override_reason = $5, override_by = $6, override_at = $7,
		    updated_at = $8, version = $9
		WHERE id = $1`,
		id, phase.State, phase.StateOverride, phase.StatusOverride,
		phase.OverrideReason, phase.OverrideBy, phase.OverrideAt,
		phase.UpdatedAt, phase.Version)
	if err != nil {
		return fmt.Errorf("saving phase %s: %w", phase.Key, err)
	}

	for _, act := range phase.Activities {
		_, err := tx.Exec(ctx, `
			INSERT INTO phase_activities
				(phase_instance_id, name, state, started_at, started_by, completed_at, completed_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (phase_instance_id, name) DO UPDATE
			SET state = EXCLUDED.state,
			    started_at = EXCLUDED.started_at,
			    started_by = EXCLUDED.started_by,
			    completed_at = EXCLUDED.completed_at,
			    completed_by = EXCLUDED.completed_by`,
			id, act.Name, act.State, act.StartedAt, act.StartedBy,
			act.CompletedAt, act.CompletedBy)
		if err != nil {
			return fmt.Errorf("saving activity %q for %s: %w", act.Name, phase.Key, err)
		}

		for _, rec := range act.ResetHistory {
			_, err := tx.Exec(ctx, `
				INSERT INTO activity_resets
					(id, phase_instance_id, activity, reset_at, reset_by, previous_completed_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO NOTHING`,
				rec.ID, id, act.Name, rec.ResetAt, rec.ResetBy, rec.PreviousCompletedAt)
			if err != nil {
				return fmt.Errorf("saving reset history for %s: %w", phase.Key, err)
			}
		}
	}
	return nil
}
