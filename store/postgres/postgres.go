// Package postgres implements maestro.Store using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maestrohq/maestro"
)

// Store implements maestro.Store backed by PostgreSQL.
// Instance context and client reports are stored as JSONB.
type Store struct {
	pool *pgxpool.Pool
}

var _ maestro.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			current_step_name TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('RUNNING', 'SUSPENDED', 'COMPLETED', 'FAILED')),
			context JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			completed_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS instances_workflow_idx ON instances(workflow_name)`,

		`CREATE TABLE IF NOT EXISTS history (
			history_id BIGSERIAL PRIMARY KEY,
			instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
			timestamp BIGINT NOT NULL,
			step_name TEXT NOT NULL,
			user_report JSONB NOT NULL,
			outcome_status TEXT NOT NULL,
			determined_next_step TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS history_instance_idx ON history(instance_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &maestro.ErrStore{Op: "init", Err: err}
		}
	}
	return nil
}

// CreateInstance inserts a new instance row. Inserting an existing ID fails.
func (s *Store) CreateInstance(ctx context.Context, inst maestro.WorkflowInstance) error {
	ctxJSON, err := encodeContext(inst.Context)
	if err != nil {
		return &maestro.ErrStore{Op: "encode context", Err: err}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO instances (id, workflow_name, current_step_name, status, context, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		inst.ID, inst.WorkflowName, inst.CurrentStepName, string(inst.Status), ctxJSON,
		inst.CreatedAt.UnixNano(), inst.UpdatedAt.UnixNano(), nanosOrNull(inst.CompletedAt))
	if err != nil {
		return &maestro.ErrStore{Op: "create instance", Err: err}
	}
	return nil
}

// GetInstance loads one instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (maestro.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workflow_name, current_step_name, status, context, created_at, updated_at, completed_at
		 FROM instances WHERE id = $1`, id)
	inst, err := scanInstance(row.Scan)
	if err == pgx.ErrNoRows {
		return maestro.WorkflowInstance{}, &maestro.ErrInstanceNotFound{ID: id}
	}
	if err != nil {
		return maestro.WorkflowInstance{}, &maestro.ErrStore{Op: "get instance", Err: err}
	}
	return inst, nil
}

// UpdateInstance overwrites the mutable fields of an instance row.
func (s *Store) UpdateInstance(ctx context.Context, inst maestro.WorkflowInstance) error {
	ctxJSON, err := encodeContext(inst.Context)
	if err != nil {
		return &maestro.ErrStore{Op: "encode context", Err: err}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE instances
		 SET current_step_name = $1, status = $2, context = $3::jsonb, updated_at = $4, completed_at = $5
		 WHERE id = $6`,
		inst.CurrentStepName, string(inst.Status), ctxJSON,
		inst.UpdatedAt.UnixNano(), nanosOrNull(inst.CompletedAt), inst.ID)
	if err != nil {
		return &maestro.ErrStore{Op: "update instance", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &maestro.ErrInstanceNotFound{ID: inst.ID}
	}
	return nil
}

// DeleteInstance removes an instance; its history rows cascade.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return &maestro.ErrStore{Op: "delete instance", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &maestro.ErrInstanceNotFound{ID: id}
	}
	return nil
}

// ListInstances returns instances newest-first, optionally filtered by
// workflow name. limit <= 0 returns all.
func (s *Store) ListInstances(ctx context.Context, workflow string, limit int) ([]maestro.WorkflowInstance, error) {
	query := `SELECT id, workflow_name, current_step_name, status, context, created_at, updated_at, completed_at
		 FROM instances`
	args := []any{}
	if workflow != "" {
		args = append(args, workflow)
		query += fmt.Sprintf(` WHERE workflow_name = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &maestro.ErrStore{Op: "list instances", Err: err}
	}
	defer rows.Close()

	var instances []maestro.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, &maestro.ErrStore{Op: "scan instance", Err: err}
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, &maestro.ErrStore{Op: "iterate instances", Err: err}
	}
	return instances, nil
}

// GetHistory returns history entries most-recent-first. limit <= 0
// returns all.
func (s *Store) GetHistory(ctx context.Context, instanceID string, limit int) ([]maestro.HistoryEntry, error) {
	query := `SELECT history_id, instance_id, timestamp, step_name, user_report, outcome_status, determined_next_step
		 FROM history WHERE instance_id = $1 ORDER BY history_id DESC`
	args := []any{instanceID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &maestro.ErrStore{Op: "get history", Err: err}
	}
	defer rows.Close()

	var entries []maestro.HistoryEntry
	for rows.Next() {
		var (
			e        maestro.HistoryEntry
			ts       int64
			report   []byte
			nextStep *string
		)
		if err := rows.Scan(&e.ID, &e.InstanceID, &ts, &e.StepName, &report, &e.OutcomeStatus, &nextStep); err != nil {
			return nil, &maestro.ErrStore{Op: "scan history", Err: err}
		}
		e.Timestamp = time.Unix(0, ts)
		e.UserReport = json.RawMessage(report)
		if nextStep != nil {
			e.DeterminedNextStep = *nextStep
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &maestro.ErrStore{Op: "iterate history", Err: err}
	}
	return entries, nil
}

// CommitTransition appends a history entry and updates the instance row
// in one transaction. Either both writes land or neither does.
func (s *Store) CommitTransition(ctx context.Context, entry maestro.HistoryEntry, inst maestro.WorkflowInstance) error {
	ctxJSON, err := encodeContext(inst.Context)
	if err != nil {
		return &maestro.ErrStore{Op: "encode context", Err: err}
	}
	report := string(entry.UserReport)
	if report == "" {
		report = "null"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &maestro.ErrStore{Op: "begin tx", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO history (instance_id, timestamp, step_name, user_report, outcome_status, determined_next_step)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		entry.InstanceID, entry.Timestamp.UnixNano(), entry.StepName, report,
		entry.OutcomeStatus, nullIfEmpty(entry.DeterminedNextStep)); err != nil {
		return &maestro.ErrStore{Op: "insert history", Err: err}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE instances
		 SET current_step_name = $1, status = $2, context = $3::jsonb, updated_at = $4, completed_at = $5
		 WHERE id = $6`,
		inst.CurrentStepName, string(inst.Status), ctxJSON,
		inst.UpdatedAt.UnixNano(), nanosOrNull(inst.CompletedAt), inst.ID)
	if err != nil {
		return &maestro.ErrStore{Op: "update instance", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &maestro.ErrInstanceNotFound{ID: inst.ID}
	}

	if err := tx.Commit(ctx); err != nil {
		return &maestro.ErrStore{Op: "commit transition", Err: err}
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// --- Row codecs ---

// scanInstance decodes one instance row via the given Scan function.
func scanInstance(scan func(dest ...any) error) (maestro.WorkflowInstance, error) {
	var (
		inst      maestro.WorkflowInstance
		status    string
		ctxJSON   []byte
		createdAt int64
		updatedAt int64
		completed *int64
	)
	if err := scan(&inst.ID, &inst.WorkflowName, &inst.CurrentStepName, &status, &ctxJSON,
		&createdAt, &updatedAt, &completed); err != nil {
		return maestro.WorkflowInstance{}, err
	}
	inst.Status = maestro.Status(status)
	if err := json.Unmarshal(ctxJSON, &inst.Context); err != nil {
		return maestro.WorkflowInstance{}, fmt.Errorf("decode context: %w", err)
	}
	if inst.Context == nil {
		inst.Context = map[string]any{}
	}
	inst.CreatedAt = time.Unix(0, createdAt)
	inst.UpdatedAt = time.Unix(0, updatedAt)
	if completed != nil {
		t := time.Unix(0, *completed)
		inst.CompletedAt = &t
	}
	return inst, nil
}

// encodeContext serializes a context map, normalizing nil to an empty
// object so round-trips always yield a usable map.
func encodeContext(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// nanosOrNull converts an optional timestamp to a nullable column value.
func nanosOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

// nullIfEmpty stores empty strings as NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
