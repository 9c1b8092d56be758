// Package sqlite implements maestro.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maestrohq/maestro"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements maestro.Store backed by a local SQLite file.
// Instance context and client reports are stored as JSON text.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ maestro.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			current_step_name TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('RUNNING', 'SUSPENDED', 'COMPLETED', 'FAILED')),
			context TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			history_id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
			timestamp INTEGER NOT NULL,
			step_name TEXT NOT NULL,
			user_report TEXT NOT NULL,
			outcome_status TEXT NOT NULL,
			determined_next_step TEXT
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &maestro.ErrStore{Op: "create table", Err: err}
		}
	}

	// Index on the history foreign key; reads and cascade deletes filter on it.
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_history_instance ON history(instance_id)`); err != nil {
		return &maestro.ErrStore{Op: "create index", Err: err}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// CreateInstance inserts a new instance row. Inserting an existing ID fails.
func (s *Store) CreateInstance(ctx context.Context, inst maestro.WorkflowInstance) error {
	start := time.Now()
	s.logger.Debug("sqlite: create instance", "id", inst.ID, "workflow", inst.WorkflowName, "status", inst.Status)

	ctxJSON, err := encodeContext(inst.Context)
	if err != nil {
		return &maestro.ErrStore{Op: "encode context", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instances (id, workflow_name, current_step_name, status, context, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.WorkflowName, inst.CurrentStepName, string(inst.Status), ctxJSON,
		inst.CreatedAt.UnixNano(), inst.UpdatedAt.UnixNano(), nanosOrNull(inst.CompletedAt),
	)
	if err != nil {
		s.logger.Error("sqlite: create instance failed", "id", inst.ID, "error", err, "duration", time.Since(start))
		return &maestro.ErrStore{Op: "create instance", Err: err}
	}
	s.logger.Debug("sqlite: create instance ok", "id", inst.ID, "duration", time.Since(start))
	return nil
}

// GetInstance loads one instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (maestro.WorkflowInstance, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get instance", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_name, current_step_name, status, context, created_at, updated_at, completed_at
		 FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row.Scan)
	if err == sql.ErrNoRows {
		return maestro.WorkflowInstance{}, &maestro.ErrInstanceNotFound{ID: id}
	}
	if err != nil {
		s.logger.Error("sqlite: get instance failed", "id", id, "error", err, "duration", time.Since(start))
		return maestro.WorkflowInstance{}, &maestro.ErrStore{Op: "get instance", Err: err}
	}
	s.logger.Debug("sqlite: get instance ok", "id", id, "duration", time.Since(start))
	return inst, nil
}

// UpdateInstance overwrites the mutable fields of an instance row.
func (s *Store) UpdateInstance(ctx context.Context, inst maestro.WorkflowInstance) error {
	start := time.Now()
	s.logger.Debug("sqlite: update instance", "id", inst.ID, "step", inst.CurrentStepName, "status", inst.Status)

	ctxJSON, err := encodeContext(inst.Context)
	if err != nil {
		return &maestro.ErrStore{Op: "encode context", Err: err}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances
		 SET current_step_name = ?, status = ?, context = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		inst.CurrentStepName, string(inst.Status), ctxJSON,
		inst.UpdatedAt.UnixNano(), nanosOrNull(inst.CompletedAt), inst.ID,
	)
	if err != nil {
		s.logger.Error("sqlite: update instance failed", "id", inst.ID, "error", err, "duration", time.Since(start))
		return &maestro.ErrStore{Op: "update instance", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &maestro.ErrInstanceNotFound{ID: inst.ID}
	}
	s.logger.Debug("sqlite: update instance ok", "id", inst.ID, "duration", time.Since(start))
	return nil
}

// DeleteInstance removes an instance and all its history in one transaction.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete instance", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &maestro.ErrStore{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE instance_id = ?`, id); err != nil {
		return &maestro.ErrStore{Op: "delete history", Err: err}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return &maestro.ErrStore{Op: "delete instance", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &maestro.ErrInstanceNotFound{ID: id}
	}
	if err := tx.Commit(); err != nil {
		return &maestro.ErrStore{Op: "commit delete", Err: err}
	}
	s.logger.Debug("sqlite: delete instance ok", "id", id, "duration", time.Since(start))
	return nil
}

// ListInstances returns instances newest-first, optionally filtered by
// workflow name. limit <= 0 returns all.
func (s *Store) ListInstances(ctx context.Context, workflow string, limit int) ([]maestro.WorkflowInstance, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list instances", "workflow", workflow, "limit", limit)

	query := `SELECT id, workflow_name, current_step_name, status, context, created_at, updated_at, completed_at
		 FROM instances`
	args := []any{}
	if workflow != "" {
		query += ` WHERE workflow_name = ?`
		args = append(args, workflow)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list instances failed", "error", err, "duration", time.Since(start))
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
	s.logger.Debug("sqlite: list instances ok", "count", len(instances), "duration", time.Since(start))
	return instances, nil
}

// GetHistory returns history entries most-recent-first. limit <= 0
// returns all.
func (s *Store) GetHistory(ctx context.Context, instanceID string, limit int) ([]maestro.HistoryEntry, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get history", "instance_id", instanceID, "limit", limit)

	query := `SELECT history_id, instance_id, timestamp, step_name, user_report, outcome_status, determined_next_step
		 FROM history WHERE instance_id = ? ORDER BY history_id DESC`
	args := []any{instanceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: get history failed", "instance_id", instanceID, "error", err, "duration", time.Since(start))
		return nil, &maestro.ErrStore{Op: "get history", Err: err}
	}
	defer rows.Close()

	var entries []maestro.HistoryEntry
	for rows.Next() {
		var (
			e        maestro.HistoryEntry
			ts       int64
			report   string
			nextStep sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.InstanceID, &ts, &e.StepName, &report, &e.OutcomeStatus, &nextStep); err != nil {
			return nil, &maestro.ErrStore{Op: "scan history", Err: err}
		}
		e.Timestamp = time.Unix(0, ts)
		e.UserReport = json.RawMessage(report)
		e.DeterminedNextStep = nextStep.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &maestro.ErrStore{Op: "iterate history", Err: err}
	}
	s.logger.Debug("sqlite: get history ok", "instance_id", instanceID, "count", len(entries), "duration", time.Since(start))
	return entries, nil
}

// CommitTransition appends a history entry and updates the instance row
// in one transaction. Either both writes land or neither does.
func (s *Store) CommitTransition(ctx context.Context, entry maestro.HistoryEntry, inst maestro.WorkflowInstance) error {
	start := time.Now()
	s.logger.Debug("sqlite: commit transition",
		"instance_id", inst.ID, "step", entry.StepName, "next", entry.DeterminedNextStep, "status", inst.Status)

	ctxJSON, err := encodeContext(inst.Context)
	if err != nil {
		return &maestro.ErrStore{Op: "encode context", Err: err}
	}
	report := string(entry.UserReport)
	if report == "" {
		report = "null"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &maestro.ErrStore{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (instance_id, timestamp, step_name, user_report, outcome_status, determined_next_step)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.InstanceID, entry.Timestamp.UnixNano(), entry.StepName, report,
		entry.OutcomeStatus, nullIfEmpty(entry.DeterminedNextStep),
	); err != nil {
		s.logger.Error("sqlite: insert history failed", "instance_id", entry.InstanceID, "error", err, "duration", time.Since(start))
		return &maestro.ErrStore{Op: "insert history", Err: err}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE instances
		 SET current_step_name = ?, status = ?, context = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		inst.CurrentStepName, string(inst.Status), ctxJSON,
		inst.UpdatedAt.UnixNano(), nanosOrNull(inst.CompletedAt), inst.ID,
	)
	if err != nil {
		s.logger.Error("sqlite: update instance failed", "id", inst.ID, "error", err, "duration", time.Since(start))
		return &maestro.ErrStore{Op: "update instance", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &maestro.ErrInstanceNotFound{ID: inst.ID}
	}

	if err := tx.Commit(); err != nil {
		return &maestro.ErrStore{Op: "commit transition", Err: err}
	}
	s.logger.Debug("sqlite: commit transition ok", "instance_id", inst.ID, "duration", time.Since(start))
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Row codecs ---

// scanInstance decodes one instance row via the given Scan function.
func scanInstance(scan func(dest ...any) error) (maestro.WorkflowInstance, error) {
	var (
		inst      maestro.WorkflowInstance
		status    string
		ctxJSON   string
		createdAt int64
		updatedAt int64
		completed sql.NullInt64
	)
	if err := scan(&inst.ID, &inst.WorkflowName, &inst.CurrentStepName, &status, &ctxJSON,
		&createdAt, &updatedAt, &completed); err != nil {
		return maestro.WorkflowInstance{}, err
	}
	inst.Status = maestro.Status(status)
	if err := json.Unmarshal([]byte(ctxJSON), &inst.Context); err != nil {
		return maestro.WorkflowInstance{}, fmt.Errorf("decode context: %w", err)
	}
	if inst.Context == nil {
		inst.Context = map[string]any{}
	}
	inst.CreatedAt = time.Unix(0, createdAt)
	inst.UpdatedAt = time.Unix(0, updatedAt)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
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
