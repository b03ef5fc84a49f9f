package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/eimribar/stageflow/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS stages (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    number_index INTEGER NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    blocking_priority TEXT NOT NULL DEFAULT 'medium',
    is_deliverable INTEGER NOT NULL DEFAULT 0,
    client_facing INTEGER NOT NULL DEFAULT 0,
    dependencies_json TEXT NOT NULL DEFAULT '[]',
    parallel_tracks_json TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'not_started',
    assigned_to TEXT NOT NULL DEFAULT '',
    estimated_duration INTEGER NOT NULL DEFAULT 0,
    start_date TEXT,
    end_date TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stages_project ON stages(project_id);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    stage_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    text TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_stage ON audit_log(stage_id);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    progress INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
`

// Store is a SQLite-backed implementation of the storage ports. A single
// Store serves the stage, audit and project interfaces off one connection.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and bootstraps the schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const stageColumns = `id, project_id, number_index, name, category, blocking_priority,
    is_deliverable, client_facing, dependencies_json, parallel_tracks_json,
    status, assigned_to, estimated_duration, start_date, end_date, created_at, updated_at`

// List returns a project's stages ordered by number index.
func (s *Store) List(ctx context.Context, projectID string) ([]*domain.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE project_id = ? ORDER BY number_index, id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []*domain.Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return stages, nil
}

// Get fetches a stage by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Stage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE id = ?`, id)
	stage, err := scanStage(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return stage, err
}

// Update applies a partial update with a dynamically built SET clause.
func (s *Store) Update(ctx context.Context, id string, update domain.StageUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339Nano)}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *update.AssignedTo)
	}
	if update.Dependencies != nil {
		data, err := json.Marshal(update.Dependencies)
		if err != nil {
			return fmt.Errorf("marshal dependencies: %w", err)
		}
		sets = append(sets, "dependencies_json = ?")
		args = append(args, string(data))
	}
	if update.StartDate != nil {
		sets = append(sets, "start_date = ?")
		args = append(args, update.StartDate.UTC().Format(time.RFC3339Nano))
	}
	if update.EndDate != nil {
		sets = append(sets, "end_date = ?")
		args = append(args, update.EndDate.UTC().Format(time.RFC3339Nano))
	}
	if update.ClearStartDate {
		sets = append(sets, "start_date = NULL")
	}
	if update.ClearEndDate {
		sets = append(sets, "end_date = NULL")
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE stages SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// BulkCreate inserts a batch of stages in one transaction.
func (s *Store) BulkCreate(ctx context.Context, stages []*domain.Stage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stages (`+stageColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, stage := range stages {
		deps, err := json.Marshal(stage.Dependencies)
		if err != nil {
			return fmt.Errorf("marshal dependencies for %s: %w", stage.ID, err)
		}
		parallel, err := json.Marshal(stage.ParallelTracks)
		if err != nil {
			return fmt.Errorf("marshal parallel tracks for %s: %w", stage.ID, err)
		}

		_, err = stmt.ExecContext(ctx,
			stage.ID,
			stage.ProjectID,
			stage.NumberIndex,
			stage.Name,
			stage.Category,
			string(stage.BlockingPriority),
			boolToInt(stage.IsDeliverable),
			boolToInt(stage.ClientFacing),
			string(deps),
			string(parallel),
			string(stage.Status),
			stage.AssignedTo,
			stage.EstimatedDuration,
			nullableTime(stage.StartDate),
			nullableTime(stage.EndDate),
			stage.CreatedAt.UTC().Format(time.RFC3339Nano),
			stage.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert stage %s: %w", stage.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Create appends an audit entry.
func (s *Store) Create(ctx context.Context, entry *domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, stage_id, project_id, text, actor, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.StageID,
		entry.ProjectID,
		entry.Text,
		entry.Actor,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// History returns a stage's audit entries oldest first.
func (s *Store) History(ctx context.Context, stageID string) ([]*domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage_id, project_id, text, actor, created_at
         FROM audit_log WHERE stage_id = ? ORDER BY created_at, id`, stageID)
	if err != nil {
		return nil, fmt.Errorf("read audit history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.StageID, &entry.ProjectID, &entry.Text, &entry.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// UpdateProgress upserts a project's aggregate progress rollup.
func (s *Store) UpdateProgress(ctx context.Context, projectID string, progress int, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, progress, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET progress = excluded.progress, updated_at = excluded.updated_at`,
		projectID,
		progress,
		updatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("update project progress: %w", err)
	}
	return nil
}

// Progress reads a project's stored rollup. Missing projects report zero.
func (s *Store) Progress(ctx context.Context, projectID string) (int, error) {
	var progress int
	err := s.db.QueryRowContext(ctx,
		`SELECT progress FROM projects WHERE id = ?`, projectID).Scan(&progress)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read project progress: %w", err)
	}
	return progress, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStage(row rowScanner) (*domain.Stage, error) {
	var (
		stage        domain.Stage
		priority     string
		status       string
		deliverable  int
		clientFacing int
		depsJSON     string
		parallelJSON string
		startDate    sql.NullString
		endDate      sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&stage.ID,
		&stage.ProjectID,
		&stage.NumberIndex,
		&stage.Name,
		&stage.Category,
		&priority,
		&deliverable,
		&clientFacing,
		&depsJSON,
		&parallelJSON,
		&status,
		&stage.AssignedTo,
		&stage.EstimatedDuration,
		&startDate,
		&endDate,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	stage.BlockingPriority = domain.Priority(priority)
	stage.Status = domain.Status(status)
	stage.IsDeliverable = deliverable != 0
	stage.ClientFacing = clientFacing != 0

	if err := json.Unmarshal([]byte(depsJSON), &stage.Dependencies); err != nil {
		return nil, fmt.Errorf("parse dependencies for %s: %w", stage.ID, err)
	}
	if err := json.Unmarshal([]byte(parallelJSON), &stage.ParallelTracks); err != nil {
		return nil, fmt.Errorf("parse parallel tracks for %s: %w", stage.ID, err)
	}
	if stage.StartDate, err = parseNullableTime(startDate); err != nil {
		return nil, fmt.Errorf("parse start date for %s: %w", stage.ID, err)
	}
	if stage.EndDate, err = parseNullableTime(endDate); err != nil {
		return nil, fmt.Errorf("parse end date for %s: %w", stage.ID, err)
	}
	if stage.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", stage.ID, err)
	}
	if stage.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", stage.ID, err)
	}
	return &stage, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
