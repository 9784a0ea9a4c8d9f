package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/cfdeploy/cfdeploy/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	_ engine.VariableStore = (*SQLiteStore)(nil)
	_ engine.EventSink     = (*SQLiteStore)(nil)
)

// ErrNotFound is returned when a deployment row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements engine.VariableStore and engine.EventSink using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own empty database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg, now: time.Now}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// GetVariable implements engine.VariableStore.
func (s *SQLiteStore) GetVariable(ctx context.Context, scope engine.Scope, name string) ([]byte, bool, error) {
	query := `
		SELECT value FROM variables
		WHERE deployment_id = ? AND step_name = ? AND name = ?
	`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, scope.DeploymentID, scope.StepName, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get variable: %w", err)
	}

	return value, true, nil
}

// SetVariable implements engine.VariableStore.
func (s *SQLiteStore) SetVariable(ctx context.Context, scope engine.Scope, name string, value []byte) error {
	query := `
		INSERT INTO variables (deployment_id, step_name, name, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (deployment_id, step_name, name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	now := s.now()
	if _, err := s.db.ExecContext(ctx, query, scope.DeploymentID, scope.StepName, name, value, now, now); err != nil {
		return fmt.Errorf("failed to set variable: %w", err)
	}

	return nil
}

// DeleteVariables implements engine.VariableStore.
func (s *SQLiteStore) DeleteVariables(ctx context.Context, deploymentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM variables WHERE deployment_id = ?`, deploymentID); err != nil {
		return fmt.Errorf("failed to delete variables: %w", err)
	}

	return nil
}

// ListStepRecords returns the persisted phase and start time of every step
// of a deployment that has been invoked at least once, in order of first
// invocation.
func (s *SQLiteStore) ListStepRecords(ctx context.Context, deploymentID string) ([]StepRecord, error) {
	query := `
		SELECT step_name, name, value FROM variables
		WHERE deployment_id = ? AND step_name != '' AND name IN (?, ?)
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID, engine.VarStepPhase.Name, engine.VarStepStartTime.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list step records: %w", err)
	}
	defer rows.Close()

	var records []StepRecord
	index := make(map[string]int)
	for rows.Next() {
		var step, name string
		var value []byte
		if err := rows.Scan(&step, &name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan step variable: %w", err)
		}

		i, ok := index[step]
		if !ok {
			i = len(records)
			index[step] = i
			records = append(records, StepRecord{StepName: step, Phase: engine.PhaseInit})
		}
		if err := decodeStepVariable(&records[i], name, value); err != nil {
			return nil, fmt.Errorf("step %s: %w", step, err)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step records: %w", err)
	}

	return records, nil
}

func decodeStepVariable(rec *StepRecord, name string, value []byte) error {
	switch name {
	case engine.VarStepPhase.Name:
		return rec.Phase.UnmarshalJSON(value)
	case engine.VarStepStartTime.Name:
		return rec.StartTimestamp.UnmarshalJSON(value)
	}
	return nil
}

// AppendEvent implements engine.EventSink.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.Event) error {
	query := `
		INSERT INTO events (id, deployment_id, step_name, type, phase, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var data *string
	if len(event.Data) > 0 {
		d := string(event.Data)
		data = &d
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.DeploymentID,
		event.StepName,
		event.Type,
		event.Phase,
		event.Message,
		data,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents lists the events of a deployment in append order with
// pagination
func (s *SQLiteStore) ListEvents(ctx context.Context, deploymentID string, limit, offset int) ([]*engine.Event, error) {
	query := `
		SELECT id, deployment_id, step_name, type, phase, message, data, timestamp
		FROM events
		WHERE deployment_id = ?
		ORDER BY seq
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*engine.Event{}
	for rows.Next() {
		event := &engine.Event{}
		var typ, phase string
		var data *string
		err := rows.Scan(
			&event.ID,
			&event.DeploymentID,
			&event.StepName,
			&typ,
			&phase,
			&event.Message,
			&data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = engine.EventType(typ)
		event.Phase = engine.Phase(phase)
		if data != nil {
			event.Data = []byte(*data)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// StartDeployment records that a deployment run began. Starting a deployment
// that already has a row resets its outcome, so a resumed deployment reads as
// running again.
func (s *SQLiteStore) StartDeployment(ctx context.Context, id, descriptorPath string) error {
	query := `
		INSERT INTO deployments (id, descriptor_path, status, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			descriptor_path = excluded.descriptor_path,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = NULL,
			failed_step = NULL,
			error = NULL,
			updated_at = excluded.updated_at
	`

	now := s.now()
	_, err := s.db.ExecContext(ctx, query, id, descriptorPath, DeploymentStatusRunning, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to start deployment: %w", err)
	}

	return nil
}

// CompleteDeployment records the outcome of a deployment run.
func (s *SQLiteStore) CompleteDeployment(ctx context.Context, id string, c Completion) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("deployment status %s is not terminal", c.Status)
	}

	query := `
		UPDATE deployments
		SET status = ?, completed_at = ?, failed_step = ?, error = ?, platform_time_ms = ?, updated_at = ?
		WHERE id = ?
	`

	now := s.now()
	result, err := s.db.ExecContext(ctx, query,
		c.Status,
		now,
		nullable(c.FailedStep),
		nullable(c.Error),
		c.PlatformTime.Milliseconds(),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}

	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const deploymentColumns = `id, descriptor_path, status, started_at, completed_at, failed_step, error, platform_time_ms, created_at, updated_at`

func scanDeployment(row interface{ Scan(...any) error }) (*Deployment, error) {
	d := &Deployment{}
	err := row.Scan(
		&d.ID,
		&d.DescriptorPath,
		&d.Status,
		&d.StartedAt,
		&d.CompletedAt,
		&d.FailedStep,
		&d.Error,
		&d.PlatformTimeMS,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}

// GetDeployment retrieves a deployment by ID
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`

	d, err := scanDeployment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return d, nil
}

// ListDeployments lists deployments, most recently started first, with
// pagination
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}

// DeleteDeployment removes a deployment with its variables and events in one
// transaction.
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"variables", "events"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE deployment_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", strings.TrimSuffix(table, "s"), err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}
