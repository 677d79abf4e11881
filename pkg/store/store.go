// Package store is an optional archive for Workflow Execution Results,
// keyed by run id, backed by PostgreSQL. It exists purely as a SPEC_FULL.md
// supplement: the scheduler and metrics packages have no dependency on it,
// and spec.md's non-goal of "resumable/persisted execution state across
// process restarts" is about the scheduler's in-memory execution state, not
// an external, append-only result archive consulted after the fact.
//
// Grounded on the teacher's pkg/database/client.go: connection pooling over
// database/sql with the pgx driver registered, migrations applied with
// golang-migrate from an embedded filesystem on every NewClient call. This
// package skips the teacher's Ent ORM layer (codegen-dependent, infeasible
// to hand-author — see DESIGN.md) and talks to Postgres directly with
// database/sql + pgx/v5/stdlib.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/tarsy-labs/dagrunner/pkg/scheduler"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds the connection parameters for the result archive.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return c
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Store persists and retrieves Workflow Execution Results against Postgres.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool, pings it, and applies any pending
// embedded migrations, mirroring the teacher's NewClient lifecycle.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	db, err := open(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an already-open *sql.DB, useful for tests that share
// a testcontainers-managed connection.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB, databaseName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source driver: m.Close() would also close db, which the
	// caller still owns (teacher's client.go documents the same caveat for
	// its shared Ent driver).
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// SaveRun persists a Workflow Execution Result and its per-node results in a
// single transaction.
func (s *Store) SaveRun(ctx context.Context, result scheduler.WorkflowExecutionResult) error {
	if result.RunID == "" {
		return fmt.Errorf("store: result has no run id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_runs
			(id, task_id, task_description, policy, success, error,
			 total_nodes, nodes_executed, total_batches, total_time_ms, total_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			success = EXCLUDED.success, error = EXCLUDED.error,
			nodes_executed = EXCLUDED.nodes_executed, total_batches = EXCLUDED.total_batches,
			total_time_ms = EXCLUDED.total_time_ms, total_tokens = EXCLUDED.total_tokens`,
		result.RunID, result.TaskID, result.TaskDescription, string(result.Policy), result.Success, result.Error,
		result.TotalNodes, result.NodesExecuted, result.TotalBatches, result.TotalTimeMS, result.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}

	for _, r := range result.Results {
		toolCallsJSON, err := json.Marshal(r.ToolCalls)
		if err != nil {
			return fmt.Errorf("store: marshal tool calls for node %s: %w", r.NodeID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO node_results
				(run_id, node_id, node_type, agent, generated_content, tokens_used,
				 latency_ms, error, dependencies_met, attempts, tool_calls)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (run_id, node_id) DO UPDATE SET
				generated_content = EXCLUDED.generated_content, tokens_used = EXCLUDED.tokens_used,
				latency_ms = EXCLUDED.latency_ms, error = EXCLUDED.error,
				dependencies_met = EXCLUDED.dependencies_met, attempts = EXCLUDED.attempts,
				tool_calls = EXCLUDED.tool_calls`,
			result.RunID, r.NodeID, r.NodeType, r.Agent, r.GeneratedContent, r.TokensUsed,
			r.LatencyMS, r.Error, r.DependenciesMet, r.Attempts, string(toolCallsJSON),
		)
		if err != nil {
			return fmt.Errorf("store: insert node result %s: %w", r.NodeID, err)
		}
	}

	return tx.Commit()
}

// LoadRun retrieves a previously saved Workflow Execution Result by run id.
func (s *Store) LoadRun(ctx context.Context, runID string) (scheduler.WorkflowExecutionResult, error) {
	var result scheduler.WorkflowExecutionResult
	var policy string

	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, task_description, policy, success, error,
		       total_nodes, nodes_executed, total_batches, total_time_ms, total_tokens
		FROM workflow_runs WHERE id = $1`, runID)

	if err := row.Scan(&result.RunID, &result.TaskID, &result.TaskDescription, &policy, &result.Success,
		&result.Error, &result.TotalNodes, &result.NodesExecuted, &result.TotalBatches,
		&result.TotalTimeMS, &result.TotalTokens); err != nil {
		return scheduler.WorkflowExecutionResult{}, fmt.Errorf("store: load run %s: %w", runID, err)
	}
	result.Policy = scheduler.Policy(policy)

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, node_type, agent, generated_content, tokens_used,
		       latency_ms, error, dependencies_met, attempts, tool_calls
		FROM node_results WHERE run_id = $1 ORDER BY node_id`, runID)
	if err != nil {
		return scheduler.WorkflowExecutionResult{}, fmt.Errorf("store: load node results for %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r scheduler.NodeExecutionResult
		var toolCallsJSON string
		if err := rows.Scan(&r.NodeID, &r.NodeType, &r.Agent, &r.GeneratedContent, &r.TokensUsed,
			&r.LatencyMS, &r.Error, &r.DependenciesMet, &r.Attempts, &toolCallsJSON); err != nil {
			return scheduler.WorkflowExecutionResult{}, fmt.Errorf("store: scan node result: %w", err)
		}
		if toolCallsJSON != "" && toolCallsJSON != "null" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &r.ToolCalls); err != nil {
				return scheduler.WorkflowExecutionResult{}, fmt.Errorf("store: unmarshal tool calls for %s: %w", r.NodeID, err)
			}
		}
		result.Results = append(result.Results, r)
		if r.Failed() {
			result.FailedIDs = append(result.FailedIDs, r.NodeID)
		} else {
			result.CompletedIDs = append(result.CompletedIDs, r.NodeID)
		}
	}
	if err := rows.Err(); err != nil {
		return scheduler.WorkflowExecutionResult{}, fmt.Errorf("store: iterate node results for %s: %w", runID, err)
	}

	return result, nil
}
