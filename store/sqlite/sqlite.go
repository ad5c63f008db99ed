// Package sqlite implements conductor.ResultStore using pure-Go SQLite.
// Zero CGO required. Suitable for single-node deployments where research
// results should survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	conductor "github.com/nevindra/conductor"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store implements conductor.ResultStore backed by a local SQLite file.
type Store struct {
	db *sql.DB
}

var _ conductor.ResultStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath. A single shared
// connection serializes writers, avoiding SQLITE_BUSY from concurrent
// research runs completing at once.
func New(dbPath string) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}
}

// Init creates the results table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS research_results (
		plan_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'done',
		title TEXT NOT NULL,
		query TEXT NOT NULL,
		markdown TEXT NOT NULL,
		summary TEXT NOT NULL,
		artifact BLOB,
		artifact_mime TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: init: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_results_expires ON research_results(expires_at)`)
	if err != nil {
		return fmt.Errorf("sqlite: init index: %w", err)
	}
	return nil
}

// SaveResult implements conductor.ResultStore. Existing rows for the same
// plan are replaced.
func (s *Store) SaveResult(ctx context.Context, res conductor.ResearchResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO research_results
		(plan_id, status, title, query, markdown, summary, artifact,
		 artifact_mime, input_tokens, output_tokens, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.PlanID, string(res.Status), res.Title, res.Query, res.Markdown,
		res.Summary, res.Artifact, res.ArtifactMIME,
		res.Usage.InputTokens, res.Usage.OutputTokens,
		res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("sqlite: save result: %w", err)
	}
	return nil
}

// GetResult implements conductor.ResultStore.
func (s *Store) GetResult(ctx context.Context, planID string) (conductor.ResearchResult, error) {
	var res conductor.ResearchResult
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT plan_id, status, title, query,
		markdown, summary, artifact, artifact_mime, input_tokens,
		output_tokens, created_at, expires_at
		FROM research_results WHERE plan_id = ?`, planID).Scan(
		&res.PlanID, &status, &res.Title, &res.Query, &res.Markdown,
		&res.Summary, &res.Artifact, &res.ArtifactMIME,
		&res.Usage.InputTokens, &res.Usage.OutputTokens,
		&res.CreatedAt, &res.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return conductor.ResearchResult{}, fmt.Errorf("%w: plan %q", conductor.ErrNotFound, planID)
	}
	if err != nil {
		return conductor.ResearchResult{}, fmt.Errorf("sqlite: get result: %w", err)
	}
	res.Status = conductor.PlanStatus(status)
	return res, nil
}

// DeleteExpired implements conductor.ResultStore.
func (s *Store) DeleteExpired(ctx context.Context, now int64) (int, error) {
	r, err := s.db.ExecContext(ctx,
		`DELETE FROM research_results WHERE expires_at > 0 AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete expired: %w", err)
	}
	n, _ := r.RowsAffected()
	return int(n), nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
