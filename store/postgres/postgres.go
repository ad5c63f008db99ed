// Package postgres implements conductor.ResultStore using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool. Use it when research
// results must be shared across server replicas.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	conductor "github.com/nevindra/conductor"
)

// Store implements conductor.ResultStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ conductor.ResultStore = (*Store)(nil)

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the results table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS research_results (
		plan_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'done',
		title TEXT NOT NULL,
		query TEXT NOT NULL,
		markdown TEXT NOT NULL,
		summary TEXT NOT NULL,
		artifact BYTEA,
		artifact_mime TEXT NOT NULL DEFAULT '',
		input_tokens BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("postgres: init: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_results_expires ON research_results(expires_at)`)
	if err != nil {
		return fmt.Errorf("postgres: init index: %w", err)
	}
	return nil
}

// SaveResult implements conductor.ResultStore.
func (s *Store) SaveResult(ctx context.Context, res conductor.ResearchResult) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO research_results
		(plan_id, status, title, query, markdown, summary, artifact,
		 artifact_mime, input_tokens, output_tokens, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (plan_id) DO UPDATE SET
		 status = EXCLUDED.status,
		 markdown = EXCLUDED.markdown,
		 summary = EXCLUDED.summary,
		 artifact = EXCLUDED.artifact,
		 artifact_mime = EXCLUDED.artifact_mime,
		 input_tokens = EXCLUDED.input_tokens,
		 output_tokens = EXCLUDED.output_tokens,
		 expires_at = EXCLUDED.expires_at`,
		res.PlanID, string(res.Status), res.Title, res.Query, res.Markdown,
		res.Summary, res.Artifact, res.ArtifactMIME,
		res.Usage.InputTokens, res.Usage.OutputTokens,
		res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres: save result: %w", err)
	}
	return nil
}

// GetResult implements conductor.ResultStore.
func (s *Store) GetResult(ctx context.Context, planID string) (conductor.ResearchResult, error) {
	var res conductor.ResearchResult
	var status string
	err := s.pool.QueryRow(ctx, `SELECT plan_id, status, title, query,
		markdown, summary, artifact, artifact_mime, input_tokens,
		output_tokens, created_at, expires_at
		FROM research_results WHERE plan_id = $1`, planID).Scan(
		&res.PlanID, &status, &res.Title, &res.Query, &res.Markdown,
		&res.Summary, &res.Artifact, &res.ArtifactMIME,
		&res.Usage.InputTokens, &res.Usage.OutputTokens,
		&res.CreatedAt, &res.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conductor.ResearchResult{}, fmt.Errorf("%w: plan %q", conductor.ErrNotFound, planID)
	}
	if err != nil {
		return conductor.ResearchResult{}, fmt.Errorf("postgres: get result: %w", err)
	}
	res.Status = conductor.PlanStatus(status)
	return res, nil
}

// DeleteExpired implements conductor.ResultStore.
func (s *Store) DeleteExpired(ctx context.Context, now int64) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM research_results WHERE expires_at > 0 AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }
