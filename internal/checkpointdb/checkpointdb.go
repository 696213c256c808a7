// Package checkpointdb implements a durable, queryable side-channel to the
// KVS: a Postgres-backed audit trail of every completed bundle plus
// per-run checkpoints, for operators who need SQL-queryable history that
// outlives the KVS's TTL-bound keys.
package checkpointdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/fetchengine/internal/notify"
)

// Store wraps a Postgres connection pool holding the checkpoint and audit
// tables.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies connectivity, and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("checkpointdb: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpointdb: create pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checkpointdb: ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_checkpoints (
			run_id TEXT PRIMARY KEY,
			recipe_id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bundle_audit (
			bid TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			recipe_id TEXT NOT NULL,
			primary_url TEXT NOT NULL,
			storage_key TEXT,
			resources_count INTEGER NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bundle_audit_recipe ON bundle_audit(recipe_id, completed_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("checkpointdb: ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// SaveCheckpoint upserts an opaque, JSON-serializable run checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, runID, recipeID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("checkpointdb: marshal checkpoint: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_checkpoints (run_id, recipe_id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id) DO UPDATE SET recipe_id = $2, data = $3, updated_at = NOW()`,
		runID, recipeID, raw)
	if err != nil {
		return fmt.Errorf("checkpointdb: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint unmarshals the most recent checkpoint for runID into dst.
// Returns false, nil if no checkpoint has been saved for runID.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string, dst any) (bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM run_checkpoints WHERE run_id = $1`, runID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checkpointdb: load checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("checkpointdb: unmarshal checkpoint: %w", err)
	}
	return true, nil
}

// AuditPublisher implements notify.Publisher by recording every bundle
// completion in the bundle_audit table, so it can be composed alongside an
// operational publisher (SQS, gRPC) via a fan-out wrapper.
type AuditPublisher struct {
	Store  *Store
	RunID  string
}

func NewAuditPublisher(store *Store, runID string) *AuditPublisher {
	return &AuditPublisher{Store: store, RunID: runID}
}

func (p *AuditPublisher) Publish(ctx context.Context, msg notify.BundleCompletion) error {
	completedAt, err := time.Parse(time.RFC3339, msg.CompletionTimestamp)
	if err != nil {
		completedAt = time.Now().UTC()
	}
	_, err = p.Store.pool.Exec(ctx, `
		INSERT INTO bundle_audit (bid, run_id, recipe_id, primary_url, storage_key, resources_count, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bid) DO NOTHING`,
		msg.BundleID, p.RunID, msg.RecipeID, msg.PrimaryURL, msg.StorageKey, msg.ResourcesCount, completedAt)
	if err != nil {
		return fmt.Errorf("checkpointdb: record bundle audit: %w", err)
	}
	return nil
}

func (p *AuditPublisher) Close() error { return nil }
