// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitescope/siteaudit/internal/audit"
)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// NewPool builds a pgx connection pool from the config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// AuditStore implements audit.Store on top of the audits table. Structured
// fields (tier, keywords, pipeline state) are stored as JSONB so resume can
// reload exactly what the primary run persisted.
type AuditStore struct {
	pool dbPool
}

// NewAuditStore creates a Postgres-backed audit store using the provided config.
func NewAuditStore(ctx context.Context, cfg PoolConfig) (*AuditStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &AuditStore{pool: pool}, nil
}

// NewAuditStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAuditStoreWithPool(pool dbPool) (*AuditStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AuditStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateAudit inserts a new audit row.
func (s *AuditStore) CreateAudit(ctx context.Context, a audit.Audit) error {
	if a.ID == "" {
		return fmt.Errorf("audit id is required")
	}
	tierJSON, err := json.Marshal(a.Tier)
	if err != nil {
		return fmt.Errorf("marshal tier: %w", err)
	}
	keywordsJSON, err := json.Marshal(a.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	stateJSON, err := marshalState(a.State)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO audits (
			id, site_url, tier, keywords, section_filter,
			status, submitted_at, started_at, finished_at,
			retry_after, error_text, state
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);
	`
	_, err = s.pool.Exec(ctx, query,
		a.ID,
		a.SiteURL,
		tierJSON,
		keywordsJSON,
		a.SectionFilter,
		a.Status,
		a.Submitted,
		a.Started,
		a.Finished,
		a.RetryAfter,
		a.ErrorText,
		stateJSON,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// GetAudit retrieves a single audit by its ID.
func (s *AuditStore) GetAudit(ctx context.Context, auditID string) (audit.Audit, error) {
	query := `
		SELECT id, site_url, tier, keywords, section_filter,
			status, submitted_at, started_at, finished_at,
			retry_after, error_text, state
		FROM audits
		WHERE id = $1;
	`
	var (
		a            audit.Audit
		tierJSON     []byte
		keywordsJSON []byte
		stateJSON    []byte
	)
	err := s.pool.QueryRow(ctx, query, auditID).Scan(
		&a.ID,
		&a.SiteURL,
		&tierJSON,
		&keywordsJSON,
		&a.SectionFilter,
		&a.Status,
		&a.Submitted,
		&a.Started,
		&a.Finished,
		&a.RetryAfter,
		&a.ErrorText,
		&stateJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Audit{}, audit.ErrNotFound
		}
		return audit.Audit{}, fmt.Errorf("get audit: %w", err)
	}
	if err := unmarshalAuditColumns(&a, tierJSON, keywordsJSON, stateJSON); err != nil {
		return audit.Audit{}, err
	}
	return a, nil
}

// UpdateAuditStatus transitions the audit and records timing side effects.
// Started is set the first time the audit enters CRAWLING; Finished is set on
// terminal statuses.
func (s *AuditStore) UpdateAuditStatus(
	ctx context.Context,
	auditID string,
	status audit.AuditStatus,
	errText string,
	retryAfter *time.Time,
) error {
	query := `
		UPDATE audits
		SET status = $1,
			error_text = $2,
			retry_after = $3,
			started_at = CASE
				WHEN $1 = 'CRAWLING' AND started_at IS NULL THEN now()
				ELSE started_at
			END,
			finished_at = CASE
				WHEN $1 IN ('COMPLETED', 'FAILED') THEN now()
				ELSE finished_at
			END
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, status, errText, retryAfter, auditID)
	if err != nil {
		return fmt.Errorf("update audit status: %w", err)
	}
	if res.RowsAffected() == 0 {
		return audit.ErrNotFound
	}
	return nil
}

// SaveState snapshots the pipeline state as JSONB.
func (s *AuditStore) SaveState(ctx context.Context, auditID string, state *audit.PipelineState) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return err
	}
	res, err := s.pool.Exec(ctx, `UPDATE audits SET state = $1 WHERE id = $2;`, stateJSON, auditID)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if res.RowsAffected() == 0 {
		return audit.ErrNotFound
	}
	return nil
}

// MergeComponentState folds state's transitions for the given keys into the
// stored JSONB snapshot. The read-merge-write runs under FOR UPDATE so two
// chains persisting concurrently serialize per audit and each rewrites only
// its own keys, never the sibling's recorded completions.
func (s *AuditStore) MergeComponentState(
	ctx context.Context,
	auditID string,
	keys []audit.ComponentKey,
	state *audit.PipelineState,
) error {
	if state == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin state merge: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var storedJSON []byte
	err = tx.QueryRow(ctx, `SELECT state FROM audits WHERE id = $1 FOR UPDATE;`, auditID).Scan(&storedJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load state for merge: %w", err)
	}

	merged := state.Clone()
	if len(storedJSON) > 0 {
		stored := &audit.PipelineState{}
		if err := json.Unmarshal(storedJSON, stored); err != nil {
			return fmt.Errorf("unmarshal stored state: %w", err)
		}
		stored.MergeKeys(state, keys)
		merged = stored
	}
	mergedJSON, err := marshalState(merged)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE audits SET state = $1 WHERE id = $2;`, mergedJSON, auditID); err != nil {
		return fmt.Errorf("save merged state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit state merge: %w", err)
	}
	return nil
}

// ListAudits retrieves audits with optional status filtering, newest first.
func (s *AuditStore) ListAudits(
	ctx context.Context,
	status *audit.AuditStatus,
	limit, offset int,
) ([]audit.Audit, error) {
	query := `
		SELECT id, site_url, tier, keywords, section_filter,
			status, submitted_at, started_at, finished_at,
			retry_after, error_text, state
		FROM audits
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	var audits []audit.Audit
	for rows.Next() {
		var (
			a            audit.Audit
			tierJSON     []byte
			keywordsJSON []byte
			stateJSON    []byte
		)
		err := rows.Scan(
			&a.ID,
			&a.SiteURL,
			&tierJSON,
			&keywordsJSON,
			&a.SectionFilter,
			&a.Status,
			&a.Submitted,
			&a.Started,
			&a.Finished,
			&a.RetryAfter,
			&a.ErrorText,
			&stateJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if err := unmarshalAuditColumns(&a, tierJSON, keywordsJSON, stateJSON); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

func marshalState(state *audit.PipelineState) ([]byte, error) {
	if state == nil {
		return nil, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

func unmarshalAuditColumns(a *audit.Audit, tierJSON, keywordsJSON, stateJSON []byte) error {
	if len(tierJSON) > 0 {
		if err := json.Unmarshal(tierJSON, &a.Tier); err != nil {
			return fmt.Errorf("unmarshal tier: %w", err)
		}
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &a.Keywords); err != nil {
			return fmt.Errorf("unmarshal keywords: %w", err)
		}
	}
	if len(stateJSON) > 0 {
		a.State = &audit.PipelineState{}
		if err := json.Unmarshal(stateJSON, a.State); err != nil {
			return fmt.Errorf("unmarshal state: %w", err)
		}
	}
	return nil
}
