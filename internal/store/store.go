// Package store archives raw finding batches in PostgreSQL so an ingestion
// can be replayed later from the exact input that produced it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

// ErrBatchNotFound is returned by GetBatch when nothing is archived under a
// fingerprint.
var ErrBatchNotFound = errors.New("no archived batch for fingerprint")

var batchColumns = []string{"fingerprint", "position", "payload", "archived_at"}

const (
	createTableSQL = `
        CREATE TABLE IF NOT EXISTS finding_batches (
            fingerprint TEXT        NOT NULL,
            position    INTEGER     NOT NULL,
            payload     JSONB       NOT NULL,
            archived_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (fingerprint, position)
        );
    `
	deleteBatchSQL = `DELETE FROM finding_batches WHERE fingerprint = $1;`
	selectBatchSQL = `
        SELECT payload
        FROM finding_batches
        WHERE fingerprint = $1
        ORDER BY position ASC;
    `
	listBatchesSQL = `
        SELECT fingerprint, COUNT(*), MAX(archived_at)
        FROM finding_batches
        GROUP BY fingerprint
        ORDER BY MAX(archived_at) DESC
        LIMIT $1;
    `
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// BatchSummary describes one archived batch.
type BatchSummary struct {
	Fingerprint  string
	FindingCount int
	ArchivedAt   time.Time
}

// Store is the PostgreSQL implementation of schemas.FindingsArchive.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.FindingsArchive = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  observability.Named(logger, "store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the archive table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create finding_batches table: %w", err)
	}
	return nil
}

// ArchiveBatch replaces whatever is stored under fingerprint with findings,
// one row per finding in input order.
func (s *Store) ArchiveBatch(ctx context.Context, fingerprint string, findings []schemas.Finding) error {
	rows := make([][]any, len(findings))
	archivedAt := s.now().UTC()
	for i, f := range findings {
		payload, err := json.ConfigCompatibleWithStandardLibrary.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode finding %s: %w", f.ID, err)
		}
		rows[i] = []any{fingerprint, i, payload, archivedAt}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, deleteBatchSQL, fingerprint); err != nil {
		return fmt.Errorf("failed to clear previous batch: %w", err)
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"finding_batches"}, batchColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Archived findings batch", zap.String("fingerprint", fingerprint), zap.Int("findings", len(findings)))
	return nil
}

// GetBatch returns the findings archived under fingerprint in their original
// order.
func (s *Store) GetBatch(ctx context.Context, fingerprint string) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, selectBatchSQL, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to query finding batch: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		var f schemas.Finding
		if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(payload, &f); err != nil {
			return nil, fmt.Errorf("failed to decode archived finding at position %d: %w", len(findings), err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	if len(findings) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, fingerprint)
	}
	return findings, nil
}

// ListBatches returns the most recently archived batches, newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, listBatchesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list finding batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var b BatchSummary
		var count int64
		if err := rows.Scan(&b.Fingerprint, &count, &b.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch summary: %w", err)
		}
		b.FindingCount = int(count)
		b.ArchivedAt = b.ArchivedAt.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
