package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"greenearth/internal/core/domain"
	"greenearth/internal/core/ports"
	"greenearth/pkg/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_recordings (
	recording_id  TEXT PRIMARY KEY,
	call_id       TEXT NOT NULL,
	object_key    TEXT NOT NULL,
	size_bytes    BIGINT NOT NULL,
	mime_type     TEXT NOT NULL,
	duration_ms   BIGINT NOT NULL,
	is_group_call BOOLEAN NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_recordings_call_id_idx ON call_recordings (call_id, created_at DESC);
`

const recordingColumns = `recording_id, call_id, object_key, size_bytes, mime_type, duration_ms, is_group_call, created_at`

// dbtx is the subset of *pgxpool.Pool the catalog uses.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type RecordingCatalog struct {
	db dbtx
}

// NewPool opens a pgx pool and checks connectivity.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewRecordingCatalog creates the table when missing.
func NewRecordingCatalog(ctx context.Context, pool *pgxpool.Pool) (ports.RecordingCatalog, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to migrate call_recordings: %w", err)
	}
	return &RecordingCatalog{db: pool}, nil
}

func (c *RecordingCatalog) Save(ctx context.Context, record *domain.RecordingRecord) error {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "insert", "call_recordings")
	defer span.End()

	query := `
		INSERT INTO call_recordings (` + recordingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (recording_id) DO UPDATE SET
			object_key = EXCLUDED.object_key,
			size_bytes = EXCLUDED.size_bytes,
			mime_type = EXCLUDED.mime_type,
			duration_ms = EXCLUDED.duration_ms
	`
	_, err := c.db.Exec(ctx, query,
		string(record.ID),
		string(record.CallID),
		record.ObjectKey,
		record.SizeBytes,
		record.MimeType,
		record.Duration.Milliseconds(),
		record.IsGroupCall,
		record.CreatedAt,
	)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to save recording: %w", err)
	}
	return nil
}

func (c *RecordingCatalog) GetByID(ctx context.Context, id domain.RecordingID) (*domain.RecordingRecord, error) {
	query := `SELECT ` + recordingColumns + ` FROM call_recordings WHERE recording_id = $1`

	record, err := scanRecord(c.db.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return record, nil
}

// ListByCall returns the call's recordings, newest first.
func (c *RecordingCatalog) ListByCall(ctx context.Context, callID domain.CallID) ([]*domain.RecordingRecord, error) {
	ctx, span := tracing.TraceDatabaseOperation(ctx, "select", "call_recordings")
	defer span.End()

	query := `SELECT ` + recordingColumns + ` FROM call_recordings WHERE call_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.Query(ctx, query, string(callID))
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	records := []*domain.RecordingRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*domain.RecordingRecord, error) {
	var (
		record     domain.RecordingRecord
		id, callID string
		durationMs int64
	)
	err := row.Scan(
		&id,
		&callID,
		&record.ObjectKey,
		&record.SizeBytes,
		&record.MimeType,
		&durationMs,
		&record.IsGroupCall,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = domain.RecordingID(id)
	record.CallID = domain.CallID(callID)
	record.Duration = time.Duration(durationMs) * time.Millisecond
	return &record, nil
}
