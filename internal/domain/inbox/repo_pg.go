package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pabridge/pabridge/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `id, source_message_id, correlation_key, message_type, payload, status, attempt,
	next_attempt_at, locked_by, locked_at, last_error, source_created_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID, &e.SourceMessageID, &e.CorrelationKey, &e.MessageType, &e.Payload, &e.Status, &e.Attempt,
		&e.NextAttemptAt, &e.LockedBy, &e.LockedAt, &e.LastError, &e.SourceCreatedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Enqueue(ctx context.Context, e *Entry) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO inbox_entry (
			id, source_message_id, correlation_key, message_type, payload, status, attempt,
			next_attempt_at, source_created_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), $7)
		ON CONFLICT (source_message_id) DO NOTHING`,
		e.ID, e.SourceMessageID, e.CorrelationKey, e.MessageType, e.Payload, StatusNew, e.SourceCreatedAt)
	if err != nil {
		return false, fmt.Errorf("inbox enqueue %s: %w", e.SourceMessageID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Claim uses SKIP LOCKED so concurrent workers never block each other or
// claim the same row. Ordering follows source time, then insertion id, so the
// queue drains roughly in the order the source produced it.
func (r *repoPG) Claim(ctx context.Context, workerID string, limit int) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE inbox_entry SET
			status = $1,
			attempt = attempt + 1,
			locked_by = $2,
			locked_at = NOW(),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM inbox_entry
			WHERE status IN ($3, $4) AND next_attempt_at <= NOW()
			ORDER BY source_created_at, id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+entryCols,
		StatusProcessing, workerID, StatusNew, StatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("inbox claim: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("inbox claim scan: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *repoPG) MarkDone(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, `
		UPDATE inbox_entry SET status = $2, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $1`, StatusDone)
}

func (r *repoPG) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE inbox_entry SET
			status = $2, last_error = $3, next_attempt_at = $4,
			locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, StatusFailed, lastError, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("inbox mark failed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkDead(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE inbox_entry SET
			status = $2, last_error = $3,
			locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, StatusDead, lastError)
	if err != nil {
		return fmt.Errorf("inbox mark dead %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ReclaimStale(ctx context.Context, lockTimeout time.Duration) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE inbox_entry SET
			status = $1, locked_by = NULL, locked_at = NULL,
			next_attempt_at = NOW(), updated_at = NOW()
		WHERE status = $2 AND locked_at < NOW() - $3::interval`,
		StatusNew, StatusProcessing, lockTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("inbox reclaim stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) ListDead(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM inbox_entry WHERE status = $1 ORDER BY updated_at LIMIT $2`,
		StatusDead, limit)
	if err != nil {
		return nil, fmt.Errorf("inbox list dead: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("inbox list dead scan: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *repoPG) CountDead(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM inbox_entry WHERE status = $1`, StatusDead).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inbox count dead: %w", err)
	}
	return n, nil
}

func (r *repoPG) Requeue(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE inbox_entry SET
			status = $2, attempt = 0, next_attempt_at = NOW(),
			last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusNew, StatusDead)
	if err != nil {
		return fmt.Errorf("inbox requeue %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM inbox_entry WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("inbox get %s: %w", id, err)
	}
	return e, nil
}

func (r *repoPG) setStatus(ctx context.Context, id uuid.UUID, sql string, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, id, status)
	if err != nil {
		return fmt.Errorf("inbox status %s -> %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
