package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const cursorCols = `source_id, last_seen_at, last_seen_id, updated_at`

func (r *repoPG) Read(ctx context.Context, sourceID string) (*Cursor, error) {
	var c Cursor
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+cursorCols+` FROM watermark_cursor WHERE source_id = $1`, sourceID,
	).Scan(&c.SourceID, &c.LastSeenTimestamp, &c.LastSeenID, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("watermark read %s: %w", sourceID, err)
	}
	return &c, nil
}

// Advance is a compare-and-set on the (timestamp, id) tuple: a no-op when the
// stored position is already at or past the target, so replays and restarts
// can never move the cursor backwards.
func (r *repoPG) Advance(ctx context.Context, sourceID string, ts time.Time, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE watermark_cursor
		SET last_seen_at = $2, last_seen_id = $3, updated_at = NOW()
		WHERE source_id = $1 AND (last_seen_at, last_seen_id) < ($2, $3)`,
		sourceID, ts, id)
	if err != nil {
		return fmt.Errorf("watermark advance %s: %w", sourceID, err)
	}
	return nil
}
