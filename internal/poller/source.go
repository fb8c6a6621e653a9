// Package poller moves completed work from the intake source table into the
// inbox, tracking progress with a watermark cursor.
package poller

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SourceRow is one record from the polled source, in the source's own shape.
type SourceRow struct {
	ID             int64
	MessageID      string
	CorrelationKey string
	MessageType    string
	Payload        []byte
	CreatedAt      time.Time
}

// SourceReader fetches rows strictly after a watermark position, ordered by
// (created_at, id).
type SourceReader interface {
	FetchAfter(ctx context.Context, ts time.Time, id int64, limit int) ([]SourceRow, error)
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PGSourceReader reads the intake table directly. The table name comes from
// configuration and is validated as a bare identifier because it cannot be a
// bind parameter.
type PGSourceReader struct {
	pool  *pgxpool.Pool
	table string
}

func NewPGSourceReader(pool *pgxpool.Pool, table string) (*PGSourceReader, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid source table name %q", table)
	}
	return &PGSourceReader{pool: pool, table: table}, nil
}

func (r *PGSourceReader) FetchAfter(ctx context.Context, ts time.Time, id int64, limit int) ([]SourceRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, message_id, correlation_key, message_type, payload, created_at
		FROM `+r.table+`
		WHERE (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`,
		ts, id, limit)
	if err != nil {
		return nil, fmt.Errorf("source fetch: %w", err)
	}
	defer rows.Close()

	var out []SourceRow
	for rows.Next() {
		var sr SourceRow
		if err := rows.Scan(&sr.ID, &sr.MessageID, &sr.CorrelationKey, &sr.MessageType, &sr.Payload, &sr.CreatedAt); err != nil {
			return nil, fmt.Errorf("source scan: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}
