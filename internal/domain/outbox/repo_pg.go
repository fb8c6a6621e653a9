package outbox

import (
	"context"
	"errors"
	"fmt"

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

const entryCols = `id, tracking_id, decision_id, correlation_id, payload, payload_hash,
	payload_version, attempt_count, status, resend_of_entry_id, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID, &e.TrackingID, &e.DecisionID, &e.CorrelationID, &e.Payload, &e.PayloadHash,
		&e.PayloadVersion, &e.AttemptCount, &e.Status, &e.ResendOfID, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO outbox_entry (
			id, tracking_id, decision_id, correlation_id, payload, payload_hash,
			payload_version, attempt_count, status, resend_of_entry_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.TrackingID, e.DecisionID, e.CorrelationID, e.Payload, e.PayloadHash,
		e.PayloadVersion, e.AttemptCount, e.Status, e.ResendOfID)
	if err != nil {
		return fmt.Errorf("outbox append %s: %w", e.TrackingID, err)
	}
	return nil
}

func (r *repoPG) GetLatestByTrackingID(ctx context.Context, trackingID string) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM outbox_entry
		 WHERE tracking_id = $1 ORDER BY created_at DESC, payload_version DESC LIMIT 1`,
		trackingID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("outbox latest %s: %w", trackingID, err)
	}
	return e, nil
}

func (r *repoPG) GetChain(ctx context.Context, trackingID string) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM outbox_entry
		 WHERE tracking_id = $1 ORDER BY created_at, payload_version`,
		trackingID)
	if err != nil {
		return nil, fmt.Errorf("outbox chain %s: %w", trackingID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox chain scan: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *repoPG) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM outbox_entry WHERE correlation_id = $1`,
		correlationID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("outbox correlation %s: %w", correlationID, err)
	}
	return e, nil
}
