package decision

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

const recordCols = `id, tracking_id, case_id, outcome, document,
	esmd_request_status, esmd_attempt_count, esmd_last_sent_at, esmd_last_error,
	utn, utn_status, utn_received_at, utn_fail_payload, utn_remediation, requires_utn_fix,
	letter_status, letter_package,
	active, supersedes, superseded_by, decided_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.TrackingID, &rec.CaseID, &rec.Outcome, &rec.Document,
		&rec.EsmdStatus, &rec.EsmdAttemptCount, &rec.EsmdLastSentAt, &rec.EsmdLastError,
		&rec.UTN, &rec.UTNStatus, &rec.UTNReceivedAt, &rec.UTNFailPayload,
		&rec.UTNRemediation, &rec.RequiresUTNFix,
		&rec.LetterStatus, &rec.LetterPackage,
		&rec.Active, &rec.Supersedes, &rec.SupersededBy, &rec.DecidedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO decision_record (
			id, tracking_id, case_id, outcome, document,
			esmd_request_status, utn_status, letter_status,
			active, supersedes, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10)`,
		rec.ID, rec.TrackingID, rec.CaseID, rec.Outcome, rec.Document,
		rec.EsmdStatus, rec.UTNStatus, rec.LetterStatus, rec.Supersedes, rec.DecidedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: the partial unique index on (tracking_id) WHERE active.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveExists
		}
		return fmt.Errorf("decision create %s: %w", rec.TrackingID, err)
	}
	return nil
}

// Supersede retires the old record and inserts the replacement in one
// transaction. The partial unique index guarantees a racing supersede loses
// with ErrActiveExists rather than producing two active rows.
func (r *repoPG) Supersede(ctx context.Context, oldID uuid.UUID, replacement *Record) error {
	if replacement.ID == uuid.Nil {
		replacement.ID = uuid.New()
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE decision_record
			SET active = FALSE, superseded_by = $2, updated_at = NOW()
			WHERE id = $1 AND active`,
			oldID, replacement.ID)
		if err != nil {
			return fmt.Errorf("decision retire %s: %w", oldID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		replacement.Supersedes = &oldID
		return r.Create(ctx, replacement)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM decision_record WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("decision get %s: %w", id, err)
	}
	return rec, nil
}

func (r *repoPG) GetActiveByTrackingID(ctx context.Context, trackingID string) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM decision_record WHERE tracking_id = $1 AND active`, trackingID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("decision get active %s: %w", trackingID, err)
	}
	return rec, nil
}

func (r *repoPG) Update(ctx context.Context, rec *Record) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE decision_record
		SET esmd_request_status = $2,
		    esmd_attempt_count = $3,
		    esmd_last_sent_at = $4,
		    esmd_last_error = $5,
		    utn = $6,
		    utn_status = $7,
		    utn_received_at = $8,
		    utn_fail_payload = $9,
		    utn_remediation = $10,
		    requires_utn_fix = $11,
		    letter_status = $12,
		    letter_package = $13,
		    updated_at = NOW()
		WHERE id = $1`,
		rec.ID, rec.EsmdStatus, rec.EsmdAttemptCount, rec.EsmdLastSentAt,
		rec.EsmdLastError, rec.UTN, rec.UTNStatus, rec.UTNReceivedAt,
		rec.UTNFailPayload, rec.UTNRemediation, rec.RequiresUTNFix,
		rec.LetterStatus, rec.LetterPackage)
	if err != nil {
		return fmt.Errorf("decision update %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListRequiringUTNFix(ctx context.Context, limit int) ([]Record, error) {
	return r.list(ctx, `
		SELECT `+recordCols+` FROM decision_record
		WHERE active AND requires_utn_fix
		ORDER BY updated_at LIMIT $1`, limit)
}

func (r *repoPG) ListByLetterStatus(ctx context.Context, status LetterStatus, limit int) ([]Record, error) {
	return r.list(ctx, `
		SELECT `+recordCols+` FROM decision_record
		WHERE active AND letter_status = $1
		ORDER BY updated_at LIMIT $2`, status, limit)
}

func (r *repoPG) list(ctx context.Context, sql string, args ...interface{}) ([]Record, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("decision list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("decision list scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}
