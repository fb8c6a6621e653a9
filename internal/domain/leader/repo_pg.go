package leader

import (
	"context"
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
	pool      *pgxpool.Pool
	staleness time.Duration
}

func NewRepo(pool *pgxpool.Pool, staleness time.Duration) Repository {
	return &repoPG{pool: pool, staleness: staleness}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// TryAcquire is a single atomic upsert. The WHERE clause on the conflict arm
// admits only the current holder or a takeover of a stale lease, so two
// instances can never both see success in the same staleness window.
func (r *repoPG) TryAcquire(ctx context.Context, taskName, holderID string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO leader_lease (task_name, holder_id, acquired_at, heartbeat_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (task_name) DO UPDATE
		SET holder_id = EXCLUDED.holder_id,
		    acquired_at = CASE WHEN leader_lease.holder_id = EXCLUDED.holder_id
		                       THEN leader_lease.acquired_at ELSE NOW() END,
		    heartbeat_at = NOW()
		WHERE leader_lease.holder_id = EXCLUDED.holder_id
		   OR leader_lease.heartbeat_at < NOW() - $3::interval`,
		taskName, holderID, r.staleness.String())
	if err != nil {
		return false, fmt.Errorf("lease acquire %s: %w", taskName, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) Heartbeat(ctx context.Context, taskName, holderID string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE leader_lease SET heartbeat_at = NOW()
		WHERE task_name = $1 AND holder_id = $2`,
		taskName, holderID)
	if err != nil {
		return false, fmt.Errorf("lease heartbeat %s: %w", taskName, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release expires the heartbeat so the next TryAcquire takes over through
// the stale arm. Lease rows are created once per task and only overwritten,
// never deleted.
func (r *repoPG) Release(ctx context.Context, taskName, holderID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE leader_lease SET heartbeat_at = 'epoch'
		WHERE task_name = $1 AND holder_id = $2`,
		taskName, holderID)
	if err != nil {
		return fmt.Errorf("lease release %s: %w", taskName, err)
	}
	return nil
}

const leaseCols = `task_name, holder_id, acquired_at, heartbeat_at`

func (r *repoPG) List(ctx context.Context) ([]Lease, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+leaseCols+` FROM leader_lease ORDER BY task_name`)
	if err != nil {
		return nil, fmt.Errorf("lease list: %w", err)
	}
	defer rows.Close()

	var leases []Lease
	for rows.Next() {
		var l Lease
		if err := rows.Scan(&l.TaskName, &l.HolderID, &l.AcquiredAt, &l.HeartbeatAt); err != nil {
			return nil, fmt.Errorf("lease list scan: %w", err)
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}
