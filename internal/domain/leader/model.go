package leader

import (
	"time"
)

// Task names for the singleton loops. Each task has at most one live lease
// holder across the fleet.
const (
	TaskPoller  = "poller"
	TaskSweeper = "sweeper"
	TaskLetter  = "letter"
)

// Lease is one row in the leader_lease table. A lease is live while its
// heartbeat is fresher than the staleness window; a stale lease may be taken
// over by any instance.
type Lease struct {
	TaskName    string    `db:"task_name" json:"task_name"`
	HolderID    string    `db:"holder_id" json:"holder_id"`
	AcquiredAt  time.Time `db:"acquired_at" json:"acquired_at"`
	HeartbeatAt time.Time `db:"heartbeat_at" json:"heartbeat_at"`
}

// IsLive reports whether the lease heartbeat is within the staleness window
// as of now.
func (l Lease) IsLive(now time.Time, staleness time.Duration) bool {
	return now.Sub(l.HeartbeatAt) < staleness
}
