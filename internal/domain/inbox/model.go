package inbox

import (
	"time"

	"github.com/google/uuid"
)

// Status is the inbox entry lifecycle. NEW and FAILED are claimable; DONE and
// DEAD are terminal (DEAD only until an operator requeues).
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
	StatusDead       Status = "DEAD"
)

// Entry is one durable unit of work pulled from a source system. Entries are
// deduplicated on SourceMessageID and processed in (SourceCreatedAt, ID)
// order on a best-effort basis.
type Entry struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	SourceMessageID string     `db:"source_message_id" json:"source_message_id"`
	CorrelationKey  string     `db:"correlation_key" json:"correlation_key"`
	MessageType     string     `db:"message_type" json:"message_type"`
	Payload         []byte     `db:"payload" json:"payload"`
	Status          Status     `db:"status" json:"status"`
	Attempt         int        `db:"attempt" json:"attempt"`
	NextAttemptAt   time.Time  `db:"next_attempt_at" json:"next_attempt_at"`
	LockedBy        *string    `db:"locked_by" json:"locked_by,omitempty"`
	LockedAt        *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	SourceCreatedAt time.Time  `db:"source_created_at" json:"source_created_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// backoffLadder maps the attempt number that just failed to the delay before
// the next try. Attempts past the ladder wait a day.
var backoffLadder = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
}

// Backoff returns the retry delay after the given attempt number (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffLadder) {
		return 24 * time.Hour
	}
	return backoffLadder[attempt-1]
}
