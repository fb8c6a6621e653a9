package outbox

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Status distinguishes how an entry entered the chain. Entries never change
// after creation; gateway resolution lives on the decision record.
type Status string

const (
	StatusSent   Status = "SENT"
	StatusResend Status = "RESEND"
)

// Entry is one submission to the gateway. The table is append-only: a resend
// is a new entry pointing back at the one it replaces, never an update. The
// chain for a tracking id is the full audit trail of what was sent and when.
// CorrelationID is echoed by the gateway so asynchronous feedback can be tied
// back to the exact send.
type Entry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TrackingID     string     `db:"tracking_id" json:"tracking_id"`
	DecisionID     uuid.UUID  `db:"decision_id" json:"decision_id"`
	CorrelationID  uuid.UUID  `db:"correlation_id" json:"correlation_id"`
	Payload        []byte     `db:"payload" json:"payload"`
	PayloadHash    string     `db:"payload_hash" json:"payload_hash"`
	PayloadVersion int        `db:"payload_version" json:"payload_version"`
	AttemptCount   int        `db:"attempt_count" json:"attempt_count"`
	Status         Status     `db:"status" json:"status"`
	ResendOfID     *uuid.UUID `db:"resend_of_entry_id" json:"resend_of_entry_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// HashPayload is the content identity used for dedup and version bumps.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
