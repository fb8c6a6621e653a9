package decision

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome of the clinical review.
type Outcome string

const (
	OutcomeAffirm    Outcome = "AFFIRM"
	OutcomeNonAffirm Outcome = "NON_AFFIRM"
	OutcomeDismissal Outcome = "DISMISSAL"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAffirm, OutcomeNonAffirm, OutcomeDismissal:
		return true
	}
	return false
}

// RequiresLetter reports whether this outcome must produce a beneficiary
// letter. Dismissals are closed without correspondence.
func (o Outcome) RequiresLetter() bool {
	return o == OutcomeAffirm || o == OutcomeNonAffirm
}

// EsmdStatus tracks the regulatory submission for one decision record.
type EsmdStatus string

const (
	EsmdNotSent        EsmdStatus = "NOT_SENT"
	EsmdSent           EsmdStatus = "SENT"
	EsmdAcked          EsmdStatus = "ACKED"
	EsmdFailed         EsmdStatus = "FAILED"
	EsmdResendRequired EsmdStatus = "RESEND_REQUIRED"
)

// esmdTransitions is the allowed edge set. RESEND_REQUIRED re-enters SENT
// when the resend goes out.
var esmdTransitions = map[EsmdStatus][]EsmdStatus{
	EsmdNotSent:        {EsmdSent, EsmdFailed},
	EsmdSent:           {EsmdAcked, EsmdFailed, EsmdResendRequired},
	EsmdAcked:          {EsmdResendRequired},
	EsmdFailed:         {EsmdResendRequired, EsmdSent},
	EsmdResendRequired: {EsmdSent, EsmdFailed},
}

// UTNStatus tracks whether the gateway assigned a unique tracking number.
type UTNStatus string

const (
	UTNNone    UTNStatus = "NONE"
	UTNSuccess UTNStatus = "SUCCESS"
	UTNFailed  UTNStatus = "FAILED"
)

var utnTransitions = map[UTNStatus][]UTNStatus{
	UTNNone:   {UTNSuccess, UTNFailed},
	UTNFailed: {UTNSuccess},
}

// LetterStatus tracks the beneficiary letter lifecycle.
type LetterStatus string

const (
	LetterNone    LetterStatus = "NONE"
	LetterPending LetterStatus = "PENDING"
	LetterReady   LetterStatus = "READY"
	LetterFailed  LetterStatus = "FAILED"
	LetterSent    LetterStatus = "SENT"
)

var letterTransitions = map[LetterStatus][]LetterStatus{
	LetterNone:    {LetterPending},
	LetterPending: {LetterReady, LetterFailed},
	LetterReady:   {LetterSent},
	LetterFailed:  {LetterPending},
}

// ErrInvalidTransition is wrapped by all state-machine violations so callers
// can treat them as permanent.
type InvalidTransitionError struct {
	Field string
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Field, e.From, e.To)
}

func checkEsmd(from, to EsmdStatus) error {
	for _, allowed := range esmdTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Field: "esmd_request_status", From: string(from), To: string(to)}
}

func checkUTN(from, to UTNStatus) error {
	for _, allowed := range utnTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Field: "utn_status", From: string(from), To: string(to)}
}

func checkLetter(from, to LetterStatus) error {
	for _, allowed := range letterTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Field: "letter_status", From: string(from), To: string(to)}
}

// Record is one decision in the append-only chain for a tracking id. At most
// one record per tracking id is active; superseded records keep their final
// state for audit.
type Record struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	TrackingID       string          `db:"tracking_id" json:"tracking_id"`
	CaseID           string          `db:"case_id" json:"case_id"`
	Outcome          Outcome         `db:"outcome" json:"outcome"`
	Document         json.RawMessage `db:"document" json:"document,omitempty"`
	EsmdStatus       EsmdStatus      `db:"esmd_request_status" json:"esmd_request_status"`
	EsmdAttemptCount int             `db:"esmd_attempt_count" json:"esmd_attempt_count"`
	EsmdLastSentAt   *time.Time      `db:"esmd_last_sent_at" json:"esmd_last_sent_at,omitempty"`
	EsmdLastError    *string         `db:"esmd_last_error" json:"esmd_last_error,omitempty"`
	UTN              *string         `db:"utn" json:"utn,omitempty"`
	UTNStatus        UTNStatus       `db:"utn_status" json:"utn_status"`
	UTNReceivedAt    *time.Time      `db:"utn_received_at" json:"utn_received_at,omitempty"`
	UTNFailPayload   json.RawMessage `db:"utn_fail_payload" json:"utn_fail_payload,omitempty"`
	UTNRemediation   *string         `db:"utn_remediation" json:"utn_remediation,omitempty"`
	RequiresUTNFix   bool            `db:"requires_utn_fix" json:"requires_utn_fix"`
	LetterStatus     LetterStatus    `db:"letter_status" json:"letter_status"`
	LetterPackage    json.RawMessage `db:"letter_package" json:"letter_package,omitempty"`
	Active           bool            `db:"active" json:"active"`
	Supersedes       *uuid.UUID      `db:"supersedes" json:"supersedes,omitempty"`
	SupersededBy     *uuid.UUID      `db:"superseded_by" json:"superseded_by,omitempty"`
	DecidedAt        time.Time       `db:"decided_at" json:"decided_at"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}
