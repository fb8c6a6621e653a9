package inbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types carried through the inbox. The poller enqueues
// ingest_file_package rows from the intake source; the gateway feedback
// channels enqueue the rest.
const (
	TypeFilePackage  = "ingest_file_package"
	TypeEsmdAck      = "esmd_ack"
	TypeEsmdUTNFail  = "esmd_utn_fail"
	TypeLetterStatus = "letter_status"
)

// FilePackagePayload is a completed intake package ready to be recorded as a
// decision and submitted to the gateway.
type FilePackagePayload struct {
	TrackingID    string          `json:"tracking_id"`
	CaseID        string          `json:"case_id"`
	Outcome       string          `json:"outcome"`
	MessageKind   string          `json:"message_kind"`
	Document      json.RawMessage `json:"document"`
	SubmittedBy   string          `json:"submitted_by"`
	DecidedAt     time.Time       `json:"decided_at"`
	PriorDecision string          `json:"prior_decision,omitempty"`
}

// EsmdAckPayload is the gateway acknowledgment, optionally carrying the
// unique tracking number assigned downstream. CorrelationID echoes the
// outbox entry that triggered the submission; TrackingID is a fallback for
// feeds that only relay the decision key.
type EsmdAckPayload struct {
	TrackingID    string    `json:"tracking_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	UTN           string    `json:"utn,omitempty"`
	AckedAt       time.Time `json:"acked_at"`
}

// EsmdUTNFailPayload reports that the gateway accepted the submission but
// could not assign a tracking number. Remediation is the operator-facing
// message extracted from the gateway error; the full raw payload is kept on
// the decision record.
type EsmdUTNFailPayload struct {
	TrackingID    string    `json:"tracking_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Remediation   string    `json:"remediation"`
	FailedAt      time.Time `json:"failed_at"`
}

// LetterStatusPayload is a render/delivery status callback for a decision
// letter. A READY callback carries the rendered package.
type LetterStatusPayload struct {
	TrackingID string          `json:"tracking_id"`
	Status     string          `json:"status"`
	Package    json.RawMessage `json:"package,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	ReportedAt time.Time       `json:"reported_at"`
}

// DecodePayload unmarshals an entry's payload into the struct for its
// message type. Unknown types are a permanent failure; retrying cannot make
// the type known.
func DecodePayload(e *Entry) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch e.MessageType {
	case TypeFilePackage:
		p := &FilePackagePayload{}
		err = json.Unmarshal(e.Payload, p)
		v = p
	case TypeEsmdAck:
		p := &EsmdAckPayload{}
		err = json.Unmarshal(e.Payload, p)
		v = p
	case TypeEsmdUTNFail:
		p := &EsmdUTNFailPayload{}
		err = json.Unmarshal(e.Payload, p)
		v = p
	case TypeLetterStatus:
		p := &LetterStatusPayload{}
		err = json.Unmarshal(e.Payload, p)
		v = p
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrPermanent, e.MessageType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrPermanent, e.MessageType, err)
	}
	return v, nil
}
