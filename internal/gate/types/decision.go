package types

import "time"

// RejectReason is the audited reason a scan was not admitted.
type RejectReason string

const (
	ReasonInvalidCode        RejectReason = "invalid_code"
	ReasonIntegrityMismatch  RejectReason = "integrity_mismatch"
	ReasonUnsupportedVersion RejectReason = "unsupported_version"
	ReasonAlreadyConsumed    RejectReason = "already_consumed"
	ReasonExpired            RejectReason = "expired"
	ReasonRevoked            RejectReason = "revoked"
	ReasonOutsideWindow      RejectReason = "outside_window"
)

// AdmitDecision is the outcome of presenting an encoded payload at the gate.
type AdmitDecision struct {
	Admitted  bool
	Reason    RejectReason // empty when admitted
	TokenID   string       // empty when the payload never decoded
	VisitorID string       // set when admission created a visitor record
	DecidedAt time.Time
}
