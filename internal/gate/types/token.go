package types

import "time"

// Purpose distinguishes how a visitor presents at the gate.
type Purpose string

const (
	PurposeVehicular  Purpose = "vehicular"
	PurposePedestrian Purpose = "pedestrian"
)

func (p Purpose) Valid() bool {
	return p == PurposeVehicular || p == PurposePedestrian
}

// TokenStatus is the access-token lifecycle state.
//
//	pending -> active -> consumed (terminal)
//	pending/active -> revoked (terminal)
//	active -> expired (terminal)
type TokenStatus string

const (
	StatusPending  TokenStatus = "pending"
	StatusActive   TokenStatus = "active"
	StatusConsumed TokenStatus = "consumed"
	StatusExpired  TokenStatus = "expired"
	StatusRevoked  TokenStatus = "revoked"
)

// Terminal reports whether the status permits no further transitions.
func (s TokenStatus) Terminal() bool {
	return s == StatusConsumed || s == StatusExpired || s == StatusRevoked
}

// AccessToken is a time-bounded, purpose-tagged credential a resident
// issues for a visitor. The QR payload carries ID, Purpose, IssuedAt and
// ExpiresAt plus an integrity value; ResidentID, VisitorName and Status
// live only in the stores.
type AccessToken struct {
	ID          string
	ResidentID  string
	VisitorName string // optional; embedded into the visitor record on consumption
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Purpose     Purpose
	Status      TokenStatus
}
