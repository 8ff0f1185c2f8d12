package types

import "time"

// VisitorRecord is one admission of a visitor. Records are append-only:
// once synced to the system of record a correction creates a new record,
// it never rewrites history.
type VisitorRecord struct {
	ID           string
	TokenID      string // empty for pedestrian walk-ins registered without a token
	ResidentID   string
	Name         string
	VehiclePlate string
	EntryAt      time.Time
	ExitAt       *time.Time
}

// Resident is one row of the locally mirrored resident directory.
// AccessCode is the personal code residents log in with (the same code
// printed on their permanent gate credential).
type Resident struct {
	ID         string
	Name       string
	AccessCode string
}
