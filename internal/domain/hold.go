package domain

import "time"

// SlotHold is a short-lived mutual-exclusion lease on a slot identifier.
type SlotHold struct {
	SlotID string
	HoldID string

	// Informational only.
	CallID     string
	Contact    string
	AcquiredAt time.Time

	ExpiresAt time.Time
}

// Live reports whether the hold is still in force at now.
func (h SlotHold) Live(now time.Time) bool {
	return now.Before(h.ExpiresAt)
}
