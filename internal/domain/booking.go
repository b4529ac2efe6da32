package domain

import "time"

// BookingStage tracks a single booking attempt.
type BookingStage string

const (
	BookingRequested    BookingStage = "REQUESTED"
	BookingHoldAcquired BookingStage = "HOLD_ACQUIRED"
	BookingHoldDenied   BookingStage = "HOLD_DENIED"
	BookingEventCreated BookingStage = "EVENT_CREATED"
	BookingCreateFailed BookingStage = "CREATE_FAILED"
	BookingHoldReleased BookingStage = "RELEASED"
)

// BusyInterval is a blocked range reported by the calendar provider.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// EventRequest describes a calendar event to create.
type EventRequest struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Attendees   []string
	Description string
}
