// Package timeslot holds the slot arithmetic used by availability search and
// booking: business hours, the canonical scheduling zone, voice rendering and
// caller time parsing. All computation happens in the canonical zone; caller
// zones are only translated at the edges.
package timeslot

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // the Lambda runtime ships without zoneinfo

	"voice-booking/internal/clock"
)

var (
	ErrOutsideBusinessHours = errors.New("timeslot: outside business hours")
	ErrUnparseableTime      = errors.New("timeslot: unparseable time")
)

// Phoenix is the default canonical zone (MST year round).
var Phoenix = loadLocation("America/Phoenix", "MST", -7*60*60)

func loadLocation(name, abbr string, offset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(abbr, offset)
	}
	return loc
}

// TimeSlot is a half-open [Start, End) interval.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// New returns a slot of length d starting at start, expressed in loc.
func New(start time.Time, d time.Duration, loc *time.Location) TimeSlot {
	s := start.In(loc)
	return TimeSlot{Start: s, End: s.Add(d)}
}

// Overlaps reports whether the two intervals intersect. Touching endpoints do not overlap.
func (s TimeSlot) Overlaps(other TimeSlot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// ISO renders the start as RFC 3339 in the slot's zone.
func (s TimeSlot) ISO() string {
	return s.Start.Format(time.RFC3339)
}

// Config describes the scheduling authority's business rules.
type Config struct {
	Location *time.Location
	// ZoneLabel is the short name used in caller-facing reasons, e.g. "MST".
	ZoneLabel     string
	OpenHour      int
	CloseHour     int
	SlotDuration  time.Duration
	MinAdvance    time.Duration
	MaxSearchDays int
}

// DefaultConfig returns 8am-6pm MST, 30 minute slots, 15 minutes notice and a two week horizon.
func DefaultConfig() Config {
	return Config{
		Location:      Phoenix,
		ZoneLabel:     "MST",
		OpenHour:      8,
		CloseHour:     18,
		SlotDuration:  30 * time.Minute,
		MinAdvance:    15 * time.Minute,
		MaxSearchDays: 14,
	}
}

func (c Config) validate() error {
	if c.Location == nil {
		return errors.New("timeslot: location must not be nil")
	}
	if c.OpenHour < 0 || c.CloseHour > 23 || c.OpenHour >= c.CloseHour {
		return fmt.Errorf("timeslot: invalid business hours %d-%d", c.OpenHour, c.CloseHour)
	}
	if c.SlotDuration < time.Minute {
		return errors.New("timeslot: slot duration must be at least one minute")
	}
	if c.MinAdvance < 0 {
		return errors.New("timeslot: minimum advance must not be negative")
	}
	if c.MaxSearchDays <= 0 {
		return errors.New("timeslot: max search days must be positive")
	}
	return nil
}

// Schedule applies a Config against a clock.
type Schedule struct {
	cfg   Config
	clock clock.Clock
}

// NewSchedule validates cfg and returns a Schedule.
func NewSchedule(cfg Config, clk clock.Clock) (*Schedule, error) {
	if clk == nil {
		return nil, errors.New("timeslot: clock must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ZoneLabel == "" {
		cfg.ZoneLabel = cfg.Location.String()
	}
	return &Schedule{cfg: cfg, clock: clk}, nil
}

func (s *Schedule) Location() *time.Location {
	return s.cfg.Location
}

func (s *Schedule) SlotDuration() time.Duration {
	return s.cfg.SlotDuration
}

// Horizon is how far ahead availability search looks.
func (s *Schedule) Horizon() time.Duration {
	return time.Duration(s.cfg.MaxSearchDays) * 24 * time.Hour
}

// Now returns the current time in the canonical zone.
func (s *Schedule) Now() time.Time {
	return s.clock.Now().In(s.cfg.Location)
}

// Slot normalizes start into a default-length slot in the canonical zone.
func (s *Schedule) Slot(start time.Time) TimeSlot {
	return New(start, s.cfg.SlotDuration, s.cfg.Location)
}

// ValidateBusinessHours rejects slots starting before opening or ending after
// closing. Ending exactly at the closing hour is allowed.
func (s *Schedule) ValidateBusinessHours(slot TimeSlot) error {
	start := slot.Start.In(s.cfg.Location)
	end := slot.End.In(s.cfg.Location)

	if start.Hour() < s.cfg.OpenHour {
		return fmt.Errorf("%w: slot starts before %s %s", ErrOutsideBusinessHours, hourLabel(s.cfg.OpenHour), s.cfg.ZoneLabel)
	}
	y, m, d := start.Date()
	closing := time.Date(y, m, d, s.cfg.CloseHour, 0, 0, 0, s.cfg.Location)
	if end.After(closing) {
		return fmt.Errorf("%w: slot ends after %d:00 %s", ErrOutsideBusinessHours, s.cfg.CloseHour, s.cfg.ZoneLabel)
	}
	return nil
}

// NextAvailable returns up to count free slots on the slot grid, starting no
// earlier than now plus the minimum notice. Fewer slots than requested is not
// an error; the search simply ran out of horizon.
func (s *Schedule) NextAvailable(blocked []TimeSlot, count int) []TimeSlot {
	return s.NextAvailableWithin(blocked, count, time.Time{}, time.Time{})
}

// NextAvailableWithin is NextAvailable restricted to slots lying entirely
// inside [from, until). A zero bound leaves that side open.
func (s *Schedule) NextAvailableWithin(blocked []TimeSlot, count int, from, until time.Time) []TimeSlot {
	if count <= 0 {
		return nil
	}

	loc := s.cfg.Location
	earliest := s.Now().Add(s.cfg.MinAdvance)
	if from.After(earliest) {
		earliest = from
	}
	cursor := s.firstCandidate(earliest)
	slots := make([]TimeSlot, 0, count)

	for day := 0; day < s.cfg.MaxSearchDays && len(slots) < count; day++ {
		y, m, d := cursor.Date()
		for t := cursor; t.Hour() < s.cfg.CloseHour && t.Day() == d && len(slots) < count; t = t.Add(s.cfg.SlotDuration) {
			slot := New(t, s.cfg.SlotDuration, loc)
			if !until.IsZero() && slot.End.After(until) {
				return slots
			}
			if s.ValidateBusinessHours(slot) != nil {
				continue
			}
			if overlapsAny(slot, blocked) {
				continue
			}
			slots = append(slots, slot)
		}
		cursor = time.Date(y, m, d+1, s.cfg.OpenHour, 0, 0, 0, loc)
	}
	return slots
}

// firstCandidate snaps earliest onto the slot grid within business hours.
func (s *Schedule) firstCandidate(earliest time.Time) time.Time {
	loc := s.cfg.Location
	t := earliest.In(loc)
	y, m, d := t.Date()

	switch {
	case t.Hour() < s.cfg.OpenHour:
		return time.Date(y, m, d, s.cfg.OpenHour, 0, 0, 0, loc)
	case t.Hour() >= s.cfg.CloseHour:
		return time.Date(y, m, d+1, s.cfg.OpenHour, 0, 0, 0, loc)
	}

	// Round up to the next grid boundary.
	minute := t.Hour()*60 + t.Minute()
	if t.Second() > 0 || t.Nanosecond() > 0 {
		minute++
	}
	step := int(s.cfg.SlotDuration / time.Minute)
	if rem := minute % step; rem != 0 {
		minute += step - rem
	}
	return time.Date(y, m, d, 0, minute, 0, 0, loc)
}

func overlapsAny(slot TimeSlot, blocked []TimeSlot) bool {
	for _, b := range blocked {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

func hourLabel(hour int) string {
	switch {
	case hour == 0:
		return "12am"
	case hour < 12:
		return fmt.Sprintf("%dam", hour)
	case hour == 12:
		return "12pm"
	default:
		return fmt.Sprintf("%dpm", hour-12)
	}
}
