package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"voice-booking/internal/domain"
	"voice-booking/internal/holds"
	"voice-booking/internal/timeslot"
)

const (
	defaultCalendarTimeout = 10 * time.Second
	offeredSlotCount       = 3
	releaseTimeout         = 5 * time.Second
)

// offsetless layouts are read in the canonical zone.
var offsetlessLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// datePrefix marks input meant as a timestamp; those never fall back to spoken-time parsing.
var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

type HoldManager interface {
	Acquire(ctx context.Context, slotID, callID, contact string) (domain.SlotHold, error)
	Release(ctx context.Context, slotID, holdID string) (bool, error)
	Extend(ctx context.Context, slotID, holdID string, extra time.Duration) (bool, error)
}

type Calendar interface {
	BusyIntervals(ctx context.Context, from, to time.Time) ([]domain.BusyInterval, error)
	CreateEvent(ctx context.Context, req domain.EventRequest) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

type BookingObserver interface {
	ObserveBookingStage(stage domain.BookingStage)
}

// BookingService turns a caller's chosen slot into a calendar event, holding
// the slot for the duration of the attempt so concurrent callers cannot both
// reach the calendar for it.
type BookingService struct {
	holds           HoldManager
	calendar        Calendar
	schedule        *timeslot.Schedule
	resource        string
	calendarTimeout time.Duration
	logger          *slog.Logger
	observer        BookingObserver
}

type BookingOption func(*BookingService)

// WithCalendarTimeout bounds each calendar call made by the service.
func WithCalendarTimeout(d time.Duration) BookingOption {
	return func(s *BookingService) {
		if d > 0 {
			s.calendarTimeout = d
		}
	}
}

func WithBookingLogger(l *slog.Logger) BookingOption {
	return func(s *BookingService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithBookingObserver(o BookingObserver) BookingOption {
	return func(s *BookingService) {
		s.observer = o
	}
}

// BookInput is one booking request. CallerTimezone is only consulted when
// SlotTime is spoken ("3pm") rather than a timestamp.
type BookInput struct {
	CallID          string
	SlotTime        string
	CallerTimezone  string
	LeadName        string
	LeadEmail       string
	LeadPhone       string
	ConfirmationSMS string
}

type BookOutput struct {
	EventID string
	SlotID  string
	Slot    timeslot.TimeSlot
	Message string
}

type AvailabilityInput struct {
	// From and To are RFC 3339; empty values default to now and the search horizon.
	From string
	To   string
}

type OfferedSlot struct {
	StartISO    string `json:"start_iso"`
	VoiceString string `json:"voice_string"`
}

type AvailabilityOutput struct {
	Slots []OfferedSlot
}

func NewBookingService(h HoldManager, cal Calendar, schedule *timeslot.Schedule, resource string, opts ...BookingOption) (*BookingService, error) {
	if h == nil {
		return nil, errors.New("usecase: hold manager must not be nil")
	}
	if cal == nil {
		return nil, errors.New("usecase: calendar must not be nil")
	}
	if schedule == nil {
		return nil, errors.New("usecase: schedule must not be nil")
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, errors.New("usecase: resource must not be empty")
	}
	s := &BookingService{
		holds:           h,
		calendar:        cal,
		schedule:        schedule,
		resource:        resource,
		calendarTimeout: defaultCalendarTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Book holds the slot, creates the event and releases the hold. A held slot
// fails fast with SLOT_UNAVAILABLE and never reaches the calendar; a calendar
// failure rolls the hold back before it is returned. Nothing is retried.
func (s *BookingService) Book(ctx context.Context, in BookInput) (BookOutput, error) {
	callID := strings.TrimSpace(in.CallID)
	if callID == "" {
		return BookOutput{}, newError(ErrorInvalidInput, "missing_call_id", nil)
	}
	name := strings.TrimSpace(in.LeadName)
	if name == "" {
		return BookOutput{}, newError(ErrorInvalidInput, "missing_lead_name", nil)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.LeadEmail))
	if err != nil {
		return BookOutput{}, newError(ErrorInvalidInput, "invalid_email", err)
	}
	start, err := s.parseSlotTime(in.SlotTime, in.CallerTimezone)
	if err != nil {
		return BookOutput{}, newError(ErrorInvalidInput, "invalid_slot_time", err)
	}
	slot := s.schedule.Slot(start)
	if err := s.schedule.ValidateBusinessHours(slot); err != nil {
		return BookOutput{}, newError(ErrorInvalidInput, "outside_business_hours", err)
	}
	if slot.Start.Before(s.schedule.Now()) {
		return BookOutput{}, newError(ErrorInvalidInput, "slot_in_past", nil)
	}

	slotID := holds.SlotID(s.resource, slot)
	log := s.logger.With("call_id", callID, "slot_id", slotID)
	s.stage(log, domain.BookingRequested)

	hold, err := s.holds.Acquire(ctx, slotID, callID, addr.Address)
	if errors.Is(err, domain.ErrSlotHeld) {
		s.stage(log, domain.BookingHoldDenied)
		return BookOutput{}, newError(ErrorSlotUnavailable, holds.ContentionReason, err)
	}
	if err != nil {
		log.Error("hold acquire failed", "err", err)
		return BookOutput{}, newError(ErrorInternal, "hold_store_error", err)
	}
	log = log.With("hold_id", hold.HoldID)
	s.stage(log, domain.BookingHoldAcquired)
	s.coverCalendarCall(ctx, log, hold)

	createCtx, cancel := context.WithTimeout(ctx, s.calendarTimeout)
	eventID, err := s.calendar.CreateEvent(createCtx, domain.EventRequest{
		Summary:     "Tour: " + name,
		Start:       slot.Start.UTC(),
		End:         slot.End.UTC(),
		Attendees:   []string{addr.Address},
		Description: fmt.Sprintf("Phone: %s\n\n%s", strings.TrimSpace(in.LeadPhone), strings.TrimSpace(in.ConfirmationSMS)),
	})
	cancel()
	if err != nil {
		s.stage(log, domain.BookingCreateFailed, "err", err)
		s.release(ctx, log, hold)
		return BookOutput{}, newError(ErrorUpstream, "calendar_create_error", err)
	}

	log = log.With("event_id", eventID)
	s.stage(log, domain.BookingEventCreated)
	s.release(ctx, log, hold)

	return BookOutput{
		EventID: eventID,
		SlotID:  slotID,
		Slot:    slot,
		Message: "Confirmed for " + s.schedule.VoiceString(slot),
	}, nil
}

// CheckAvailability offers the next free slots inside the queried window,
// around the calendar's busy periods for that same window.
func (s *BookingService) CheckAvailability(ctx context.Context, in AvailabilityInput) (AvailabilityOutput, error) {
	now := s.schedule.Now()
	from, err := parseOptionalInstant(in.From, now)
	if err != nil {
		return AvailabilityOutput{}, newError(ErrorInvalidInput, "invalid_date_start", err)
	}
	to, err := parseOptionalInstant(in.To, from.Add(s.schedule.Horizon()))
	if err != nil {
		return AvailabilityOutput{}, newError(ErrorInvalidInput, "invalid_date_end", err)
	}
	if !to.After(from) {
		return AvailabilityOutput{}, newError(ErrorInvalidInput, "empty_date_range", nil)
	}

	busyCtx, cancel := context.WithTimeout(ctx, s.calendarTimeout)
	defer cancel()
	busy, err := s.calendar.BusyIntervals(busyCtx, from, to)
	if err != nil {
		s.logger.Error("busy lookup failed", "err", err)
		return AvailabilityOutput{}, newError(ErrorUpstream, "calendar_freebusy_error", err)
	}

	loc := s.schedule.Location()
	blocked := make([]timeslot.TimeSlot, 0, len(busy))
	for _, b := range busy {
		blocked = append(blocked, timeslot.TimeSlot{Start: b.Start.In(loc), End: b.End.In(loc)})
	}

	free := s.schedule.NextAvailableWithin(blocked, offeredSlotCount, from, to)
	out := AvailabilityOutput{Slots: make([]OfferedSlot, 0, len(free))}
	for _, slot := range free {
		out.Slots = append(out.Slots, OfferedSlot{StartISO: slot.ISO(), VoiceString: s.schedule.VoiceString(slot)})
	}
	return out, nil
}

// Cancel deletes a booked event. An event that no longer exists is not an error.
func (s *BookingService) Cancel(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return newError(ErrorInvalidInput, "missing_event_id", nil)
	}
	deleteCtx, cancel := context.WithTimeout(ctx, s.calendarTimeout)
	defer cancel()
	if err := s.calendar.DeleteEvent(deleteCtx, eventID); err != nil {
		s.logger.Error("event delete failed", "event_id", eventID, "err", err)
		return newError(ErrorUpstream, "calendar_delete_error", err)
	}
	s.logger.Info("event cancelled", "event_id", eventID)
	return nil
}

// coverCalendarCall extends the hold when the calendar timeout would outlast
// it. The extension is capped by the manager; a refusal only gets logged.
func (s *BookingService) coverCalendarCall(ctx context.Context, log *slog.Logger, hold domain.SlotHold) {
	shortfall := s.schedule.Now().Add(s.calendarTimeout).Sub(hold.ExpiresAt)
	if shortfall <= 0 {
		return
	}
	extended, err := s.holds.Extend(ctx, hold.SlotID, hold.HoldID, shortfall)
	switch {
	case err != nil:
		log.Warn("hold extend failed", "err", err)
	case !extended:
		log.Warn("hold extend refused")
	}
}

// release frees the hold even when the request context is already done. A
// failed release is logged and left to the hold's TTL.
func (s *BookingService) release(ctx context.Context, log *slog.Logger, hold domain.SlotHold) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released, err := s.holds.Release(relCtx, hold.SlotID, hold.HoldID)
	if err != nil {
		log.Error("hold release failed", "err", err)
		return
	}
	if !released {
		log.Warn("hold already gone at release")
		return
	}
	s.stage(log, domain.BookingHoldReleased)
}

func (s *BookingService) stage(log *slog.Logger, stage domain.BookingStage, args ...any) {
	if s.observer != nil {
		s.observer.ObserveBookingStage(stage)
	}
	log.Info("booking stage", append([]any{"stage", stage}, args...)...)
}

// parseSlotTime accepts RFC 3339, an offset-less timestamp in the canonical
// zone, or a spoken time in the caller's zone.
func (s *BookingService) parseSlotTime(raw, callerZone string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("slot time is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range offsetlessLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.schedule.Location()); err == nil {
			return t, nil
		}
	}
	if datePrefix.MatchString(raw) {
		return time.Time{}, fmt.Errorf("%w: %q", timeslot.ErrUnparseableTime, raw)
	}
	return s.schedule.ParseCallerTime(raw, callerZone)
}

func parseOptionalInstant(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", timeslot.ErrUnparseableTime, raw)
	}
	return t, nil
}
