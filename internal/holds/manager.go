// Package holds provides short-lived, mutually exclusive holds on bookable
// slots. Exclusion comes entirely from the store's atomic create-if-absent;
// the manager never reads before writing.
package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-booking/internal/clock"
	"voice-booking/internal/domain"
	"voice-booking/internal/timeslot"
)

const (
	defaultHoldTTL      = 60 * time.Second
	defaultMaxExtension = 30 * time.Second

	// ContentionReason is what callers hear when a slot is taken.
	ContentionReason = "slot already held by another caller"
)

// Store persists holds. CreateHold must be one indivisible create-if-absent
// honoring the hold's ExpiresAt; DeleteHold and ExtendHold must only act when
// the stored HoldID matches. Expired holds behave as absent.
type Store interface {
	CreateHold(ctx context.Context, hold domain.SlotHold) (bool, error)
	GetHold(ctx context.Context, slotID string) (domain.SlotHold, bool, error)
	DeleteHold(ctx context.Context, slotID, holdID string) (bool, error)
	ExtendHold(ctx context.Context, slotID, holdID string, expiresAt time.Time) (bool, error)
}

// Observer receives hold outcomes, e.g. for metrics.
type Observer interface {
	ObserveHold(op, result string)
}

// SlotID is the deterministic key for a slot on a resource: two requests for
// the same start minute always collide.
func SlotID(resource string, slot timeslot.TimeSlot) string {
	return strings.TrimSpace(resource) + "_" + slot.Start.Format("20060102_1504")
}

type Manager struct {
	store        Store
	clock        clock.Clock
	ttl          time.Duration
	maxExtension time.Duration
	logger       *slog.Logger
	observer     Observer
	newHoldID    func() string
}

type Option func(*Manager)

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMaxExtension caps how far Extend may push a hold beyond its base TTL.
func WithMaxExtension(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.maxExtension = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

func NewManager(store Store, clk clock.Clock, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("holds: store must not be nil")
	}
	if clk == nil {
		return nil, errors.New("holds: clock must not be nil")
	}
	m := &Manager{
		store:        store,
		clock:        clk,
		ttl:          defaultHoldTTL,
		maxExtension: defaultMaxExtension,
		logger:       slog.Default(),
		newHoldID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL is the base lifetime of a new hold.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire tries once to take the slot. A taken slot yields an error wrapping
// domain.ErrSlotHeld, including when the same caller already holds it.
func (m *Manager) Acquire(ctx context.Context, slotID, callID, contact string) (domain.SlotHold, error) {
	slotID = strings.TrimSpace(slotID)
	if slotID == "" {
		return domain.SlotHold{}, domain.ErrInvalidSlotID
	}

	now := m.clock.Now()
	hold := domain.SlotHold{
		SlotID:     slotID,
		HoldID:     m.newHoldID(),
		CallID:     callID,
		Contact:    contact,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}

	created, err := m.store.CreateHold(ctx, hold)
	if err != nil {
		m.observe("acquire", "error")
		return domain.SlotHold{}, fmt.Errorf("holds: acquire %s: %w", slotID, err)
	}
	if !created {
		m.observe("acquire", "denied")
		m.logDenied(ctx, slotID, callID)
		return domain.SlotHold{}, fmt.Errorf("%w: %s", domain.ErrSlotHeld, ContentionReason)
	}

	m.observe("acquire", "acquired")
	m.logger.Info("hold acquired", "slot_id", slotID, "hold_id", hold.HoldID, "call_id", callID, "expires_at", hold.ExpiresAt)
	return hold, nil
}

// Release frees the slot only for the matching holdID. A missing, expired or
// foreign hold returns false and is left alone.
func (m *Manager) Release(ctx context.Context, slotID, holdID string) (bool, error) {
	if strings.TrimSpace(slotID) == "" {
		return false, domain.ErrInvalidSlotID
	}
	if strings.TrimSpace(holdID) == "" {
		return false, domain.ErrInvalidHoldID
	}

	released, err := m.store.DeleteHold(ctx, slotID, holdID)
	if err != nil {
		m.observe("release", "error")
		return false, fmt.Errorf("holds: release %s: %w", slotID, err)
	}
	if !released {
		m.observe("release", "mismatch")
		m.logger.Warn("hold release refused", "slot_id", slotID, "hold_id", holdID)
		return false, nil
	}
	m.observe("release", "released")
	m.logger.Info("hold released", "slot_id", slotID, "hold_id", holdID)
	return true, nil
}

// Extend pushes the expiry to now + TTL + min(extra, max extension).
func (m *Manager) Extend(ctx context.Context, slotID, holdID string, extra time.Duration) (bool, error) {
	if strings.TrimSpace(slotID) == "" {
		return false, domain.ErrInvalidSlotID
	}
	if strings.TrimSpace(holdID) == "" {
		return false, domain.ErrInvalidHoldID
	}

	extra = min(max(extra, 0), m.maxExtension)
	expiresAt := m.clock.Now().Add(m.ttl + extra)

	extended, err := m.store.ExtendHold(ctx, slotID, holdID, expiresAt)
	if err != nil {
		m.observe("extend", "error")
		return false, fmt.Errorf("holds: extend %s: %w", slotID, err)
	}
	if !extended {
		m.observe("extend", "mismatch")
		return false, nil
	}
	m.observe("extend", "extended")
	m.logger.Info("hold extended", "slot_id", slotID, "hold_id", holdID, "expires_at", expiresAt)
	return true, nil
}

// logDenied records who holds the slot. The holder never influences the decision.
func (m *Manager) logDenied(ctx context.Context, slotID, callID string) {
	existing, ok, err := m.store.GetHold(ctx, slotID)
	if err != nil || !ok {
		m.logger.Info("hold denied", "slot_id", slotID, "call_id", callID)
		return
	}
	m.logger.Info("hold denied", "slot_id", slotID, "call_id", callID, "holder_call_id", existing.CallID)
}

func (m *Manager) observe(op, result string) {
	if m.observer != nil {
		m.observer.ObserveHold(op, result)
	}
}
