// Package callstate tracks each in-progress call's conversational stage over a
// pluggable store and enforces the fixed transition graph.
package callstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"voice-booking/internal/clock"
	"voice-booking/internal/domain"
)

const (
	defaultIdleTTL = time.Hour
	// maxCASAttempts bounds re-reads when another writer updates the same call.
	maxCASAttempts = 3
)

// transitions is the complete graph; states missing here have no successors.
var transitions = map[domain.CallState][]domain.CallState{
	domain.StateQualification: {domain.StateBooking},
	domain.StateBooking:       {domain.StateConfirmation},
	domain.StateConfirmation:  {},
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to domain.CallState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store persists call contexts. Implementations must make CreateCall a single
// create-if-absent and ReplaceCall a single compare-and-swap on Version, and
// must hide records idle for longer than ttl.
type Store interface {
	CreateCall(ctx context.Context, call domain.CallContext, ttl time.Duration) (bool, error)
	GetCall(ctx context.Context, callID string) (domain.CallContext, bool, error)
	ReplaceCall(ctx context.Context, call domain.CallContext, prevVersion int64, ttl time.Duration) (bool, error)
	DeleteCall(ctx context.Context, callID string) error
}

// Transitions is an optional observer for transition outcomes.
type Transitions interface {
	ObserveTransition(from, to domain.CallState, result string)
}

type Machine struct {
	store    Store
	clock    clock.Clock
	ttl      time.Duration
	logger   *slog.Logger
	observer Transitions
}

type Option func(*Machine)

// WithIdleTTL overrides how long an untouched call survives.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithObserver(o Transitions) Option {
	return func(m *Machine) {
		m.observer = o
	}
}

func NewMachine(store Store, clk clock.Clock, opts ...Option) (*Machine, error) {
	if store == nil {
		return nil, errors.New("callstate: store must not be nil")
	}
	if clk == nil {
		return nil, errors.New("callstate: clock must not be nil")
	}
	m := &Machine{
		store:  store,
		clock:  clk,
		ttl:    defaultIdleTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Init returns the call's context, creating it in QUALIFICATION when absent.
// Calling Init on an existing call never modifies it.
func (m *Machine) Init(ctx context.Context, callID string) (domain.CallContext, error) {
	callID, err := normalizeCallID(callID)
	if err != nil {
		return domain.CallContext{}, err
	}

	if existing, ok, err := m.store.GetCall(ctx, callID); err != nil {
		return domain.CallContext{}, fmt.Errorf("callstate: init %s: %w", callID, err)
	} else if ok {
		return existing, nil
	}

	now := m.clock.Now()
	call := domain.CallContext{
		CallID:       callID,
		State:        domain.StateQualification,
		Context:      map[string]any{},
		CreatedAt:    now,
		LastActivity: now,
		Version:      1,
	}
	created, err := m.store.CreateCall(ctx, call, m.ttl)
	if err != nil {
		return domain.CallContext{}, fmt.Errorf("callstate: init %s: %w", callID, err)
	}
	if created {
		m.logger.Info("call initialized", "call_id", callID, "state", call.State)
		return call, nil
	}

	// Another request created it first; hand back the winner.
	existing, ok, err := m.store.GetCall(ctx, callID)
	if err != nil {
		return domain.CallContext{}, fmt.Errorf("callstate: init %s: %w", callID, err)
	}
	if !ok {
		return domain.CallContext{}, fmt.Errorf("callstate: init %s: %w", callID, domain.ErrConcurrentUpdate)
	}
	return existing, nil
}

// Get returns domain.ErrCallNotFound for unknown or expired calls.
func (m *Machine) Get(ctx context.Context, callID string) (domain.CallContext, error) {
	callID, err := normalizeCallID(callID)
	if err != nil {
		return domain.CallContext{}, err
	}
	call, ok, err := m.store.GetCall(ctx, callID)
	if err != nil {
		return domain.CallContext{}, fmt.Errorf("callstate: get %s: %w", callID, err)
	}
	if !ok {
		return domain.CallContext{}, domain.ErrCallNotFound
	}
	return call, nil
}

// Transition moves the call to target and merges patch into its context. The
// stored record is left untouched on any error.
func (m *Machine) Transition(ctx context.Context, callID string, target domain.CallState, patch map[string]any) (domain.CallContext, error) {
	callID, err := normalizeCallID(callID)
	if err != nil {
		return domain.CallContext{}, err
	}
	if !target.Valid() {
		m.logger.Warn("unknown target state", "call_id", callID, "state", target)
		return domain.CallContext{}, fmt.Errorf("%w: %q", domain.ErrUnknownState, target)
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, ok, err := m.store.GetCall(ctx, callID)
		if err != nil {
			return domain.CallContext{}, fmt.Errorf("callstate: transition %s: %w", callID, err)
		}
		if !ok {
			return domain.CallContext{}, domain.ErrCallNotFound
		}
		if !CanTransition(current.State, target) {
			m.logger.Warn("invalid transition", "call_id", callID, "from", current.State, "to", target)
			m.observe(current.State, target, "rejected")
			return domain.CallContext{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.State, target)
		}

		next := current
		next.State = target
		next.Context = make(map[string]any, len(current.Context)+len(patch))
		maps.Copy(next.Context, current.Context)
		maps.Copy(next.Context, patch)
		next.LastActivity = m.clock.Now()
		next.Version = current.Version + 1

		swapped, err := m.store.ReplaceCall(ctx, next, current.Version, m.ttl)
		if err != nil {
			return domain.CallContext{}, fmt.Errorf("callstate: transition %s: %w", callID, err)
		}
		if swapped {
			m.logger.Info("call transitioned", "call_id", callID, "from", current.State, "to", target)
			m.observe(current.State, target, "ok")
			return next, nil
		}
	}
	return domain.CallContext{}, fmt.Errorf("callstate: transition %s: %w", callID, domain.ErrConcurrentUpdate)
}

// Cleanup forgets the call. Unknown calls are not an error.
func (m *Machine) Cleanup(ctx context.Context, callID string) error {
	callID, err := normalizeCallID(callID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteCall(ctx, callID); err != nil {
		return fmt.Errorf("callstate: cleanup %s: %w", callID, err)
	}
	m.logger.Info("call cleaned up", "call_id", callID)
	return nil
}

func (m *Machine) observe(from, to domain.CallState, result string) {
	if m.observer != nil {
		m.observer.ObserveTransition(from, to, result)
	}
}

func normalizeCallID(callID string) (string, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return "", domain.ErrInvalidCallID
	}
	return callID, nil
}
