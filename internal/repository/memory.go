package repository

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"voice-booking/internal/clock"
	"voice-booking/internal/domain"
)

const defaultSweepInterval = 30 * time.Second

type memoryCall struct {
	call      domain.CallContext
	expiresAt time.Time
}

// MemoryStore is a single-process store for local runs and tests. Every
// operation runs under one mutex, so create-if-absent and compare-and-swap
// are atomic within the process. Expired records are hidden on read and
// removed by a background sweep between Connect and Close.
type MemoryStore struct {
	clock         clock.Clock
	logger        *slog.Logger
	sweepInterval time.Duration

	mu    sync.Mutex
	calls map[string]memoryCall
	holds map[string]domain.SlotHold

	started   atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	sweepDone chan struct{}
}

type MemoryOption func(*MemoryStore)

// WithSweepInterval sets how often expired records are dropped.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewMemoryStore(clk clock.Clock, opts ...MemoryOption) *MemoryStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &MemoryStore{
		clock:         clk,
		logger:        slog.Default(),
		sweepInterval: defaultSweepInterval,
		calls:         map[string]memoryCall{},
		holds:         map[string]domain.SlotHold{},
		stop:          make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect starts the background sweep. Calling it again is a no-op.
func (s *MemoryStore) Connect(ctx context.Context) error {
	if s.started.CompareAndSwap(false, true) {
		go s.sweepLoop(ctx)
	}
	return nil
}

// Close stops the sweep and waits for it to exit.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.sweepDone
	}
	return nil
}

func (s *MemoryStore) sweepLoop(ctx context.Context) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired records", "count", n)
			}
		}
	}
}

// Sweep drops expired calls and holds and reports how many went.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.calls {
		if !now.Before(rec.expiresAt) {
			delete(s.calls, id)
			removed++
		}
	}
	for id, hold := range s.holds {
		if !hold.Live(now) {
			delete(s.holds, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) CreateCall(_ context.Context, call domain.CallContext, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.calls[call.CallID]; ok && now.Before(rec.expiresAt) {
		return false, nil
	}
	s.calls[call.CallID] = memoryCall{call: copyCall(call), expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) GetCall(_ context.Context, callID string) (domain.CallContext, bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.calls[callID]
	if !ok || !now.Before(rec.expiresAt) {
		return domain.CallContext{}, false, nil
	}
	return copyCall(rec.call), true, nil
}

func (s *MemoryStore) ReplaceCall(_ context.Context, call domain.CallContext, prevVersion int64, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.calls[call.CallID]
	if !ok || !now.Before(rec.expiresAt) || rec.call.Version != prevVersion {
		return false, nil
	}
	s.calls[call.CallID] = memoryCall{call: copyCall(call), expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) DeleteCall(_ context.Context, callID string) error {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CreateHold(_ context.Context, hold domain.SlotHold) (bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.holds[hold.SlotID]; ok && existing.Live(now) {
		return false, nil
	}
	s.holds[hold.SlotID] = hold
	return true, nil
}

func (s *MemoryStore) GetHold(_ context.Context, slotID string) (domain.SlotHold, bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	hold, ok := s.holds[slotID]
	if !ok || !hold.Live(now) {
		return domain.SlotHold{}, false, nil
	}
	return hold, true, nil
}

func (s *MemoryStore) DeleteHold(_ context.Context, slotID, holdID string) (bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	hold, ok := s.holds[slotID]
	if !ok || !hold.Live(now) || hold.HoldID != holdID {
		return false, nil
	}
	delete(s.holds, slotID)
	return true, nil
}

func (s *MemoryStore) ExtendHold(_ context.Context, slotID, holdID string, expiresAt time.Time) (bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	hold, ok := s.holds[slotID]
	if !ok || !hold.Live(now) || hold.HoldID != holdID {
		return false, nil
	}
	hold.ExpiresAt = expiresAt
	s.holds[slotID] = hold
	return true, nil
}

// copyCall detaches the context so callers cannot mutate stored state.
func copyCall(call domain.CallContext) domain.CallContext {
	out := call
	out.Context = cloneMap(call.Context)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
