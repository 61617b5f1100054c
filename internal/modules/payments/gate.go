package payments

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MarkerStore holds short-lived "in progress" markers keyed by payment id.
// Implementations are best-effort; the unique index on payment_records is the
// correctness mechanism.
type MarkerStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryMarkers is a process-local TTL map.
type MemoryMarkers struct {
	mu        sync.Mutex
	m         map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{m: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryMarkers) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= ttl {
		for k, exp := range s.m {
			if !now.Before(exp) {
				delete(s.m, k)
			}
		}
		s.lastSweep = now
	}

	if exp, ok := s.m[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.m[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryMarkers) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryMarkers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Gate is the local first line of deduplication.
type Gate struct {
	store  MarkerStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewGate(store MarkerStore, ttl time.Duration) *Gate {
	if store == nil {
		store = NewMemoryMarkers()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Gate{store: store, ttl: ttl, logger: slog.Default()}
}

func (g *Gate) SetLogger(logger *slog.Logger) {
	g.logger = logger
}

// Enter returns false when a fresh marker exists for paymentID. A failing store
// lets the notification through.
func (g *Gate) Enter(ctx context.Context, paymentID string) bool {
	ok, err := g.store.Acquire(ctx, paymentID, g.ttl)
	if err != nil {
		g.logger.WarnContext(ctx, "idempotency marker store failed, proceeding", "payment_id", paymentID, "err", err)
		return true
	}
	return ok
}

// Leave drops the marker so a redelivery after a failure is processed.
func (g *Gate) Leave(ctx context.Context, paymentID string) {
	if err := g.store.Release(ctx, paymentID); err != nil {
		g.logger.WarnContext(ctx, "idempotency marker release failed", "payment_id", paymentID, "err", err)
	}
}
