package idempotency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

// MemoryGuard is a process-local TTL reservation map. It protects a single
// process against webhook redelivery bursts; it does not survive restarts
// and is not shared across workers.
type MemoryGuard struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	store map[string]time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &MemoryGuard{
		ttl:   ttl,
		now:   time.Now,
		store: make(map[string]time.Time),
	}
}

func (g *MemoryGuard) Reserve(_ context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("idempotency key is required")
	}

	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, ok := g.store[key]; ok && expiry.After(now) {
		return false, nil
	}
	g.store[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) IsReserved(_ context.Context, key string) (bool, error) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.store[key]
	if !ok {
		return false, nil
	}
	if !expiry.After(now) {
		delete(g.store, key)
		return false, nil
	}
	return true, nil
}

// Sweep drops expired keys. Called periodically; reservation correctness
// does not depend on it.
func (g *MemoryGuard) Sweep() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, expiry := range g.store {
		if !expiry.After(now) {
			delete(g.store, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on a ticker until context cancellation.
func (g *MemoryGuard) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
