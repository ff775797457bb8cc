package keylock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/clock"
)

const (
	DefaultRetention     = 5 * time.Second
	DefaultSweepInterval = 10 * time.Second
)

// Guard serializes work per key. Different keys never block each other.
// Entries are reference counted and dropped by Sweep once they have been
// idle for longer than the retention period, so the table stays bounded by
// the number of recently active keys.
type Guard struct {
	mu        sync.Mutex
	entries   map[string]*entry
	clock     clock.Clock
	retention time.Duration
	logger    *zap.Logger
}

type entry struct {
	sem      chan struct{}
	refs     int
	lastUsed time.Time
}

// Options tune a Guard. Zero values fall back to defaults.
type Options struct {
	Retention time.Duration
	Clock     clock.Clock
	Logger    *zap.Logger
}

// New builds a Guard.
func New(opts Options) *Guard {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Guard{
		entries:   make(map[string]*entry),
		clock:     opts.Clock,
		retention: opts.Retention,
		logger:    opts.Logger,
	}
}

// Do runs fn while holding the lock for key. Waiting is abandoned when ctx
// is cancelled; fn itself is never interrupted by the guard.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := g.acquireRef(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		g.releaseRef(e)
		return ctx.Err()
	}

	defer func() {
		<-e.sem
		g.releaseRef(e)
	}()
	return fn(ctx)
}

// WithLock is Do for callbacks that produce a value.
func WithLock[T any](ctx context.Context, g *Guard, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, key, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (g *Guard) acquireRef(key string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		g.entries[key] = e
	}
	e.refs++
	return e
}

func (g *Guard) releaseRef(e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.refs--
	e.lastUsed = g.clock.Now()
}

// Sweep evicts entries nobody holds or waits on that have been idle for at
// least the retention period. It returns the number of evicted keys.
func (g *Guard) Sweep() int {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for key, e := range g.entries {
		if e.refs > 0 {
			continue
		}
		if now.Sub(e.lastUsed) < g.retention {
			continue
		}
		delete(g.entries, key)
		evicted++
	}
	return evicted
}

// Len reports how many keys are currently tracked.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Run sweeps on every interval until ctx is done.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.logger.Debug("keylock sweep", zap.Int("evicted", n), zap.Int("remaining", g.Len()))
			}
		}
	}
}
