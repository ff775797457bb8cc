package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/clock"
)

func TestDoSerializesSameKey(t *testing.T) {
	g := New(Options{})
	var inFlight, maxInFlight int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), "contact-1:1", func(context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight)
}

func TestDoDoesNotBlockOtherKeys(t *testing.T) {
	g := New(Options{})
	holding := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = g.Do(context.Background(), "a", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), "b", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key b blocked behind key a")
	}
	close(release)
}

func TestDoHonoursCancellationWhileWaiting(t *testing.T) {
	g := New(Options{})
	holding := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = g.Do(context.Background(), "k", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := g.Do(ctx, "k", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestDoPropagatesErrorAndReleases(t *testing.T) {
	g := New(Options{})
	boom := errors.New("boom")

	err := g.Do(context.Background(), "k", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = g.Do(context.Background(), "k", func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestPanicReleasesLock(t *testing.T) {
	g := New(Options{})

	func() {
		defer func() { _ = recover() }()
		_ = g.Do(context.Background(), "k", func(context.Context) error { panic("handler exploded") })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Do(ctx, "k", func(context.Context) error { return nil }))
}

func TestWithLockReturnsValue(t *testing.T) {
	g := New(Options{})
	v, err := WithLock(context.Background(), g, "k", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSweepEvictsIdleEntriesAfterRetention(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	g := New(Options{Retention: 5 * time.Second, Clock: fake})

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, g.Do(context.Background(), key, func(context.Context) error { return nil }))
	}
	assert.Equal(t, 3, g.Len())

	fake.Advance(4 * time.Second)
	assert.Equal(t, 0, g.Sweep())
	assert.Equal(t, 3, g.Len())

	fake.Advance(time.Second)
	assert.Equal(t, 3, g.Sweep())
	assert.Equal(t, 0, g.Len())
}

func TestSweepKeepsHeldEntries(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	g := New(Options{Retention: time.Second, Clock: fake})

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), "busy", func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
		close(done)
	}()
	<-holding

	fake.Advance(time.Hour)
	assert.Equal(t, 0, g.Sweep())
	assert.Equal(t, 1, g.Len())

	close(release)
	<-done
	fake.Advance(time.Second)
	assert.Equal(t, 1, g.Sweep())
}
