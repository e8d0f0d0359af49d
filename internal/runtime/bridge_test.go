// File: internal/runtime/bridge_test.go
package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	b := NewBridge(zap.NewNop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return b
}

func TestStartAndRunBlocking(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Start(context.Background(), nil))

	ran := false
	err := b.RunBlocking(context.Background(), "noop", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestStartIsIdempotent(t *testing.T) {
	b := newTestBridge(t)

	initCalls := 0
	init := func(ctx context.Context) error {
		initCalls++
		return nil
	}
	require.NoError(t, b.Start(context.Background(), init))
	require.NoError(t, b.Start(context.Background(), init))
	assert.Equal(t, 1, initCalls)
}

func TestStartInitFailureIsBridgeError(t *testing.T) {
	b := newTestBridge(t)

	boom := errors.New("driver missing")
	err := b.Start(context.Background(), func(ctx context.Context) error { return boom })
	require.Error(t, err)

	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, boom)

	// The bridge is unusable afterwards.
	assert.ErrorIs(t, b.RunBlocking(context.Background(), "noop", func(context.Context) error { return nil }), ErrNotRunning)
}

func TestStartReadinessTimeout(t *testing.T) {
	b := newTestBridge(t, WithStartTimeout(50*time.Millisecond))

	release := make(chan struct{})
	defer close(release)
	err := b.Start(context.Background(), func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.Error(t, err)

	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "start", be.Op)
}

func TestRunBlockingBeforeStart(t *testing.T) {
	b := newTestBridge(t)
	err := b.RunBlocking(context.Background(), "early", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestTaskErrorPassesThrough(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Start(context.Background(), nil))

	sentinel := errors.New("fill failed")
	err := b.RunBlocking(context.Background(), "fill", func(context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestTasksAreSerialized(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Start(context.Background(), nil))

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.RunBlocking(context.Background(), "work", func(context.Context) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
}

func TestCallerCancellationAbandonsTask(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Start(context.Background(), nil))

	started := make(chan struct{})
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- b.RunBlocking(ctx, "slow", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	close(release)

	// The owner goroutine stays healthy for the next task.
	require.NoError(t, b.RunBlocking(context.Background(), "next", func(context.Context) error { return nil }))
}

func TestTaskPanicIsRecovered(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Start(context.Background(), nil))

	err := b.RunBlocking(context.Background(), "explode", func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	require.NoError(t, b.RunBlocking(context.Background(), "next", func(context.Context) error { return nil }))
}

func TestShutdownIsIdempotent(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.Start(context.Background(), nil))

	require.NoError(t, b.Shutdown(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))

	assert.ErrorIs(t, b.RunBlocking(context.Background(), "late", func(context.Context) error { return nil }), ErrNotRunning)
}

func TestShutdownNeverStarted(t *testing.T) {
	b := NewBridge(zap.NewNop())
	require.NoError(t, b.Shutdown(context.Background()))
}
