// File: internal/runtime/bridge.go

// Package runtime provides the bridge between the synchronous call sites of
// the application and the single goroutine that owns every browser-driver
// object. Driver handles are not safe for concurrent use; all access is
// funneled through one owner goroutine and callers block on a reply channel.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotRunning is returned when a task is submitted before Start succeeded
// or after Shutdown.
var ErrNotRunning = errors.New("runtime bridge is not running")

// BridgeError marks failures of the bridge itself (as opposed to failures of
// the submitted task). A BridgeError is fatal: the owner goroutine could not
// be brought up or has been lost.
type BridgeError struct {
	Op  string
	Err error
}

func (e *BridgeError) Error() string { return fmt.Sprintf("runtime bridge %s: %v", e.Op, e.Err) }
func (e *BridgeError) Unwrap() error { return e.Err }

const defaultStartTimeout = 30 * time.Second

// Task is a unit of work executed on the owner goroutine.
type Task func(ctx context.Context) error

type submission struct {
	name string
	task Task
	done chan error
}

// Bridge owns the background goroutine and the command queue feeding it.
type Bridge struct {
	logger       *zap.Logger
	startTimeout time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	submissions chan submission
	ownerCtx    context.Context
	ownerCancel context.CancelFunc
	ownerDone   chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithStartTimeout overrides how long Start waits for the owner goroutine to
// come up before failing with a BridgeError.
func WithStartTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.startTimeout = d }
}

// NewBridge creates an unstarted bridge.
func NewBridge(logger *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		logger:       logger.Named("bridge"),
		startTimeout: defaultStartTimeout,
		submissions:  make(chan submission),
		ownerDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start brings up the owner goroutine and runs init on it. Start is
// idempotent: concurrent and repeat calls share the first outcome. If the
// goroutine does not signal readiness within the start timeout, Start returns
// a BridgeError and the bridge is unusable.
func (b *Bridge) Start(ctx context.Context, init Task) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return &BridgeError{Op: "start", Err: ErrNotRunning}
	}
	if b.started {
		b.mu.Unlock()
		b.logger.Debug("Start called on a running bridge; ignoring.")
		return nil
	}
	b.started = true

	b.ownerCtx, b.ownerCancel = context.WithCancel(context.Background())
	ready := make(chan error, 1)
	go b.run(init, ready)
	b.mu.Unlock()

	select {
	case err := <-ready:
		if err != nil {
			b.teardown()
			return &BridgeError{Op: "start", Err: err}
		}
		b.logger.Debug("Owner goroutine is ready.")
		return nil
	case <-time.After(b.startTimeout):
		b.teardown()
		return &BridgeError{Op: "start", Err: fmt.Errorf("owner goroutine not ready after %s", b.startTimeout)}
	case <-ctx.Done():
		b.teardown()
		return &BridgeError{Op: "start", Err: ctx.Err()}
	}
}

// run is the owner goroutine: it executes init, then serves the submission
// queue until the bridge is shut down. Tasks run strictly one at a time.
func (b *Bridge) run(init Task, ready chan<- error) {
	defer close(b.ownerDone)

	if init != nil {
		if err := init(b.ownerCtx); err != nil {
			ready <- fmt.Errorf("init failed: %w", err)
			return
		}
	}
	ready <- nil

	for {
		select {
		case sub := <-b.submissions:
			b.logger.Debug("Executing task.", zap.String("task", sub.name))
			sub.done <- b.execute(sub)
		case <-b.ownerCtx.Done():
			return
		}
	}
}

func (b *Bridge) execute(sub submission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", sub.name, r)
			b.logger.Error("Recovered panic in bridged task.", zap.String("task", sub.name), zap.Any("panic_reason", r))
		}
	}()
	return sub.task(b.ownerCtx)
}

// RunBlocking submits a task to the owner goroutine and waits for it to
// finish. The task observes cancellation of both the caller's context and the
// bridge lifetime. Errors returned by the task pass through unwrapped.
func (b *Bridge) RunBlocking(ctx context.Context, name string, task Task) error {
	b.mu.Lock()
	running := b.started && !b.stopped
	b.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	sub := submission{name: name, task: task, done: make(chan error, 1)}

	select {
	case b.submissions <- sub:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ownerDone:
		return ErrNotRunning
	}

	select {
	case err := <-sub.done:
		return err
	case <-ctx.Done():
		// The task keeps the owner goroutine; its result is discarded.
		b.logger.Warn("Caller abandoned a bridged task.", zap.String("task", name), zap.Error(ctx.Err()))
		return ctx.Err()
	case <-b.ownerDone:
		return ErrNotRunning
	}
}

// Shutdown stops the owner goroutine and waits for it to exit, bounded by
// ctx. Shutdown is idempotent and safe to call on a never-started bridge.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	started := b.started
	b.mu.Unlock()

	if !started {
		return nil
	}

	b.ownerCancel()
	select {
	case <-b.ownerDone:
		b.logger.Debug("Owner goroutine exited.")
		return nil
	case <-ctx.Done():
		return &BridgeError{Op: "shutdown", Err: ctx.Err()}
	}
}

func (b *Bridge) teardown() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	if b.ownerCancel != nil {
		b.ownerCancel()
	}
	<-b.ownerDone
}
