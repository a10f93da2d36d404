package apartment

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openopc/go-opcda/internal/pool"
	"github.com/openopc/go-opcda/internal/queue"
	"github.com/openopc/go-opcda/internal/task"
	"github.com/openopc/go-opcda/logger"
)

// Runtime is the per-thread lifecycle of the underlying component runtime.
//
// Initialize is called once on the apartment thread before any binding call;
// Uninitialize is called on the same thread when the apartment shuts down.
// Pump processes any pending message-loop work the interface model requires
// between operations.
type Runtime interface {
	Initialize() error
	Uninitialize()
	Pump()
}

// NopRuntime is a Runtime with no per-thread state. It serves servers that
// need no message-loop pumping, and tests.
type NopRuntime struct{}

func (NopRuntime) Initialize() error { return nil }
func (NopRuntime) Uninitialize()     {}
func (NopRuntime) Pump()             {}

// Config holds the tunables of an Apartment.
type Config struct {
	// EventQueueSize bounds the callback event channel. When the channel is
	// full the oldest event is dropped and the drop counter incremented.
	EventQueueSize int
	// PumpInterval is the idle interval between message-loop pumps.
	PumpInterval time.Duration
}

// DefaultConfig returns the default apartment tunables.
func DefaultConfig() *Config {
	return &Config{
		EventQueueSize: 256,
		PumpInterval:   10 * time.Millisecond,
	}
}

// operation states.
const (
	opPending int32 = iota
	opRunning
	opDone
	opCanceled
)

// operation is one queued call into the binding surface and its future.
type operation struct {
	fn    func() (any, error)
	done  chan struct{}
	val   any
	err   error
	state atomic.Int32
}

// finish resolves the operation's future.
func (op *operation) finish(val any, err error) {
	op.val = val
	op.err = err
	op.state.Store(opDone)
	close(op.done)
}

// Apartment owns one dedicated worker thread and the FIFO queue of
// operations destined for the binding objects bound to that thread.
type Apartment struct {
	cfg    *Config
	logger logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	taskMgr *task.Manager
	rt      Runtime

	ops    queue.Queue[*operation]
	notify chan struct{}

	events  chan Event
	dropped *xsync.Counter

	initialized bool // worker-thread private
	faulted     atomic.Bool
	closed      atomic.Bool

	faultOnce sync.Once
	faultCh   chan struct{}
}

// New creates an Apartment and starts its worker thread.
//
// The runtime rt is initialized on the worker thread before the first
// operation runs and torn down when the worker exits.
func New(ctx context.Context, rt Runtime, cfg *Config, l logger.Logger) (*Apartment, error) {
	if rt == nil {
		return nil, ErrRuntimeNil
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if l == nil {
		l = logger.GetLogger()
	}

	a := &Apartment{
		cfg:     cfg,
		logger:  l,
		rt:      rt,
		ops:     queue.NewLockFreeQueue[*operation](),
		notify:  make(chan struct{}, 1),
		events:  make(chan Event, cfg.EventQueueSize),
		dropped: xsync.NewCounter(),
		faultCh: make(chan struct{}),
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.taskMgr = task.NewManager(a.ctx, l)

	if err := a.taskMgr.Start("apartmentWorker", a.workerIter, a.workerCleanup); err != nil {
		a.cancel()
		return nil, fmt.Errorf("start apartment worker: %w", err)
	}

	return a, nil
}

// Do submits fn to the apartment queue and suspends the caller until fn has
// run on the worker thread.
//
// Cancelling ctx before fn starts removes it from the queue. Cancelling
// after it has started cannot stop the native call; the caller detaches and
// the result is discarded.
func (a *Apartment) Do(ctx context.Context, fn func() error) error {
	_, err := Call(ctx, a, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Call submits fn to the apartment queue and suspends the caller until the
// result is posted back. See Do for cancellation semantics.
func Call[T any](ctx context.Context, a *Apartment, fn func() (T, error)) (T, error) {
	var zero T

	op, err := a.submit(func() (any, error) { return fn() })
	if err != nil {
		return zero, err
	}

	select {
	case <-op.done:
		if op.err != nil {
			return zero, op.err
		}
		val, ok := op.val.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected result type %T", op.val)
		}
		return val, nil

	case <-ctx.Done():
		// remove from queue if not yet started; otherwise detach and let the
		// worker discard the result
		op.state.CompareAndSwap(opPending, opCanceled)
		return zero, ctx.Err()
	}
}

// submit enqueues an operation for the worker thread.
func (a *Apartment) submit(fn func() (any, error)) (*operation, error) {
	if err := a.usable(); err != nil {
		return nil, err
	}

	op := &operation{fn: fn, done: make(chan struct{})}
	a.ops.Enqueue(op)

	select {
	case a.notify <- struct{}{}:
	default:
	}

	// the apartment may have shut down between the check and the enqueue; a
	// successful cancel here means the final sweep already missed the op
	if err := a.usable(); err != nil {
		if op.state.CompareAndSwap(opPending, opCanceled) {
			return nil, err
		}
	}

	return op, nil
}

func (a *Apartment) usable() error {
	if a.faulted.Load() {
		return ErrApartmentFaulted
	}
	if a.closed.Load() {
		return ErrApartmentClosed
	}
	return nil
}

// Events returns the channel of decoded callback events.
func (a *Apartment) Events() <-chan Event {
	return a.events
}

// DroppedEvents returns the number of callback events dropped because the
// event channel was full.
func (a *Apartment) DroppedEvents() int64 {
	return a.dropped.Value()
}

// Faulted reports whether the apartment has entered the faulted state.
func (a *Apartment) Faulted() bool {
	return a.faulted.Load()
}

// FaultChan returns a channel that is closed when the apartment faults.
func (a *Apartment) FaultChan() <-chan struct{} {
	return a.faultCh
}

// Close shuts the apartment down. Outstanding operations fail with
// ErrApartmentClosed. Close blocks until the worker thread has exited.
func (a *Apartment) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.cancel()
	a.taskMgr.Stop()
	a.taskMgr.Wait()
}

// fault moves the apartment to the terminal faulted state.
func (a *Apartment) fault() {
	a.faulted.Store(true)
	a.faultOnce.Do(func() { close(a.faultCh) })
	a.cancel()
}

// workerIter is one iteration of the worker loop: drain the operation
// queue, pump the message loop, then wait for more work.
//
// It runs on a single goroutine for the lifetime of the apartment; the
// first iteration pins the goroutine to its OS thread and initializes the
// component runtime there.
func (a *Apartment) workerIter() bool {
	if !a.initialized {
		runtime.LockOSThread()
		if err := a.rt.Initialize(); err != nil {
			a.logger.Error("component runtime initialization failed", "error", err)
			a.fault()
			return false
		}
		a.initialized = true
	}

	for {
		op, ok := a.ops.Dequeue()
		if !ok {
			break
		}
		if !op.state.CompareAndSwap(opPending, opRunning) {
			continue // canceled before start
		}
		a.runOp(op)
		if a.faulted.Load() {
			return false
		}
	}

	a.rt.Pump()

	timer := pool.GetTimer(a.cfg.PumpInterval)
	defer pool.PutTimer(timer)

	select {
	case <-a.ctx.Done():
		return false
	case <-a.notify:
	case <-timer.C:
	}

	return true
}

// runOp executes one operation with panic containment. A panic in the
// operation faults the whole apartment.
func (a *Apartment) runOp(op *operation) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic on apartment thread", "panic", r)
			op.finish(nil, fmt.Errorf("%w: panic: %v", ErrApartmentFaulted, r))
			a.fault()
		}
	}()

	val, err := op.fn()
	op.finish(val, err)
}

// workerCleanup runs on the worker goroutine after the loop exits: fail
// everything still queued, then tear the runtime down on this thread.
func (a *Apartment) workerCleanup() {
	failErr := ErrApartmentClosed
	if a.faulted.Load() {
		failErr = ErrApartmentFaulted
	}

	for {
		op, ok := a.ops.Dequeue()
		if !ok {
			break
		}
		if op.state.CompareAndSwap(opPending, opRunning) {
			op.finish(nil, failErr)
		}
	}

	if a.initialized {
		a.rt.Uninitialize()
	}
}
