package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openopc/go-opcda/logger"
)

// ConnState represents the lifecycle state of one server connection.
type ConnState uint32

const (
	// DisconnectedState indicates no live server object.
	DisconnectedState ConnState = iota
	// ConnectedState indicates the server object is activated and usable.
	ConnectedState
	// FaultedState indicates the connection or its apartment became
	// unusable. The state is terminal; the caller must reconnect.
	FaultedState
)

// IsDisconnected returns if the current state is disconnected.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// IsConnected returns if the current state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsFaulted returns if the current state is faulted.
func (cs ConnState) IsFaulted() bool { return cs == FaultedState }

// String returns string representation of the current state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectedState:
		return "connected"
	case FaultedState:
		return "faulted"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked on connection state changes, in blocking
// mode under the state manager's lock. Take care with long-running
// implementations.
type StateChangeHandler func(prevState ConnState, newState ConnState)

// connStateMgr manages the connection state of one server connection.
// Transitions are safe for concurrent use.
type connStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

func newConnStateMgr(l logger.Logger, handlers ...StateChangeHandler) *connStateMgr {
	cs := &connStateMgr{
		logger:   l,
		handlers: append([]StateChangeHandler(nil), handlers...),
	}
	cs.state.Store(uint32(DisconnectedState))
	cs.cond = sync.NewCond(&cs.mu)

	return cs
}

// State returns the current connection state.
func (cs *connStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more StateChangeHandler functions to be invoked on
// state changes.
func (cs *connStateMgr) AddHandler(handlers ...StateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or
// until the context is done.
func (cs *connStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			cs.cond.Wait()
		}
	}

	return nil
}

// ToConnected transitions to ConnectedState. Only allowed from
// DisconnectedState.
func (cs *connStateMgr) ToConnected() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsConnected() {
		return nil
	}
	if !curState.IsDisconnected() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ConnectedState)
	cs.setState(ConnectedState)

	return nil
}

// ToDisconnected transitions to DisconnectedState. Allowed from any state:
// it represents an explicit release or a reset after a fault.
func (cs *connStateMgr) ToDisconnected() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsDisconnected() {
		return
	}

	// change state before the handlers run so late observers see it
	cs.setState(DisconnectedState)
	cs.invokeHandlers(curState, DisconnectedState)
}

// ToFaulted transitions to FaultedState. Allowed from any state except
// DisconnectedState; faulting an idle connection is a no-op.
func (cs *connStateMgr) ToFaulted() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsFaulted() || curState.IsDisconnected() {
		return
	}

	cs.setState(FaultedState)
	cs.invokeHandlers(curState, FaultedState)
}

func (cs *connStateMgr) setState(state ConnState) {
	cs.state.Store(uint32(state))
	cs.cond.Broadcast()
}

func (cs *connStateMgr) invokeHandlers(prev ConnState, next ConnState) {
	cs.logger.Debug("connection state change", "prev_state", prev, "new_state", next)
	for _, handler := range cs.handlers {
		handler(prev, next)
	}
}
