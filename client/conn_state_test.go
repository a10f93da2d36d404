package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnStateTransitions(t *testing.T) {
	require := require.New(t)

	cs := newConnStateMgr(nopLogger{})
	require.Equal(DisconnectedState, cs.State())
	require.True(cs.State().IsDisconnected())

	// faulting an idle connection is a no-op
	cs.ToFaulted()
	require.Equal(DisconnectedState, cs.State())

	require.NoError(cs.ToConnected())
	require.True(cs.State().IsConnected())

	// connected is idempotent
	require.NoError(cs.ToConnected())

	cs.ToFaulted()
	require.True(cs.State().IsFaulted())

	// a faulted connection cannot reconnect in place
	require.ErrorIs(cs.ToConnected(), ErrInvalidTransition)

	// reset clears the fault
	cs.ToDisconnected()
	require.NoError(cs.ToConnected())
}

func TestConnStateWait(t *testing.T) {
	require := require.New(t)

	cs := newConnStateMgr(nopLogger{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cs.ToConnected() //nolint:errcheck
	}()

	require.NoError(cs.WaitState(context.Background(), ConnectedState))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(cs.WaitState(ctx, FaultedState), context.DeadlineExceeded)
}

func TestConnStateHandlers(t *testing.T) {
	require := require.New(t)

	var got []ConnState
	cs := newConnStateMgr(nopLogger{}, func(_, next ConnState) {
		got = append(got, next)
	})

	require.NoError(cs.ToConnected())
	cs.ToFaulted()
	cs.ToDisconnected()

	require.Equal([]ConnState{ConnectedState, FaultedState, DisconnectedState}, got)
	require.Equal("connected", ConnectedState.String())
	require.Equal("faulted", FaultedState.String())
	require.Equal("disconnected", DisconnectedState.String())
}
