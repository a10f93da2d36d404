package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates an operation on a server that is not in the
	// connected state.
	ErrNotConnected = errors.New("server not connected")

	// ErrConnectionFault indicates the server connection or its apartment
	// became unusable. The fault is not retried automatically; the caller
	// must reconnect.
	ErrConnectionFault = errors.New("connection fault")

	// ErrDuplicateHandle indicates an item client handle already present in
	// the group.
	ErrDuplicateHandle = errors.New("duplicate client handle")

	// ErrUnknownHandle indicates a client handle not present in the group.
	ErrUnknownHandle = errors.New("unknown client handle")

	// ErrGroupRemoved indicates an operation on a group that has been
	// removed. Removal is terminal.
	ErrGroupRemoved = fmt.Errorf("group removed: %w", ErrUnknownHandle)

	// ErrAlreadySubscribed indicates a subscribe call on a group that
	// already holds a live subscription token.
	ErrAlreadySubscribed = errors.New("group already subscribed")

	// ErrInvalidToken indicates an unsubscribe call with a token that does
	// not match the group's live subscription.
	ErrInvalidToken = errors.New("invalid subscription token")

	// ErrTimedOut indicates the call exceeded the configured call timeout.
	// The underlying legacy operation may still complete in the background;
	// its result is discarded.
	ErrTimedOut = errors.New("call timed out")

	// ErrInvalidTransition indicates a connection state transition that is
	// not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid connection state transition")

	// ErrMismatchedArguments indicates batched call inputs whose slice
	// lengths disagree.
	ErrMismatchedArguments = errors.New("mismatched argument lengths")
)
