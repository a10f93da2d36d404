package apartment

import "errors"

var (
	// ErrApartmentFaulted indicates that the apartment worker panicked or the
	// underlying component runtime failed. The apartment is unusable and the
	// owning server connection must be torn down and reconnected.
	ErrApartmentFaulted = errors.New("apartment faulted")

	// ErrApartmentClosed indicates that the apartment was shut down while the
	// operation was outstanding or before it was submitted.
	ErrApartmentClosed = errors.New("apartment closed")

	// ErrRuntimeNil indicates that a nil component runtime was provided.
	ErrRuntimeNil = errors.New("component runtime is nil")
)
