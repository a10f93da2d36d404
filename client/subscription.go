package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openopc/go-opcda/variant"
)

// Update is one record of a subscription stream: a data-change or async
// read completion carries the full triple, an async write completion
// carries only the per-item error with an empty value.
type Update struct {
	ClientHandle uint32
	Value        variant.Value
	Quality      variant.Quality
	Timestamp    time.Time
	Err          error
}

// Subscription is one live change-notification stream on a group. The
// stream terminates only on explicit unsubscribe, group removal, or
// connection fault.
type Subscription struct {
	token   uuid.UUID
	updates chan Update
	dropped *xsync.Counter

	closeOnce sync.Once
}

func newSubscription(buffer int) *Subscription {
	return &Subscription{
		token:   uuid.New(),
		updates: make(chan Update, buffer),
		dropped: xsync.NewCounter(),
	}
}

// Token returns the opaque token to present at unsubscribe time.
func (s *Subscription) Token() uuid.UUID {
	return s.token
}

// Updates returns the stream channel. It is closed when the subscription
// ends.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Dropped returns the number of updates discarded because the consumer
// fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Value()
}

// publish delivers an update without blocking the delivery path; the
// oldest buffered update is dropped when the consumer falls behind.
// Called only from the owning group's goroutine, never after close.
func (s *Subscription) publish(u Update) {
	for {
		select {
		case s.updates <- u:
			return
		default:
		}

		select {
		case <-s.updates:
			s.dropped.Inc()
		default:
		}
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.updates) })
}
