package client

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/openopc/go-opcda/apartment"
	"github.com/openopc/go-opcda/logger"
)

// dispatcher routes decoded callback events to the owning group by server
// group handle. The routing table is read-mostly: it changes only on group
// add and remove under the server actor's control.
//
// A lookup miss is not an error: unadvise races with in-flight callbacks
// are expected, so the batch is dropped and counted.
type dispatcher struct {
	groups  *xsync.MapOf[uint32, *Group]
	dropped *xsync.Counter
	logger  logger.Logger
}

func newDispatcher(l logger.Logger) *dispatcher {
	return &dispatcher{
		groups:  xsync.NewMapOf[uint32, *Group](),
		dropped: xsync.NewCounter(),
		logger:  l,
	}
}

func (d *dispatcher) register(serverHandle uint32, g *Group) {
	d.groups.Store(serverHandle, g)
}

func (d *dispatcher) deregister(serverHandle uint32) {
	d.groups.Delete(serverHandle)
}

// route delivers one event batch to its group. Returning true keeps the
// consuming task alive.
func (d *dispatcher) route(ev apartment.Event) bool {
	g, ok := d.groups.Load(ev.GroupHandle())
	if !ok {
		d.dropped.Inc()
		d.logger.Debug("dropped callback batch for unknown group", "group_handle", ev.GroupHandle())

		return true
	}

	g.deliver(ev)

	return true
}

// droppedBatches returns the number of batches dropped on lookup miss.
func (d *dispatcher) droppedBatches() int64 {
	return d.dropped.Value()
}
