package client

import (
	"time"

	"github.com/openopc/go-opcda/binding"
	"github.com/openopc/go-opcda/variant"
)

// itemEntry is one row of a group's item subscription table.
type itemEntry struct {
	itemID        string
	accessPath    string
	clientHandle  uint32
	serverHandle  uint32
	active        bool
	requestedType binding.VarType
	canonicalType binding.VarType

	// last observed triple; valid only when hasData is set
	hasData   bool
	value     variant.Value
	quality   variant.Quality
	timestamp time.Time
}

// itemTable is the authoritative per-group record of requested items and
// their last observed state. It preserves insertion order and is mutated
// only on the owning group's goroutine.
type itemTable struct {
	order    []uint32 // client handles in insertion order
	byClient map[uint32]*itemEntry
}

func newItemTable() *itemTable {
	return &itemTable{
		byClient: make(map[uint32]*itemEntry),
	}
}

// add inserts an entry, failing with ErrDuplicateHandle when the client
// handle is already present.
func (t *itemTable) add(entry *itemEntry) error {
	if _, ok := t.byClient[entry.clientHandle]; ok {
		return ErrDuplicateHandle
	}

	t.byClient[entry.clientHandle] = entry
	t.order = append(t.order, entry.clientHandle)

	return nil
}

// remove deletes the entry for clientHandle and returns it.
func (t *itemTable) remove(clientHandle uint32) (*itemEntry, error) {
	entry, ok := t.byClient[clientHandle]
	if !ok {
		return nil, ErrUnknownHandle
	}

	delete(t.byClient, clientHandle)
	for i, handle := range t.order {
		if handle == clientHandle {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}

	return entry, nil
}

// get returns the entry for clientHandle.
func (t *itemTable) get(clientHandle uint32) (*itemEntry, error) {
	entry, ok := t.byClient[clientHandle]
	if !ok {
		return nil, ErrUnknownHandle
	}

	return entry, nil
}

// setActive flips the active flag of one entry.
func (t *itemTable) setActive(clientHandle uint32, active bool) error {
	entry, ok := t.byClient[clientHandle]
	if !ok {
		return ErrUnknownHandle
	}
	entry.active = active

	return nil
}

// update overwrites the last-known triple of one entry. Called only from
// the callback delivery path.
func (t *itemTable) update(clientHandle uint32, value variant.Value, quality variant.Quality, timestamp time.Time) error {
	entry, ok := t.byClient[clientHandle]
	if !ok {
		return ErrUnknownHandle
	}

	entry.hasData = true
	entry.value = value
	entry.quality = quality
	entry.timestamp = timestamp

	return nil
}

// snapshot returns the current triples of every entry that has observed
// data, in insertion order.
func (t *itemTable) snapshot() []ReadResult {
	results := make([]ReadResult, 0, len(t.order))
	for _, handle := range t.order {
		entry := t.byClient[handle]
		if !entry.hasData {
			continue
		}
		results = append(results, ReadResult{
			ClientHandle: handle,
			Value:        entry.value,
			Quality:      entry.quality,
			Timestamp:    entry.timestamp,
		})
	}

	return results
}

// len returns the number of entries.
func (t *itemTable) len() int {
	return len(t.order)
}
