package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/openopc/go-opcda/apartment"
	"github.com/openopc/go-opcda/binding"
	"github.com/openopc/go-opcda/logger"
	"github.com/openopc/go-opcda/variant"
)

// group lifecycle phases. Removed is terminal.
const (
	groupCreated int32 = iota
	groupActive
	groupInactive
	groupRemoved
)

// ItemDef describes one item to add to or validate against a group.
type ItemDef struct {
	ItemID     string
	AccessPath string
	// ClientHandle is the caller-chosen handle, unique within the group,
	// echoed in every result and update for this item.
	ClientHandle uint32
	Active       bool
	// RequestedType is the canonical type to coerce values to; VT_EMPTY
	// requests the server's canonical type.
	RequestedType binding.VarType
}

// ItemAddResult is the per-item outcome of AddItems and ValidateItems.
type ItemAddResult struct {
	ClientHandle  uint32
	ServerHandle  uint32
	CanonicalType binding.VarType
	AccessRights  uint32
	Err           error
}

// ReadResult is the per-item outcome of a read: the value/quality/timestamp
// triple, or a per-item error.
type ReadResult struct {
	ClientHandle uint32
	Value        variant.Value
	Quality      variant.Quality
	Timestamp    time.Time
	Err          error
}

// Group owns one subscription group on a server: its update rate, active
// state, item table and subscription stream. All group state is mutated on
// the group's own goroutine; methods are safe for concurrent use.
type Group struct {
	name         string
	clientHandle uint32
	serverHandle uint32
	revisedRate  atomic.Uint32

	cfg    *Config
	logger logger.Logger
	apt    *apartment.Apartment
	native binding.Group

	mailbox    chan func()
	removed    chan struct{}
	removeOnce sync.Once
	phase      atomic.Int32

	// mailbox-goroutine state
	table        *itemTable
	sub          *Subscription
	adviseCookie uint32

	flights singleflight.Group
	txnSeq  atomic.Uint32
}

func newGroup(def GroupDef, info binding.GroupInfo, apt *apartment.Apartment, cfg *Config, l logger.Logger) *Group {
	g := &Group{
		name:         def.Name,
		clientHandle: def.ClientHandle,
		serverHandle: info.ServerHandle,
		cfg:          cfg,
		logger:       l.With("group", def.Name),
		apt:          apt,
		native:       info.Group,
		mailbox:      make(chan func(), 16),
		removed:      make(chan struct{}),
		table:        newItemTable(),
	}
	g.revisedRate.Store(info.RevisedUpdateRate)
	if def.Active {
		g.phase.Store(groupActive)
	} else {
		g.phase.Store(groupCreated)
	}

	return g
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// ClientHandle returns the caller-chosen group handle.
func (g *Group) ClientHandle() uint32 { return g.clientHandle }

// ServerHandle returns the server-assigned group handle.
func (g *Group) ServerHandle() uint32 { return g.serverHandle }

// UpdateRate returns the update rate granted by the server, in milliseconds.
func (g *Group) UpdateRate() uint32 { return g.revisedRate.Load() }

// Removed reports whether the group has been removed.
func (g *Group) Removed() bool { return g.phase.Load() == groupRemoved }

// runMailbox is the consuming task body; it stops after the removal
// message has been processed.
func (g *Group) runMailbox(fn func()) bool {
	fn()
	return g.phase.Load() != groupRemoved
}

// cleanup runs on the mailbox goroutine when it exits, including on server
// shutdown or fault.
func (g *Group) cleanup() {
	g.phase.Store(groupRemoved)
	g.removeOnce.Do(func() { close(g.removed) })
	if g.sub != nil {
		g.sub.close()
		g.sub = nil
	}
}

// ask runs fn on the group goroutine and waits for it. The returned error
// is fn's own error, ErrGroupRemoved, or the (mapped) context error.
func (g *Group) ask(ctx context.Context, fn func() error) error {
	if g.phase.Load() == groupRemoved {
		return ErrGroupRemoved
	}

	var innerErr error
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		innerErr = fn()
	}

	select {
	case g.mailbox <- wrapped:
	case <-g.removed:
		return ErrGroupRemoved
	case <-ctx.Done():
		return mapCtxErr(ctx.Err())
	}

	select {
	case <-done:
		return innerErr
	case <-g.removed:
		// prefer the completed result over the removal race
		select {
		case <-done:
			return innerErr
		default:
			return ErrGroupRemoved
		}
	case <-ctx.Done():
		return mapCtxErr(ctx.Err())
	}
}

// post runs fn on the group goroutine without waiting. Dropped silently
// after removal.
func (g *Group) post(fn func()) {
	select {
	case g.mailbox <- fn:
	case <-g.removed:
	}
}

type itemReply struct {
	results []binding.ItemResult
	codes   []binding.HRESULT
}

type readReply struct {
	states []binding.ItemState
	codes  []binding.HRESULT
}

// AddItems adds items to the group. Partial success is expected: the
// returned slice has one entry per input and a nil method error whenever
// per-item results were produced.
func (g *Group) AddItems(ctx context.Context, defs []ItemDef) ([]ItemAddResult, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]ItemAddResult, len(defs))

	err := g.ask(ctx, func() error {
		fresh := make([]binding.ItemDef, 0, len(defs))
		idx := make([]int, 0, len(defs))
		seen := make(map[uint32]bool, len(defs))

		for i, def := range defs {
			results[i].ClientHandle = def.ClientHandle
			if seen[def.ClientHandle] {
				results[i].Err = ErrDuplicateHandle
				continue
			}
			if _, err := g.table.get(def.ClientHandle); err == nil {
				results[i].Err = ErrDuplicateHandle
				continue
			}
			seen[def.ClientHandle] = true
			idx = append(idx, i)
			fresh = append(fresh, binding.ItemDef{
				AccessPath:    def.AccessPath,
				ItemID:        def.ItemID,
				Active:        def.Active,
				ClientHandle:  def.ClientHandle,
				RequestedType: def.RequestedType,
			})
		}

		if len(fresh) == 0 {
			return nil
		}

		reply, err := apartment.Call(ctx, g.apt, func() (itemReply, error) {
			res, codes, err := g.native.AddItems(fresh)
			return itemReply{results: res, codes: codes}, err
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		for j, i := range idx {
			if j >= len(reply.codes) || j >= len(reply.results) {
				results[i].Err = fmt.Errorf("missing per-item result for handle %d", defs[i].ClientHandle)
				continue
			}
			if err := reply.codes[j].Err(); err != nil {
				results[i].Err = err
				continue
			}

			res := reply.results[j]
			results[i].ServerHandle = res.ServerHandle
			results[i].CanonicalType = res.CanonicalType
			results[i].AccessRights = res.AccessRights

			g.table.add(&itemEntry{ //nolint:errcheck // duplicates were filtered above
				itemID:        defs[i].ItemID,
				accessPath:    defs[i].AccessPath,
				clientHandle:  defs[i].ClientHandle,
				serverHandle:  res.ServerHandle,
				active:        defs[i].Active,
				requestedType: defs[i].RequestedType,
				canonicalType: res.CanonicalType,
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// ValidateItems checks item definitions against the server without
// mutating the group.
func (g *Group) ValidateItems(ctx context.Context, defs []ItemDef) ([]ItemAddResult, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]ItemAddResult, len(defs))

	err := g.ask(ctx, func() error {
		native := make([]binding.ItemDef, len(defs))
		for i, def := range defs {
			results[i].ClientHandle = def.ClientHandle
			native[i] = binding.ItemDef{
				AccessPath:    def.AccessPath,
				ItemID:        def.ItemID,
				Active:        def.Active,
				ClientHandle:  def.ClientHandle,
				RequestedType: def.RequestedType,
			}
		}

		reply, err := apartment.Call(ctx, g.apt, func() (itemReply, error) {
			res, codes, err := g.native.ValidateItems(native)
			return itemReply{results: res, codes: codes}, err
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		for i := range defs {
			if i >= len(reply.codes) || i >= len(reply.results) {
				results[i].Err = fmt.Errorf("missing per-item result for handle %d", defs[i].ClientHandle)
				continue
			}
			if err := reply.codes[i].Err(); err != nil {
				results[i].Err = err
				continue
			}
			results[i].ServerHandle = reply.results[i].ServerHandle
			results[i].CanonicalType = reply.results[i].CanonicalType
			results[i].AccessRights = reply.results[i].AccessRights
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// RemoveItems removes items by client handle, returning one result per
// input.
func (g *Group) RemoveItems(ctx context.Context, clientHandles []uint32) ([]error, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]error, len(clientHandles))

	err := g.ask(ctx, func() error {
		serverHandles := make([]uint32, 0, len(clientHandles))
		idx := make([]int, 0, len(clientHandles))

		for i, handle := range clientHandles {
			entry, err := g.table.get(handle)
			if err != nil {
				results[i] = err
				continue
			}
			idx = append(idx, i)
			serverHandles = append(serverHandles, entry.serverHandle)
		}

		if len(serverHandles) == 0 {
			return nil
		}

		codes, err := apartment.Call(ctx, g.apt, func() ([]binding.HRESULT, error) {
			return g.native.RemoveItems(serverHandles)
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		for j, i := range idx {
			if j < len(codes) {
				results[i] = codes[j].Err()
			}
			if results[i] == nil {
				g.table.remove(clientHandles[i]) //nolint:errcheck // presence checked above
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// SetItemActive flips the per-item active flag, returning one result per
// input.
func (g *Group) SetItemActive(ctx context.Context, clientHandles []uint32, active bool) ([]error, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]error, len(clientHandles))

	err := g.ask(ctx, func() error {
		serverHandles := make([]uint32, 0, len(clientHandles))
		idx := make([]int, 0, len(clientHandles))

		for i, handle := range clientHandles {
			entry, err := g.table.get(handle)
			if err != nil {
				results[i] = err
				continue
			}
			idx = append(idx, i)
			serverHandles = append(serverHandles, entry.serverHandle)
		}

		if len(serverHandles) == 0 {
			return nil
		}

		codes, err := apartment.Call(ctx, g.apt, func() ([]binding.HRESULT, error) {
			return g.native.SetActiveState(serverHandles, active)
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		for j, i := range idx {
			if j < len(codes) {
				results[i] = codes[j].Err()
			}
			if results[i] == nil {
				g.table.setActive(clientHandles[i], active) //nolint:errcheck // presence checked above
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// SetActive transitions the group between the active and inactive states.
func (g *Group) SetActive(ctx context.Context, active bool) error {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	return g.ask(ctx, func() error {
		state, err := apartment.Call(ctx, g.apt, func() (binding.GroupState, error) {
			return g.native.SetState(binding.GroupStateUpdate{Active: &active})
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		g.revisedRate.Store(state.RevisedUpdateRate)
		if state.Active {
			g.phase.Store(groupActive)
		} else {
			g.phase.Store(groupInactive)
		}

		return nil
	})
}

// GetState returns the full group state from the server.
func (g *Group) GetState(ctx context.Context) (binding.GroupState, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	var state binding.GroupState
	err := g.ask(ctx, func() error {
		var err error
		state, err = apartment.Call(ctx, g.apt, func() (binding.GroupState, error) {
			return g.native.GetState()
		})

		return mapBridgeErr(err)
	})

	return state, err
}

// SetState updates group parameters; nil fields of update are left
// unchanged. The server's revised state is returned.
func (g *Group) SetState(ctx context.Context, update binding.GroupStateUpdate) (binding.GroupState, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	var state binding.GroupState
	err := g.ask(ctx, func() error {
		var err error
		state, err = apartment.Call(ctx, g.apt, func() (binding.GroupState, error) {
			return g.native.SetState(update)
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		g.revisedRate.Store(state.RevisedUpdateRate)
		if update.Active != nil {
			if *update.Active {
				g.phase.Store(groupActive)
			} else {
				g.phase.Store(groupInactive)
			}
		}

		return nil
	})

	return state, err
}

// Read reads the given items, returning one triple or error per input.
//
// Cache reads are served from the last observed value where one exists and
// fall back to a batched server cache read. Device reads always reach the
// device; concurrent device reads of the same item share one underlying
// call.
func (g *Group) Read(ctx context.Context, clientHandles []uint32, source binding.DataSource) ([]ReadResult, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]ReadResult, len(clientHandles))

	// resolve handles and serve cache hits from the table
	var pendingIdx []int
	var pendingServer []uint32
	err := g.ask(ctx, func() error {
		for i, handle := range clientHandles {
			results[i].ClientHandle = handle
			entry, err := g.table.get(handle)
			if err != nil {
				results[i].Err = err
				continue
			}
			if source == binding.SourceCache && entry.hasData {
				results[i].Value = entry.value
				results[i].Quality = entry.quality
				results[i].Timestamp = entry.timestamp
				continue
			}
			pendingIdx = append(pendingIdx, i)
			pendingServer = append(pendingServer, entry.serverHandle)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(pendingIdx) == 0 {
		return results, nil
	}

	if source == binding.SourceDevice {
		g.readDevice(ctx, clientHandles, pendingIdx, pendingServer, results)
	} else {
		g.readCache(ctx, pendingIdx, pendingServer, results)
	}

	// fold fresh triples back into the table on the group goroutine
	g.post(func() {
		for _, i := range pendingIdx {
			res := results[i]
			if res.Err != nil {
				continue
			}
			g.table.update(res.ClientHandle, res.Value, res.Quality, res.Timestamp) //nolint:errcheck // removal race is benign
		}
	})

	return results, nil
}

// readCache serves the items without table data with one batched server
// cache read.
func (g *Group) readCache(ctx context.Context, pendingIdx []int, serverHandles []uint32, results []ReadResult) {
	reply, err := apartment.Call(ctx, g.apt, func() (readReply, error) {
		states, codes, err := g.native.SyncRead(binding.SourceCache, serverHandles)
		return readReply{states: states, codes: codes}, err
	})
	if err != nil {
		err = mapBridgeErr(err)
		for _, i := range pendingIdx {
			results[i].Err = err
		}

		return
	}

	for j, i := range pendingIdx {
		if j >= len(reply.codes) || j >= len(reply.states) {
			results[i].Err = fmt.Errorf("missing per-item result for handle %d", results[i].ClientHandle)
			continue
		}
		if err := reply.codes[j].Err(); err != nil {
			results[i].Err = err
			continue
		}
		applyItemState(&results[i], reply.states[j])
	}
}

// readDevice reads each pending item from the device. Reads of the same
// client handle are single-flight: a concurrent second caller shares the
// in-flight result instead of issuing a duplicate device call.
func (g *Group) readDevice(ctx context.Context, clientHandles []uint32, pendingIdx []int, serverHandles []uint32, results []ReadResult) {
	var wg sync.WaitGroup
	for j, i := range pendingIdx {
		wg.Add(1)
		go func(i int, clientHandle, serverHandle uint32) {
			defer wg.Done()

			key := strconv.FormatUint(uint64(clientHandle), 10)
			val, err, _ := g.flights.Do(key, func() (any, error) {
				return g.deviceReadOne(ctx, clientHandle, serverHandle)
			})
			if err != nil {
				results[i].Err = err
				return
			}

			res := val.(ReadResult)
			results[i].Value = res.Value
			results[i].Quality = res.Quality
			results[i].Timestamp = res.Timestamp
		}(i, clientHandles[i], serverHandles[j])
	}
	wg.Wait()
}

func (g *Group) deviceReadOne(ctx context.Context, clientHandle, serverHandle uint32) (ReadResult, error) {
	reply, err := apartment.Call(ctx, g.apt, func() (readReply, error) {
		states, codes, err := g.native.SyncRead(binding.SourceDevice, []uint32{serverHandle})
		return readReply{states: states, codes: codes}, err
	})
	if err != nil {
		return ReadResult{}, mapBridgeErr(err)
	}
	if len(reply.codes) < 1 || len(reply.states) < 1 {
		return ReadResult{}, fmt.Errorf("missing per-item result for handle %d", clientHandle)
	}
	if err := reply.codes[0].Err(); err != nil {
		return ReadResult{}, err
	}

	res := ReadResult{ClientHandle: clientHandle}
	applyItemState(&res, reply.states[0])
	if res.Err != nil {
		return ReadResult{}, res.Err
	}

	return res, nil
}

// applyItemState decodes one native item state into a result. Decode
// failures are per item and never fail the batch.
func applyItemState(res *ReadResult, state binding.ItemState) {
	value, err := variant.Decode(state.Value)
	if err != nil {
		res.Err = err
		return
	}

	res.Value = value
	res.Quality = variant.Quality(state.Quality)
	res.Timestamp = variant.TimeFromFiletime(state.Timestamp)
}

// Write writes values to the given items, returning one result per input.
// Writes are serialized on the group goroutine.
func (g *Group) Write(ctx context.Context, clientHandles []uint32, values []variant.Value) ([]error, error) {
	if len(clientHandles) != len(values) {
		return nil, fmt.Errorf("%w: %d handles, %d values", ErrMismatchedArguments, len(clientHandles), len(values))
	}

	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]error, len(clientHandles))

	err := g.ask(ctx, func() error {
		serverHandles := make([]uint32, 0, len(clientHandles))
		natives := make([]binding.Variant, 0, len(clientHandles))
		idx := make([]int, 0, len(clientHandles))

		for i, handle := range clientHandles {
			entry, err := g.table.get(handle)
			if err != nil {
				results[i] = err
				continue
			}

			nv, err := variant.EncodeAs(values[i], g.writeType(entry))
			if err != nil {
				results[i] = err
				continue
			}

			idx = append(idx, i)
			serverHandles = append(serverHandles, entry.serverHandle)
			natives = append(natives, nv)
		}

		if len(serverHandles) == 0 {
			return nil
		}

		codes, err := apartment.Call(ctx, g.apt, func() ([]binding.HRESULT, error) {
			return g.native.SyncWrite(serverHandles, natives)
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		for j, i := range idx {
			if j < len(codes) {
				results[i] = codes[j].Err()
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// writeType picks the native type a written value is coerced to.
func (g *Group) writeType(entry *itemEntry) binding.VarType {
	if entry.requestedType != binding.VT_EMPTY {
		return entry.requestedType
	}

	return entry.canonicalType
}

type asyncReply struct {
	cancelID uint32
	codes    []binding.HRESULT
}

// AsyncRead schedules a device read of the given items. Completion arrives
// on the subscription stream; the returned cancel ID can be passed to
// CancelAsync. Per-item scheduling errors are returned alongside.
func (g *Group) AsyncRead(ctx context.Context, clientHandles []uint32) (uint32, []error, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]error, len(clientHandles))
	var cancelID uint32

	err := g.ask(ctx, func() error {
		serverHandles := make([]uint32, 0, len(clientHandles))
		idx := make([]int, 0, len(clientHandles))
		for i, handle := range clientHandles {
			entry, err := g.table.get(handle)
			if err != nil {
				results[i] = err
				continue
			}
			idx = append(idx, i)
			serverHandles = append(serverHandles, entry.serverHandle)
		}

		if len(serverHandles) == 0 {
			return nil
		}

		txn := g.txnSeq.Add(1)
		reply, err := apartment.Call(ctx, g.apt, func() (asyncReply, error) {
			id, codes, err := g.native.AsyncRead(serverHandles, txn)
			return asyncReply{cancelID: id, codes: codes}, err
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		cancelID = reply.cancelID
		for j, i := range idx {
			if j < len(reply.codes) {
				results[i] = reply.codes[j].Err()
			}
		}

		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return cancelID, results, nil
}

// AsyncWrite schedules a device write of the given items. Completion
// arrives on the subscription stream as per-item records with empty values.
func (g *Group) AsyncWrite(ctx context.Context, clientHandles []uint32, values []variant.Value) (uint32, []error, error) {
	if len(clientHandles) != len(values) {
		return 0, nil, fmt.Errorf("%w: %d handles, %d values", ErrMismatchedArguments, len(clientHandles), len(values))
	}

	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	results := make([]error, len(clientHandles))
	var cancelID uint32

	err := g.ask(ctx, func() error {
		serverHandles := make([]uint32, 0, len(clientHandles))
		natives := make([]binding.Variant, 0, len(clientHandles))
		idx := make([]int, 0, len(clientHandles))

		for i, handle := range clientHandles {
			entry, err := g.table.get(handle)
			if err != nil {
				results[i] = err
				continue
			}
			nv, err := variant.EncodeAs(values[i], g.writeType(entry))
			if err != nil {
				results[i] = err
				continue
			}
			idx = append(idx, i)
			serverHandles = append(serverHandles, entry.serverHandle)
			natives = append(natives, nv)
		}

		if len(serverHandles) == 0 {
			return nil
		}

		txn := g.txnSeq.Add(1)
		reply, err := apartment.Call(ctx, g.apt, func() (asyncReply, error) {
			id, codes, err := g.native.AsyncWrite(serverHandles, natives, txn)
			return asyncReply{cancelID: id, codes: codes}, err
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		cancelID = reply.cancelID
		for j, i := range idx {
			if j < len(reply.codes) {
				results[i] = reply.codes[j].Err()
			}
		}

		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return cancelID, results, nil
}

// CancelAsync asks the server to cancel an outstanding async request. The
// server confirms with a cancel-complete notification; an operation that
// already started on the device may still complete.
func (g *Group) CancelAsync(ctx context.Context, cancelID uint32) error {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	return g.ask(ctx, func() error {
		return mapBridgeErr(g.apt.Do(ctx, func() error {
			return g.native.Cancel(cancelID)
		}))
	})
}

// Subscribe registers for change notifications. At most one subscription
// may be live per group; a second Subscribe without an intervening
// Unsubscribe fails with ErrAlreadySubscribed.
func (g *Group) Subscribe(ctx context.Context) (*Subscription, error) {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	var sub *Subscription
	err := g.ask(ctx, func() error {
		if g.sub != nil {
			return ErrAlreadySubscribed
		}

		cookie, err := apartment.Call(ctx, g.apt, func() (uint32, error) {
			return g.native.Advise(g.apt.Callback())
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		sub = newSubscription(g.cfg.SubscriptionBuffer)
		g.sub = sub
		g.adviseCookie = cookie

		return nil
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// Unsubscribe ends the subscription identified by token and closes its
// update stream.
func (g *Group) Unsubscribe(ctx context.Context, token uuid.UUID) error {
	ctx, cancel := callContext(ctx, g.cfg)
	defer cancel()

	return g.ask(ctx, func() error {
		if g.sub == nil || g.sub.Token() != token {
			return ErrInvalidToken
		}

		cookie := g.adviseCookie
		err := g.apt.Do(ctx, func() error {
			return g.native.Unadvise(cookie)
		})
		if err != nil {
			return mapBridgeErr(err)
		}

		g.sub.close()
		g.sub = nil
		g.adviseCookie = 0

		return nil
	})
}

// deliver routes one decoded callback batch onto the group goroutine.
// Called by the dispatcher; never blocks past group removal.
func (g *Group) deliver(ev apartment.Event) {
	select {
	case g.mailbox <- func() { g.handleEvent(ev) }:
	case <-g.removed:
	}
}

func (g *Group) handleEvent(ev apartment.Event) {
	switch e := ev.(type) {
	case *apartment.DataChangeEvent:
		g.applyUpdates(e.Updates)
	case *apartment.ReadCompleteEvent:
		g.applyUpdates(e.Updates)
	case *apartment.WriteCompleteEvent:
		if g.sub == nil {
			return
		}
		for _, res := range e.Results {
			g.sub.publish(Update{
				ClientHandle: res.ClientHandle,
				Value:        variant.NewEmptyValue(),
				Err:          res.Err,
			})
		}
	case *apartment.CancelCompleteEvent:
		g.logger.Debug("async request canceled", "transaction_id", e.TransactionID)
	}
}

func (g *Group) applyUpdates(updates []apartment.ItemUpdate) {
	for _, u := range updates {
		if u.Err == nil {
			g.table.update(u.ClientHandle, u.Value, u.Quality, u.Timestamp) //nolint:errcheck // removal race is benign
		}
		if g.sub != nil {
			g.sub.publish(Update{
				ClientHandle: u.ClientHandle,
				Value:        u.Value,
				Quality:      u.Quality,
				Timestamp:    u.Timestamp,
				Err:          u.Err,
			})
		}
	}
}

// remove transitions the group to the terminal removed state: unadvise any
// live subscription, then release the native group. Invoked by the server
// actor, which deregisters the group from the dispatcher first.
func (g *Group) remove(ctx context.Context) error {
	err := g.ask(ctx, func() error {
		if g.sub != nil {
			cookie := g.adviseCookie
			if uerr := g.apt.Do(ctx, func() error {
				return g.native.Unadvise(cookie)
			}); uerr != nil {
				g.logger.Warn("unadvise on group removal failed", "error", uerr)
			}
			g.sub.close()
			g.sub = nil
		}

		rerr := g.apt.Do(ctx, func() error {
			return g.native.Release()
		})

		// terminal; the mailbox task stops after this message
		g.phase.Store(groupRemoved)

		return mapBridgeErr(rerr)
	})

	g.markRemoved()

	if errors.Is(err, ErrGroupRemoved) {
		return nil
	}

	return err
}

func (g *Group) markRemoved() {
	g.phase.Store(groupRemoved)
	g.removeOnce.Do(func() { close(g.removed) })
}

// mapCtxErr maps a context error to the proxy error taxonomy.
func mapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimedOut
	}

	return err
}

// mapBridgeErr maps apartment-level failures to the proxy error taxonomy.
func mapBridgeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apartment.ErrApartmentFaulted), errors.Is(err, apartment.ErrApartmentClosed):
		return fmt.Errorf("%w: %w", ErrConnectionFault, err)
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimedOut
	default:
		return err
	}
}
