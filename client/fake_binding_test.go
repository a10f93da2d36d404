package client

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openopc/go-opcda/binding"
	"github.com/openopc/go-opcda/logger"
	"github.com/openopc/go-opcda/variant"
)

// In-memory fakes implementing the binding interfaces, used by every test
// in this package.

type fakeConnector struct {
	mu         sync.Mutex
	servers    map[string]*fakeServer
	connectErr error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{servers: make(map[string]*fakeServer)}
}

var _ binding.Connector = (*fakeConnector)(nil)

func (c *fakeConnector) Connect(progID string) (binding.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connectErr != nil {
		return nil, c.connectErr
	}

	srv, ok := c.servers[progID]
	if !ok {
		srv = newFakeServer()
		c.servers[progID] = srv
	}

	return srv, nil
}

type fakeServer struct {
	mu         sync.Mutex
	nextHandle uint32
	groups     map[uint32]*fakeGroup
	browseIDs  []string
	released   bool

	// per-item device values shared by all groups of this server
	values map[string]binding.Variant

	statusDelay time.Duration
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		groups: make(map[uint32]*fakeGroup),
		values: make(map[string]binding.Variant),
	}
}

var _ binding.Server = (*fakeServer)(nil)

func (s *fakeServer) setValue(itemID string, nv binding.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[itemID] = nv
}

// group returns the single fake group of the server, for tests that create
// exactly one.
func (s *fakeServer) group() *fakeGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fg := range s.groups {
		return fg
	}

	return nil
}

func (s *fakeServer) AddGroup(def binding.GroupDef) (binding.GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHandle++
	fg := &fakeGroup{
		srv:    s,
		handle: s.nextHandle,
		state: binding.GroupState{
			Name:              def.Name,
			Active:            def.Active,
			UpdateRate:        def.UpdateRate,
			RevisedUpdateRate: def.UpdateRate,
			TimeBias:          def.TimeBias,
			PercentDeadband:   def.PercentDeadband,
			LocaleID:          def.LocaleID,
			ClientHandle:      def.ClientHandle,
			ServerHandle:      s.nextHandle,
		},
		items: make(map[uint32]*fakeItem),
	}
	s.groups[fg.handle] = fg

	return binding.GroupInfo{
		ServerHandle:      fg.handle,
		RevisedUpdateRate: def.UpdateRate,
		Group:             fg,
	}, nil
}

func (s *fakeServer) RemoveGroup(serverHandle uint32, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[serverHandle]; !ok {
		return binding.OPC_E_INVALIDHANDLE.Err()
	}
	delete(s.groups, serverHandle)

	return nil
}

func (s *fakeServer) Status() (binding.ServerStatus, error) {
	if s.statusDelay > 0 {
		time.Sleep(s.statusDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := variant.FiletimeFromTime(time.Now())

	return binding.ServerStatus{
		StartTime:      now,
		CurrentTime:    now,
		LastUpdateTime: now,
		State:          binding.StateRunning,
		GroupCount:     uint32(len(s.groups)),
		MajorVersion:   3,
		MinorVersion:   1,
		BuildNumber:    7,
		VendorInfo:     "fake data access server",
	}, nil
}

func (s *fakeServer) CreateBrowser(filter string) (binding.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, id := range s.browseIDs {
		if filter == "" || strings.Contains(id, filter) {
			ids = append(ids, id)
		}
	}

	return &fakeBrowser{ids: ids}, nil
}

func (s *fakeServer) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true

	return nil
}

type fakeBrowser struct {
	mu  sync.Mutex
	ids []string
	pos int
}

var _ binding.Browser = (*fakeBrowser)(nil)

func (b *fakeBrowser) Next(max int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pos >= len(b.ids) {
		return nil, nil
	}
	end := b.pos + max
	if end > len(b.ids) {
		end = len(b.ids)
	}
	page := b.ids[b.pos:end]
	b.pos = end

	return page, nil
}

func (b *fakeBrowser) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos = 0

	return nil
}

func (b *fakeBrowser) Release() error { return nil }

type fakeItem struct {
	id           string
	clientHandle uint32
	active       bool
}

type fakeGroup struct {
	srv    *fakeServer
	handle uint32

	mu         sync.Mutex
	state      binding.GroupState
	nextItem   uint32
	items      map[uint32]*fakeItem
	cb         binding.DataCallback
	nextCookie uint32

	deviceReads     atomic.Int32
	deviceReadDelay time.Duration
	panicOnRead     bool
	released        atomic.Bool
}

var _ binding.Group = (*fakeGroup)(nil)

const goodQuality = uint16(0xC0)

func (g *fakeGroup) addItems(defs []binding.ItemDef, store bool) ([]binding.ItemResult, []binding.HRESULT, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	results := make([]binding.ItemResult, len(defs))
	codes := make([]binding.HRESULT, len(defs))
	for i, def := range defs {
		if strings.HasPrefix(def.ItemID, "bad.") {
			codes[i] = binding.OPC_E_UNKNOWNITEMID
			continue
		}
		g.nextItem++
		results[i] = binding.ItemResult{
			ServerHandle:  g.nextItem,
			CanonicalType: binding.VT_R8,
		}
		if store {
			g.items[g.nextItem] = &fakeItem{
				id:           def.ItemID,
				clientHandle: def.ClientHandle,
				active:       def.Active,
			}
		}
	}

	return results, codes, nil
}

func (g *fakeGroup) AddItems(defs []binding.ItemDef) ([]binding.ItemResult, []binding.HRESULT, error) {
	return g.addItems(defs, true)
}

func (g *fakeGroup) ValidateItems(defs []binding.ItemDef) ([]binding.ItemResult, []binding.HRESULT, error) {
	return g.addItems(defs, false)
}

func (g *fakeGroup) RemoveItems(serverHandles []uint32) ([]binding.HRESULT, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	codes := make([]binding.HRESULT, len(serverHandles))
	for i, handle := range serverHandles {
		if _, ok := g.items[handle]; !ok {
			codes[i] = binding.OPC_E_INVALIDHANDLE
			continue
		}
		delete(g.items, handle)
	}

	return codes, nil
}

func (g *fakeGroup) SetActiveState(serverHandles []uint32, active bool) ([]binding.HRESULT, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	codes := make([]binding.HRESULT, len(serverHandles))
	for i, handle := range serverHandles {
		item, ok := g.items[handle]
		if !ok {
			codes[i] = binding.OPC_E_INVALIDHANDLE
			continue
		}
		item.active = active
	}

	return codes, nil
}

func (g *fakeGroup) GetState() (binding.GroupState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state, nil
}

func (g *fakeGroup) SetState(update binding.GroupStateUpdate) (binding.GroupState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if update.UpdateRate != nil {
		g.state.UpdateRate = *update.UpdateRate
		g.state.RevisedUpdateRate = *update.UpdateRate
	}
	if update.Active != nil {
		g.state.Active = *update.Active
	}
	if update.TimeBias != nil {
		g.state.TimeBias = *update.TimeBias
	}
	if update.PercentDeadband != nil {
		g.state.PercentDeadband = *update.PercentDeadband
	}
	if update.ClientHandle != nil {
		g.state.ClientHandle = *update.ClientHandle
	}

	return g.state, nil
}

func (g *fakeGroup) readStates(serverHandles []uint32) ([]binding.ItemState, []binding.HRESULT) {
	g.mu.Lock()
	defer g.mu.Unlock()

	states := make([]binding.ItemState, len(serverHandles))
	codes := make([]binding.HRESULT, len(serverHandles))
	for i, handle := range serverHandles {
		item, ok := g.items[handle]
		if !ok {
			codes[i] = binding.OPC_E_INVALIDHANDLE
			continue
		}
		g.srv.mu.Lock()
		nv := g.srv.values[item.id]
		g.srv.mu.Unlock()
		states[i] = binding.ItemState{
			ClientHandle: item.clientHandle,
			Value:        nv,
			Quality:      goodQuality,
			Timestamp:    variant.FiletimeFromTime(time.Now()),
		}
	}

	return states, codes
}

func (g *fakeGroup) SyncRead(source binding.DataSource, serverHandles []uint32) ([]binding.ItemState, []binding.HRESULT, error) {
	if g.panicOnRead {
		panic("fake device exploded")
	}
	if source == binding.SourceDevice {
		g.deviceReads.Add(1)
		if g.deviceReadDelay > 0 {
			time.Sleep(g.deviceReadDelay)
		}
	}

	states, codes := g.readStates(serverHandles)

	return states, codes, nil
}

func (g *fakeGroup) SyncWrite(serverHandles []uint32, values []binding.Variant) ([]binding.HRESULT, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	codes := make([]binding.HRESULT, len(serverHandles))
	for i, handle := range serverHandles {
		item, ok := g.items[handle]
		if !ok {
			codes[i] = binding.OPC_E_INVALIDHANDLE
			continue
		}
		g.srv.mu.Lock()
		g.srv.values[item.id] = values[i]
		g.srv.mu.Unlock()
	}

	return codes, nil
}

func (g *fakeGroup) AsyncRead(serverHandles []uint32, transactionID uint32) (uint32, []binding.HRESULT, error) {
	states, codes := g.readStates(serverHandles)

	g.mu.Lock()
	cb := g.cb
	g.mu.Unlock()

	if cb != nil {
		records := make([]binding.CallbackRecord, 0, len(states))
		for i, state := range states {
			if codes[i].IsOK() {
				records = append(records, binding.CallbackRecord{
					ClientHandle: state.ClientHandle,
					Value:        state.Value,
					Quality:      state.Quality,
					Timestamp:    state.Timestamp,
				})
			}
		}
		go cb.OnReadComplete(transactionID, g.handle, binding.S_OK, binding.S_OK, records)
	}

	return transactionID + 1000, codes, nil
}

func (g *fakeGroup) AsyncWrite(serverHandles []uint32, values []binding.Variant, transactionID uint32) (uint32, []binding.HRESULT, error) {
	codes, err := g.SyncWrite(serverHandles, values)
	if err != nil {
		return 0, nil, err
	}

	g.mu.Lock()
	cb := g.cb
	clientHandles := make([]uint32, len(serverHandles))
	for i, handle := range serverHandles {
		if item, ok := g.items[handle]; ok {
			clientHandles[i] = item.clientHandle
		}
	}
	g.mu.Unlock()

	if cb != nil {
		go cb.OnWriteComplete(transactionID, g.handle, binding.S_OK, clientHandles, codes)
	}

	return transactionID + 1000, codes, nil
}

func (g *fakeGroup) Cancel(cancelID uint32) error {
	g.mu.Lock()
	cb := g.cb
	g.mu.Unlock()

	if cb != nil {
		go cb.OnCancelComplete(cancelID-1000, g.handle)
	}

	return nil
}

func (g *fakeGroup) Advise(cb binding.DataCallback) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cb = cb
	g.nextCookie++

	return g.nextCookie, nil
}

func (g *fakeGroup) Unadvise(connection uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if connection != g.nextCookie || g.cb == nil {
		return binding.E_INVALIDARG.Err()
	}
	g.cb = nil

	return nil
}

func (g *fakeGroup) Release() error {
	g.released.Store(true)
	return nil
}

// fireDataChange pushes a synthetic change notification through the
// advised callback, as the real server would on its update cycle.
func (g *fakeGroup) fireDataChange(txn uint32, records []binding.CallbackRecord) error {
	g.mu.Lock()
	cb := g.cb
	g.mu.Unlock()

	if cb == nil {
		return fmt.Errorf("no callback advised")
	}
	cb.OnDataChange(txn, g.handle, binding.S_OK, binding.S_OK, records)

	return nil
}

// callbackRef returns the advised callback even after unadvise, to model
// in-flight notifications racing with group removal.
func (g *fakeGroup) callbackRef() binding.DataCallback {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cb
}

func float64Variant(v float64) binding.Variant {
	nv, err := variant.Encode(variant.NewFloatValue(v))
	if err != nil {
		panic(err)
	}

	return nv
}

type nopLogger struct{}

var _ logger.Logger = nopLogger{}

func (nopLogger) Debug(msg string, keysAndValues ...any) {}
func (nopLogger) Info(msg string, keysAndValues ...any)  {}
func (nopLogger) Warn(msg string, keysAndValues ...any)  {}
func (nopLogger) Error(msg string, keysAndValues ...any) {}
func (nopLogger) Fatal(msg string, keysAndValues ...any) {}
func (nopLogger) With(keyValues ...any) logger.Logger    { return nopLogger{} }
func (nopLogger) Level() logger.Level                    { return logger.InfoLevel }
func (nopLogger) SetLevel(level logger.Level)            {}
