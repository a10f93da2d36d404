package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openopc/go-opcda/apartment"
	"github.com/openopc/go-opcda/binding"
	"github.com/openopc/go-opcda/internal/task"
	"github.com/openopc/go-opcda/logger"
	"github.com/openopc/go-opcda/variant"
)

// GroupDef describes one group to create on a server.
type GroupDef struct {
	Name string
	// ClientHandle is the caller-chosen group handle echoed in callbacks.
	ClientHandle uint32
	// UpdateRate is the requested update rate in milliseconds; zero selects
	// the configured default.
	UpdateRate uint32
	// Active requests the group be created in the active state.
	Active bool
	// PercentDeadband is the minimum percent change required to report an
	// update for analog items.
	PercentDeadband float32
	TimeBias        int32
	LocaleID        uint32
}

// ServerStatus is the decoded server status.
type ServerStatus struct {
	StartTime      time.Time
	CurrentTime    time.Time
	LastUpdateTime time.Time
	State          binding.ServerState
	GroupCount     uint32
	Bandwidth      uint32
	Version        string
	VendorInfo     string
}

// Server owns one server connection: its apartment, its groups and the
// callback dispatcher. Created by Client.Connect; destroyed by Close or a
// connection fault.
type Server struct {
	progID string
	cfg    *Config
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	apt     *apartment.Apartment
	native  binding.Server
	taskMgr *task.Manager
	state   *connStateMgr
	disp    *dispatcher

	mu     sync.Mutex
	groups map[uint32]*Group // by server group handle

	closeOnce sync.Once
}

func newServer(ctx context.Context, progID string, connector binding.Connector, rt apartment.Runtime, cfg *Config, l logger.Logger) (*Server, error) {
	s := &Server{
		progID: progID,
		cfg:    cfg,
		logger: l.With("server", progID),
		groups: make(map[uint32]*Group),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = newConnStateMgr(s.logger)
	s.disp = newDispatcher(s.logger)
	s.taskMgr = task.NewManager(s.ctx, s.logger)

	apt, err := apartment.New(s.ctx, rt, &apartment.Config{
		EventQueueSize: cfg.EventQueueSize,
		PumpInterval:   cfg.PumpInterval,
	}, s.logger)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.apt = apt

	native, err := apartment.Call(ctx, apt, func() (binding.Server, error) {
		return connector.Connect(progID)
	})
	if err != nil {
		apt.Close()
		s.cancel()

		return nil, fmt.Errorf("connect %s: %w", progID, mapBridgeErr(err))
	}
	s.native = native

	if err := task.Consume(s.taskMgr, "dispatcher", apt.Events(), s.disp.route, nil); err != nil {
		s.teardown()
		return nil, err
	}
	if err := s.taskMgr.Start("faultWatcher", s.watchFault, nil); err != nil {
		s.teardown()
		return nil, err
	}

	s.state.ToConnected() //nolint:errcheck // fresh manager starts disconnected

	return s, nil
}

// teardown releases connection resources after a failed startup.
func (s *Server) teardown() {
	s.cancel()
	s.taskMgr.Stop()
	s.taskMgr.Wait()
	s.apt.Close()
}

// watchFault marks the connection faulted when the apartment faults.
func (s *Server) watchFault() bool {
	select {
	case <-s.apt.FaultChan():
		s.onFault()
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) onFault() {
	s.logger.Error("connection fault, server requires reconnect")
	s.state.ToFaulted()
	// stop group mailboxes and the dispatcher; their cleanup closes the
	// subscription streams
	s.taskMgr.Stop()
}

// State returns the current connection state.
func (s *Server) State() ConnState {
	return s.state.State()
}

// WaitState waits for the connection to reach the given state.
func (s *Server) WaitState(ctx context.Context, state ConnState) error {
	return s.state.WaitState(ctx, state)
}

// OnStateChange registers a handler invoked on connection state changes.
func (s *Server) OnStateChange(handlers ...StateChangeHandler) {
	s.state.AddHandler(handlers...)
}

// DroppedBatches returns the number of callback batches dropped because
// their group was already removed.
func (s *Server) DroppedBatches() int64 {
	return s.disp.droppedBatches()
}

func (s *Server) checkUsable() error {
	switch s.state.State() {
	case ConnectedState:
		return nil
	case FaultedState:
		return ErrConnectionFault
	default:
		return ErrNotConnected
	}
}

// AddGroup creates a subscription group on the server.
func (s *Server) AddGroup(ctx context.Context, def GroupDef) (*Group, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}

	ctx, cancel := callContext(ctx, s.cfg)
	defer cancel()

	if def.UpdateRate == 0 {
		def.UpdateRate = s.cfg.DefaultUpdateRate
	}

	info, err := apartment.Call(ctx, s.apt, func() (binding.GroupInfo, error) {
		return s.native.AddGroup(binding.GroupDef{
			Name:            def.Name,
			Active:          def.Active,
			UpdateRate:      def.UpdateRate,
			ClientHandle:    def.ClientHandle,
			TimeBias:        def.TimeBias,
			PercentDeadband: def.PercentDeadband,
			LocaleID:        def.LocaleID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("add group %s: %w", def.Name, mapBridgeErr(err))
	}

	g := newGroup(def, info, s.apt, s.cfg, s.logger)
	if err := task.Consume(s.taskMgr, "group-"+def.Name, g.mailbox, g.runMailbox, g.cleanup); err != nil {
		// fresh group, nothing advised yet; release it on the apartment
		s.apt.Do(ctx, info.Group.Release) //nolint:errcheck // best effort
		return nil, err
	}

	s.disp.register(info.ServerHandle, g)
	s.mu.Lock()
	s.groups[info.ServerHandle] = g
	s.mu.Unlock()

	return g, nil
}

// RemoveGroup removes a group: it is deregistered from callback routing
// first, then unadvised and released, then dropped from the server. The
// group is unusable afterwards.
func (s *Server) RemoveGroup(ctx context.Context, g *Group) error {
	if err := s.checkUsable(); err != nil {
		return err
	}

	ctx, cancel := callContext(ctx, s.cfg)
	defer cancel()

	s.disp.deregister(g.ServerHandle())
	s.mu.Lock()
	delete(s.groups, g.ServerHandle())
	s.mu.Unlock()

	if err := g.remove(ctx); err != nil {
		return err
	}

	err := s.apt.Do(ctx, func() error {
		return s.native.RemoveGroup(g.ServerHandle(), false)
	})

	return mapBridgeErr(err)
}

// Status returns the decoded server status.
func (s *Server) Status(ctx context.Context) (ServerStatus, error) {
	if err := s.checkUsable(); err != nil {
		return ServerStatus{}, err
	}

	ctx, cancel := callContext(ctx, s.cfg)
	defer cancel()

	status, err := apartment.Call(ctx, s.apt, func() (binding.ServerStatus, error) {
		return s.native.Status()
	})
	if err != nil {
		return ServerStatus{}, mapBridgeErr(err)
	}

	return ServerStatus{
		StartTime:      variant.TimeFromFiletime(status.StartTime),
		CurrentTime:    variant.TimeFromFiletime(status.CurrentTime),
		LastUpdateTime: variant.TimeFromFiletime(status.LastUpdateTime),
		State:          status.State,
		GroupCount:     status.GroupCount,
		Bandwidth:      status.Bandwidth,
		Version:        fmt.Sprintf("%d.%d.%d", status.MajorVersion, status.MinorVersion, status.BuildNumber),
		VendorInfo:     status.VendorInfo,
	}, nil
}

// Browse returns a lazy cursor over the item identifiers of the server
// address space whose IDs match filter. An empty filter matches everything.
func (s *Server) Browse(ctx context.Context, filter string) (*BrowseCursor, error) {
	if err := s.checkUsable(); err != nil {
		return nil, err
	}

	ctx, cancel := callContext(ctx, s.cfg)
	defer cancel()

	native, err := apartment.Call(ctx, s.apt, func() (binding.Browser, error) {
		return s.native.CreateBrowser(filter)
	})
	if err != nil {
		return nil, mapBridgeErr(err)
	}

	return &BrowseCursor{apt: s.apt, cfg: s.cfg, native: native}, nil
}

// Close releases the connection: all groups are removed, the server object
// released, and the apartment shut down. Close blocks until the apartment
// thread has exited.
func (s *Server) Close(ctx context.Context) error {
	var firstErr error

	s.closeOnce.Do(func() {
		ctx, cancel := callContext(ctx, s.cfg)
		defer cancel()

		s.mu.Lock()
		groups := make([]*Group, 0, len(s.groups))
		for _, g := range s.groups {
			groups = append(groups, g)
		}
		s.groups = make(map[uint32]*Group)
		s.mu.Unlock()

		for _, g := range groups {
			s.disp.deregister(g.ServerHandle())
			if err := g.remove(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if err := s.apt.Do(ctx, s.native.Release); err != nil && firstErr == nil {
			firstErr = mapBridgeErr(err)
		}

		s.cancel()
		s.taskMgr.Stop()
		s.taskMgr.Wait()
		s.apt.Close()
		s.state.ToDisconnected()
	})

	return firstErr
}
