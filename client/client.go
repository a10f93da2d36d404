package client

import (
	"context"

	"github.com/openopc/go-opcda/apartment"
	"github.com/openopc/go-opcda/binding"
	"github.com/openopc/go-opcda/logger"
)

// Client is the entry point of the runtime: it holds the connector to the
// legacy component surface and the shared configuration, and opens server
// connections.
type Client struct {
	cfg       *Config
	logger    logger.Logger
	connector binding.Connector
	rt        apartment.Runtime
}

// Option configures a Client.
type Option func(*Client)

// WithConfig overrides the default configuration.
func WithConfig(cfg *Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithLogger overrides the default logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRuntime sets the per-thread component runtime initialized on each
// connection's apartment thread.
func WithRuntime(rt apartment.Runtime) Option {
	return func(c *Client) { c.rt = rt }
}

// New creates a Client over the given connector.
func New(connector binding.Connector, opts ...Option) *Client {
	c := &Client{
		connector: connector,
		rt:        apartment.NopRuntime{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg == nil {
		c.cfg = DefaultConfig()
	}
	if c.logger == nil {
		c.logger = logger.GetLogger()
	}

	return c
}

// Connect activates the server identified by progID on a fresh apartment
// and returns the connected Server.
func (c *Client) Connect(ctx context.Context, progID string) (*Server, error) {
	ctx, cancel := callContext(ctx, c.cfg)
	defer cancel()

	srv, err := newServer(ctx, progID, c.connector, c.rt, c.cfg, c.logger)
	if err != nil {
		return nil, mapCtxErr(err)
	}

	return srv, nil
}

// callContext bounds a proxy call by the configured call timeout.
func callContext(ctx context.Context, cfg *Config) (context.Context, context.CancelFunc) {
	if cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, cfg.CallTimeout)
}
