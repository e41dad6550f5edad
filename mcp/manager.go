package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aschepis/backscratcher/polychat/tools"
	"github.com/rs/zerolog"
)

// ServerConfig describes one MCP server. Exactly one of Command (stdio) or
// URL (streamable HTTP) is set.
type ServerConfig struct {
	Name    string
	Command string
	URL     string
	Args    []string
	Env     []string
}

// Manager owns the connected MCP clients and exposes their tools through a
// tool registry.
type Manager struct {
	mu      sync.Mutex
	clients []*Client
	names   *NameAdapter
	logger  zerolog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		names:  NewNameAdapter(),
		logger: logger.With().Str("component", "mcp_manager").Logger(),
	}
}

// Connect creates and starts a client for cfg.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) (*Client, error) {
	var (
		c   *Client
		err error
	)
	switch {
	case cfg.Command != "" && cfg.URL != "":
		return nil, fmt.Errorf("mcp server %s: command and url are mutually exclusive", cfg.Name)
	case cfg.Command != "":
		c, err = NewStdioClient(m.logger, cfg.Name, cfg.Command, cfg.Args, cfg.Env)
	case cfg.URL != "":
		c, err = NewHTTPClient(m.logger, cfg.Name, cfg.URL)
	default:
		return nil, fmt.Errorf("mcp server %s: command or url is required", cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp server %s: %w", cfg.Name, err)
	}
	m.add(c)
	return c, nil
}

func (m *Manager) add(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = append(m.clients, c)
}

// RegisterTools lists the tools of c and registers each under its safe name.
func (m *Manager) RegisterTools(ctx context.Context, c *Client, registry *tools.Registry) (int, error) {
	defs, err := c.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("mcp server %s: %w", c.Name(), err)
	}
	for _, def := range defs {
		safe := m.names.SafeName(c.Name(), def.Name)
		registry.RegisterMCPTool(safe, def.Name, def.Description, def.InputSchema, c)
	}
	m.logger.Info().Str("server", c.Name()).Int("tool_count", len(defs)).Msg("Registered MCP tools")
	return len(defs), nil
}

// ConnectAll connects every server and registers its tools. A server that
// fails is logged and skipped; the joined errors are returned.
func (m *Manager) ConnectAll(ctx context.Context, servers []ServerConfig, registry *tools.Registry) error {
	var errs []error
	for _, cfg := range servers {
		c, err := m.Connect(ctx, cfg)
		if err != nil {
			m.logger.Warn().Err(err).Str("server", cfg.Name).Msg("Skipping MCP server")
			errs = append(errs, err)
			continue
		}
		if _, err := m.RegisterTools(ctx, c, registry); err != nil {
			m.logger.Warn().Err(err).Str("server", cfg.Name).Msg("Failed to register MCP tools")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, c := range m.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.clients = nil
	return errors.Join(errs...)
}
