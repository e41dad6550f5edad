package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	clientName    = "polychat"
	clientVersion = "1.0.0"
)

// ToolDefinition represents an MCP tool definition.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Client is a connection to one MCP server over any mcp-go transport.
type Client struct {
	name       string
	client     *client.Client
	needsStart bool
	logger     zerolog.Logger
}

// NewStdioClient launches command as an MCP server speaking over stdio.
func NewStdioClient(logger zerolog.Logger, name, command string, args, env []string) (*Client, error) {
	if command == "" {
		return nil, fmt.Errorf("command is required for STDIO MCP client")
	}

	// Split command into command and args if it contains spaces
	parts := strings.Fields(command)
	cmdArgs := append(append([]string(nil), parts[1:]...), args...)

	logger.Info().Str("server", name).Str("command", parts[0]).Strs("args", cmdArgs).Msg("Creating STDIO MCP client")
	mcpClient, err := client.NewStdioMCPClient(parts[0], env, cmdArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio MCP client: %w", err)
	}
	// The stdio transport is started by the constructor.
	return newClient(logger, name, mcpClient, false), nil
}

// NewHTTPClient connects to an MCP server over streamable HTTP.
func NewHTTPClient(logger zerolog.Logger, name, baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required for HTTP MCP client")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	logger.Info().Str("server", name).Str("base_url", baseURL).Msg("Creating HTTP MCP client")
	mcpClient, err := client.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP MCP client: %w", err)
	}
	return newClient(logger, name, mcpClient, true), nil
}

func newClient(logger zerolog.Logger, name string, c *client.Client, needsStart bool) *Client {
	return &Client{
		name:       name,
		client:     c,
		needsStart: needsStart,
		logger:     logger.With().Str("component", "mcp_client").Str("server", name).Logger(),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// Start starts the transport when required and performs the MCP
// handshake. Servers that reject the latest protocol version are retried
// with the previous stable one.
func (c *Client) Start(ctx context.Context) error {
	if c.needsStart {
		if err := c.client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MCP client: %w", err)
		}
	}

	var lastErr error
	for _, protocolVersion := range []string{mcp.LATEST_PROTOCOL_VERSION, "2024-11-05"} {
		initReq := mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: protocolVersion,
				Capabilities:    mcp.ClientCapabilities{},
				ClientInfo: mcp.Implementation{
					Name:    clientName,
					Version: clientVersion,
				},
			},
		}
		if _, err := c.client.Initialize(ctx, initReq); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn().Str("protocol_version", protocolVersion).Err(err).Msg("Initialize failed, trying next version")
			continue
		}
		c.logger.Info().Str("protocol_version", protocolVersion).Msg("MCP client initialized")
		return nil
	}
	return fmt.Errorf("failed to initialize MCP client: %w", lastErr)
}

// ListTools returns all tools available from the MCP server.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	c.logger.Info().Int("tool_count", len(result.Tools)).Msg("Received tools from MCP server")

	return lo.Map(result.Tools, func(tool mcp.Tool, _ int) ToolDefinition {
		inputSchema := map[string]any{"type": tool.InputSchema.Type}
		if inputSchema["type"] == "" {
			inputSchema["type"] = "object"
		}
		if tool.InputSchema.Properties != nil {
			inputSchema["properties"] = tool.InputSchema.Properties
		} else {
			inputSchema["properties"] = map[string]any{}
		}
		if len(tool.InputSchema.Required) > 0 {
			inputSchema["required"] = tool.InputSchema.Required
		}
		if len(tool.InputSchema.Defs) > 0 {
			inputSchema["$defs"] = tool.InputSchema.Defs
		}
		return ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: inputSchema,
		}
	}), nil
}

// CallTool invokes a tool and joins its text contents. A result flagged
// IsError is returned as an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, input map[string]any) (string, error) {
	c.logger.Debug().Str("tool_name", name).Msg("Invoking tool on MCP server")
	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: input,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to invoke tool %s: %w", name, err)
	}

	texts := lo.FilterMap(result.Content, func(content mcp.Content, _ int) (string, bool) {
		if textContent, ok := mcp.AsTextContent(content); ok {
			return textContent.Text, true
		}
		s := mcp.GetTextFromContent(content)
		return s, s != ""
	})
	text := strings.Join(texts, "\n")

	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// Close closes the connection to the MCP server.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
