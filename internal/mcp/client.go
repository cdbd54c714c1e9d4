package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Client is an MCP client for a single configured server, backed by
// github.com/mark3labs/mcp-go rather than a hand-rolled JSON-RPC
// transport: the wire protocol, request IDs, and stdio/SSE framing
// are all the library's concern, not ours.
type Client struct {
	config *ServerConfig
	logger *slog.Logger

	conn *mcpclient.Client

	mu         sync.RWMutex
	tools      []*MCPTool
	resources  []*MCPResource
	prompts    []*MCPPrompt
	serverInfo ServerInfo
	connected  bool
}

// NewClient creates a disconnected MCP client for the given server.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		logger: logger.With("mcp_server", cfg.ID),
	}
}

func dialTransport(cfg *ServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case TransportStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case TransportHTTP:
		opts := make([]mcpclient.ClientOption, 0, len(cfg.Headers))
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported MCP transport %q", cfg.Transport)
	}
}

// Connect dials the server, performs the MCP initialize handshake, and
// caches its tool/resource/prompt catalog.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.config.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	conn, err := dialTransport(c.config)
	if err != nil {
		return fmt.Errorf("dial MCP server %s: %w", c.config.ID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "beacon", Version: "1.0.0"}

	initResult, err := conn.Initialize(ctx, initReq)
	if err != nil {
		conn.Close()
		return fmt.Errorf("initialize MCP server %s: %w", c.config.ID, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.serverInfo = ServerInfo{Name: initResult.ServerInfo.Name, Version: initResult.ServerInfo.Version}
	c.mu.Unlock()

	c.logger.Info("connected to MCP server", "name", initResult.ServerInfo.Name, "version", initResult.ServerInfo.Version)

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.logger.Warn("failed to refresh MCP capabilities", "error", err)
	}
	return nil
}

// Close disconnects from the MCP server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig { return c.config }

// ServerInfo returns the connected server's self-reported identity.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connected reports whether the client completed the initialize handshake.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// RefreshCapabilities re-lists tools, resources, and prompts from the
// server, tolerating servers that don't implement one of the three.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	tools := c.listTools(ctx, conn)
	resources := c.listResources(ctx, conn)
	prompts := c.listPrompts(ctx, conn)

	c.mu.Lock()
	c.tools, c.resources, c.prompts = tools, resources, prompts
	c.mu.Unlock()
	return nil
}

func (c *Client) listTools(ctx context.Context, conn *mcpclient.Client) []*MCPTool {
	result, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.logger.Debug("list tools failed", "error", err)
		return nil
	}
	out := make([]*MCPTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, _ := json.Marshal(t.InputSchema)
		out = append(out, &MCPTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

func (c *Client) listResources(ctx context.Context, conn *mcpclient.Client) []*MCPResource {
	result, err := conn.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		c.logger.Debug("list resources failed", "error", err)
		return nil
	}
	out := make([]*MCPResource, 0, len(result.Resources))
	for _, r := range result.Resources {
		out = append(out, &MCPResource{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MIMEType})
	}
	return out
}

func (c *Client) listPrompts(ctx context.Context, conn *mcpclient.Client) []*MCPPrompt {
	result, err := conn.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		c.logger.Debug("list prompts failed", "error", err)
		return nil
	}
	out := make([]*MCPPrompt, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		args := make([]PromptArgument, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		out = append(out, &MCPPrompt{Name: p.Name, Description: p.Description, Arguments: args})
	}
	return out
}

// Tools returns the cached tool catalog.
func (c *Client) Tools() []*MCPTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// Resources returns the cached resource catalog.
func (c *Client) Resources() []*MCPResource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resources
}

// Prompts returns the cached prompt catalog.
func (c *Client) Prompts() []*MCPPrompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prompts
}

// CallTool invokes a tool on the server and flattens its content blocks
// down to the text result C2's Tool Executor contract requires.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := conn.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	out := &ToolCallResult{IsError: result.IsError}
	for _, block := range result.Content {
		if text, ok := block.(mcp.TextContent); ok {
			out.Content = append(out.Content, ToolResultContent{Type: "text", Text: text.Text})
		}
	}
	return out, nil
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]*ResourceContent, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	result, err := conn.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", uri, err)
	}

	out := make([]*ResourceContent, 0, len(result.Contents))
	for _, content := range result.Contents {
		if text, ok := content.(mcp.TextResourceContents); ok {
			out = append(out, &ResourceContent{URI: text.URI, MimeType: text.MIMEType, Text: text.Text})
		}
	}
	return out, nil
}

// GetPrompt resolves a prompt template with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*GetPromptResult, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	result, err := conn.GetPrompt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get prompt %s: %w", name, err)
	}

	messages := make([]PromptMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		if text, ok := m.Content.(mcp.TextContent); ok {
			messages = append(messages, PromptMessage{
				Role:    string(m.Role),
				Content: MessageContent{Type: "text", Text: text.Text},
			})
		}
	}
	return &GetPromptResult{Description: result.Description, Messages: messages}, nil
}
