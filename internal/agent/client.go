package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/podcaster/internal/rpc"
)

// ProtocolVersion is the MCP revision announced during the handshake.
const ProtocolVersion = "2024-11-05"

const defaultTimeout = 30 * time.Second

var (
	// ErrNotReady is returned when a call is made outside the Ready state.
	ErrNotReady = errors.New("agent: client not ready")
	// ErrAlreadyConnected is returned when Connect is called more than once.
	ErrAlreadyConnected = errors.New("agent: connect already attempted")
)

// State is the lifecycle position of a Client.
type State int

const (
	Unconnected State = iota
	Connecting
	Ready
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tool describes one tool advertised by an agent.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolResult is the text payload of a tools/call response.
type ToolResult struct {
	Text    string
	IsError bool
}

// Decode unmarshals the result text as JSON into v.
func (r ToolResult) Decode(v any) error {
	if r.Text == "" {
		return errors.New("empty tool result")
	}
	if err := json.Unmarshal([]byte(r.Text), v); err != nil {
		return fmt.Errorf("decoding tool result: %w", err)
	}
	return nil
}

// ToolError is returned when the agent flags a tool result as an error.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Caller is the part of a Client used once it is connected.
type Caller interface {
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error)
}

// Client drives one agent process through
// Unconnected → Connecting → Ready → Disconnected. A failed connect is
// terminal; build a new Client to retry.
type Client struct {
	name    string
	cmd     rpc.Command
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	ch         *rpc.Channel
	nextID     int64
	lastErr    error
	serverInfo mcp.Implementation
}

// NewClient creates an unconnected client for the agent started by cmd.
// timeout bounds every spawn, send and receive; <= 0 means 30s.
func NewClient(name string, cmd rpc.Command, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		name:    name,
		cmd:     cmd,
		timeout: timeout,
		logger:  slog.Default().With("agent", name),
	}
}

// Name returns the agent name.
func (c *Client) Name() string { return c.name }

// Command returns the command used to start the agent.
func (c *Client) Command() rpc.Command { return c.cmd }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the last transport or handshake failure, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ServerInfo returns the name and version the agent reported.
func (c *Client) ServerInfo() mcp.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Connect spawns the agent and performs the initialize handshake. Expected
// failures (missing binary, no or bad response) return false with a nil
// error; the cause is available from Err. Calling Connect twice is a bug and
// returns ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Unconnected {
		return false, ErrAlreadyConnected
	}
	c.state = Connecting

	spawnCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch, err := rpc.Spawn(spawnCtx, c.cmd)
	if err != nil {
		c.failLocked(fmt.Errorf("spawning %s: %w", c.name, err))
		return false, nil
	}
	c.ch = ch

	raw, err := c.callLocked(ctx, "initialize", mcp.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo: mcp.Implementation{
			Name:    "podcaster",
			Version: "1.0.0",
		},
	})
	if err != nil {
		c.failLocked(fmt.Errorf("initialize: %w", err))
		return false, nil
	}

	var init mcp.InitializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		c.failLocked(fmt.Errorf("initialize: decoding result: %w", err))
		return false, nil
	}
	if init.ProtocolVersion == "" {
		c.failLocked(errors.New("initialize: response has no protocol version"))
		return false, nil
	}
	c.serverInfo = init.ServerInfo

	note, err := rpc.NewNotification("notifications/initialized", nil)
	if err != nil {
		c.failLocked(err)
		return false, nil
	}
	sendCtx, cancelSend := context.WithTimeout(ctx, c.timeout)
	err = c.ch.Send(sendCtx, note)
	cancelSend()
	if err != nil {
		c.failLocked(fmt.Errorf("initialized notification: %w", err))
		return false, nil
	}

	c.state = Ready
	c.logger.Debug("agent connected",
		"server", init.ServerInfo.Name,
		"version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion,
	)
	return true, nil
}

// ListTools returns the tools the agent advertises.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return nil, ErrNotReady
	}
	raw, err := c.callLocked(ctx, "tools/list", map[string]any{})
	if err != nil {
		c.dropOnTransportLocked(err)
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var res struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("tools/list: decoding result: %w", err)
	}
	return res.Tools, nil
}

// CallTool invokes a tool and returns its text content. A result flagged as
// an error by the agent is returned together with a *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return ToolResult{}, ErrNotReady
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	raw, err := c.callLocked(ctx, "tools/call", mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		c.dropOnTransportLocked(err)
		return ToolResult{}, fmt.Errorf("tools/call %s: %w", name, err)
	}

	parsed, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return ToolResult{}, fmt.Errorf("tools/call %s: decoding result: %w", name, err)
	}

	res := ToolResult{Text: firstText(parsed.Content), IsError: parsed.IsError}
	c.logger.Debug("tool called", "tool", name, "is_error", res.IsError, "duration", time.Since(start))
	if res.IsError {
		return res, &ToolError{Tool: name, Message: res.Text}
	}
	return res, nil
}

// Disconnect terminates the agent process. It is idempotent and safe in any
// state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.state = Disconnected
}

func (c *Client) closeLocked() {
	if c.ch == nil {
		return
	}
	if err := c.ch.Terminate(rpc.DefaultTerminateTimeout); err != nil {
		c.logger.Warn("terminating agent", "error", err)
	}
	c.ch = nil
}

func (c *Client) failLocked(err error) {
	c.lastErr = err
	c.logger.Warn("agent connect failed", "error", err)
	c.closeLocked()
	c.state = Disconnected
}

// dropOnTransportLocked moves the client to Disconnected when the channel
// itself broke; agent-level RPC errors leave it usable.
func (c *Client) dropOnTransportLocked(err error) {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return
	}
	c.lastErr = err
	c.logger.Warn("agent channel broken", "error", err)
	c.closeLocked()
	c.state = Disconnected
}

// callLocked sends one request and waits for the next response. Messages
// initiated by the agent in between are skipped.
func (c *Client) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.nextID++
	req, err := rpc.NewRequest(c.nextID, method, params)
	if err != nil {
		return nil, err
	}
	if err := c.ch.Send(ctx, req); err != nil {
		return nil, err
	}

	for {
		msg, err := c.ch.Receive(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case msg.IsNotification():
			c.logger.Debug("skipping agent notification", "method", msg.Method)
			continue
		case msg.IsRequest():
			c.logger.Debug("rejecting agent request", "method", msg.Method)
			reply := rpc.Message{
				JSONRPC: rpc.Version,
				ID:      msg.ID,
				Error:   &rpc.Error{Code: -32601, Message: "method not supported by client"},
			}
			if err := c.ch.Send(ctx, reply); err != nil {
				return nil, err
			}
			continue
		}

		if msg.Error != nil {
			return nil, msg.Error
		}
		if msg.Result == nil {
			return nil, fmt.Errorf("%s: response has neither result nor error", method)
		}
		return msg.Result, nil
	}
}

func firstText(content []mcp.Content) string {
	for _, ct := range content {
		switch tc := ct.(type) {
		case mcp.TextContent:
			return tc.Text
		case *mcp.TextContent:
			return tc.Text
		}
	}
	return ""
}
