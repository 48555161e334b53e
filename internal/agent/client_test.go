package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/podcaster/internal/rpc"
)

const helperEnv = "PODCASTER_AGENT_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		runHelper(mode)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runHelper(mode string) {
	switch mode {
	case "mcp":
		s := server.NewMCPServer("fake-agent", "0.1.0", server.WithToolCapabilities(true))
		s.AddTool(
			mcp.NewTool("echo",
				mcp.WithDescription("Echo the text back"),
				mcp.WithString("text", mcp.Required()),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				text, err := req.RequireString("text")
				if err != nil {
					return mcp.NewToolResultError("text is required"), nil
				}
				b, _ := json.Marshal(map[string]any{"status": "success", "text": text})
				return mcp.NewToolResultText(string(b)), nil
			},
		)
		server.NewStdioServer(s).Listen(context.Background(), os.Stdin, os.Stdout)
	case "chatty":
		// Hand-rolled agent that interleaves notifications and requests
		// before every response.
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			var msg rpc.Message
			if json.Unmarshal(sc.Bytes(), &msg) != nil || !msg.IsRequest() {
				continue
			}
			fmt.Println(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"working"}}`)
			fmt.Println(`{"jsonrpc":"2.0","id":"srv-1","method":"ping"}`)
			var result string
			switch msg.Method {
			case "initialize":
				result = `{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"chatty","version":"1"}}`
			case "tools/call":
				result = `{"content":[{"type":"text","text":"{\"status\":\"success\"}"}]}`
			default:
				fmt.Printf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"nope"}}`+"\n", msg.ID)
				continue
			}
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":%s}`+"\n", msg.ID, result)
		}
	case "badinit":
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			var msg rpc.Message
			if json.Unmarshal(sc.Bytes(), &msg) != nil || !msg.IsRequest() {
				continue
			}
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32600,"message":"refused"}}`+"\n", msg.ID)
		}
	case "mute":
		io.Copy(io.Discard, os.Stdin)
	case "exit":
	}
}

func helperClient(mode string, timeout time.Duration) *Client {
	return NewClient("test-"+mode, rpc.Command{
		Path: os.Args[0],
		Env:  []string{helperEnv + "=" + mode},
	}, timeout)
}

func connected(t *testing.T, mode string) *Client {
	t.Helper()
	c := helperClient(mode, 5*time.Second)
	t.Cleanup(c.Disconnect)
	ok, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !ok {
		t.Fatalf("Connect returned false: %v", c.Err())
	}
	return c
}

func TestConnect_HandshakeWithMCPServer(t *testing.T) {
	c := connected(t, "mcp")

	if c.State() != Ready {
		t.Fatalf("State = %v, want ready", c.State())
	}
	if got := c.ServerInfo().Name; got != "fake-agent" {
		t.Errorf("ServerInfo.Name = %q, want fake-agent", got)
	}

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Errorf("tools = %+v, want [echo]", tools)
	}
}

func TestCallTool_Success(t *testing.T) {
	c := connected(t, "mcp")

	res, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hola"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var payload struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	if err := res.Decode(&payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.Status != "success" || payload.Text != "hola" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestCallTool_ToolErrorKeepsClientReady(t *testing.T) {
	c := connected(t, "mcp")

	res, err := c.CallTool(context.Background(), "echo", nil)
	var terr *ToolError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if !res.IsError {
		t.Error("IsError = false, want true")
	}
	if c.State() != Ready {
		t.Errorf("State = %v, want ready after tool error", c.State())
	}

	if _, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "again"}); err != nil {
		t.Errorf("follow-up CallTool: %v", err)
	}
}

func TestToolResult_Decode(t *testing.T) {
	var v struct {
		Status string `json:"status"`
	}
	if err := (ToolResult{Text: `{"status":"success"}`}).Decode(&v); err != nil || v.Status != "success" {
		t.Errorf("Decode = %v, status %q", err, v.Status)
	}
	if err := (ToolResult{}).Decode(&v); err == nil {
		t.Error("empty text decoded without error")
	}
	if err := (ToolResult{Text: "not json"}).Decode(&v); err == nil {
		t.Error("invalid JSON decoded without error")
	}
}

func TestCallTool_SkipsAgentInitiatedMessages(t *testing.T) {
	c := connected(t, "chatty")

	res, err := c.CallTool(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Text != `{"status":"success"}` {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestConnect_FailuresAreTerminal(t *testing.T) {
	tests := []struct {
		name string
		c    *Client
	}{
		{"missing binary", NewClient("ghost", rpc.Command{Path: "/nonexistent/agent"}, time.Second)},
		{"refused initialize", helperClient("badinit", 5*time.Second)},
		{"exits immediately", helperClient("exit", 5*time.Second)},
		{"never answers", helperClient("mute", 200*time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer tt.c.Disconnect()

			ok, err := tt.c.Connect(context.Background())
			if err != nil {
				t.Fatalf("Connect err = %v, want nil for expected failure", err)
			}
			if ok {
				t.Fatal("Connect = true, want false")
			}
			if tt.c.State() != Disconnected {
				t.Errorf("State = %v, want disconnected", tt.c.State())
			}
			if tt.c.Err() == nil {
				t.Error("Err() = nil, want failure cause")
			}

			if _, err := tt.c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
				t.Errorf("reconnect err = %v, want ErrAlreadyConnected", err)
			}
			if _, err := tt.c.CallTool(context.Background(), "echo", nil); !errors.Is(err, ErrNotReady) {
				t.Errorf("CallTool err = %v, want ErrNotReady", err)
			}
		})
	}
}

func TestConnect_Twice(t *testing.T) {
	c := connected(t, "mcp")
	if _, err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("err = %v, want ErrAlreadyConnected", err)
	}
}

func TestCallTool_NotReady(t *testing.T) {
	c := helperClient("mcp", time.Second)
	if _, err := c.CallTool(context.Background(), "echo", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("unconnected CallTool err = %v, want ErrNotReady", err)
	}
	if _, err := c.ListTools(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("unconnected ListTools err = %v, want ErrNotReady", err)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	never := helperClient("mcp", time.Second)
	never.Disconnect()
	never.Disconnect()
	if never.State() != Disconnected {
		t.Errorf("State = %v, want disconnected", never.State())
	}

	c := connected(t, "mcp")
	c.Disconnect()
	c.Disconnect()
	if _, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "x"}); !errors.Is(err, ErrNotReady) {
		t.Errorf("CallTool after disconnect err = %v, want ErrNotReady", err)
	}
}
