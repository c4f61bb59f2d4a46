package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/exedev/mcpchat/internal/llm"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func registerCalculator(server *mcpsdk.Server) {
	server.AddTool(&mcpsdk.Tool{
		Name:        "add",
		Description: "Add two numbers",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct{ A, B float64 }
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("%g", args.A+args.B)}},
		}, nil
	})
	server.AddTool(&mcpsdk.Tool{
		Name:        "divide",
		Description: "Divide a by b",
		InputSchema: map[string]any{"type": "object"},
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "division by zero"}},
			IsError: true,
		}, nil
	})
}

// connectInMemory starts an in-process server and connects a Client to it
// through the overridden transport builder.
func connectInMemory(t *testing.T) *Client {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "calc", Version: "test"}, nil)
	registerCalculator(server)

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("server connect failed: %v", err)
	}

	original := transportBuilder
	transportBuilder = func(ctx context.Context, spec ServerSpec) (mcpsdk.Transport, error) {
		return clientTransport, nil
	}
	t.Cleanup(func() { transportBuilder = original })

	client, err := Connect(ctx, "npx -y calc-server", quietLogger())
	if err != nil {
		cancel()
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		serverSession.Close()
		cancel()
	})
	return client
}

func TestListTools(t *testing.T) {
	client := connectInMemory(t)

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	byName := map[string]llm.ToolDef{}
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	add, ok := byName["add"]
	if !ok {
		t.Fatalf("add tool missing: %+v", tools)
	}
	if add.Description != "Add two numbers" {
		t.Errorf("description = %q", add.Description)
	}
	props, _ := add.InputSchema["properties"].(map[string]interface{})
	if _, ok := props["a"]; !ok {
		t.Errorf("schema properties lost: %+v", add.InputSchema)
	}
}

func TestCallTool(t *testing.T) {
	client := connectInMemory(t)

	out, err := client.CallTool(context.Background(), "add", json.RawMessage(`{"a":2,"b":3}`))
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if out.IsError {
		t.Fatal("unexpected tool error")
	}
	var content []map[string]any
	if err := json.Unmarshal(out.Content, &content); err != nil {
		t.Fatalf("content should be a JSON array: %v", err)
	}
	if len(content) != 1 || content[0]["type"] != "text" || content[0]["text"] != "5" {
		t.Errorf("unexpected content: %s", out.Content)
	}
}

func TestCallToolReportsToolError(t *testing.T) {
	client := connectInMemory(t)

	out, err := client.CallTool(context.Background(), "divide", nil)
	if err != nil {
		t.Fatalf("tool-level errors should not fail the call: %v", err)
	}
	if !out.IsError || !strings.Contains(string(out.Content), "division by zero") {
		t.Errorf("unexpected output: %+v", out)
	}
}

func TestCallToolRejectsNonObjectInput(t *testing.T) {
	client := connectInMemory(t)
	if _, err := client.CallTool(context.Background(), "add", json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error for array arguments")
	}
}

func TestClosedClient(t *testing.T) {
	client := connectInMemory(t)
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}
	if _, err := client.ListTools(context.Background()); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestToToolDefNil(t *testing.T) {
	if def := toToolDef(nil); def.Name != "" || def.InputSchema != nil {
		t.Errorf("nil tool should map to zero def, got %+v", def)
	}
	def := toToolDef(&mcpsdk.Tool{Name: "bare"})
	if def.InputSchema["type"] != "object" {
		t.Errorf("missing schema should default to an object, got %+v", def.InputSchema)
	}
}
