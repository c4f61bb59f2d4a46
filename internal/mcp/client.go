// Package mcp connects to Model Context Protocol servers and exposes their
// tools to the registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/exedev/mcpchat/internal/llm"
)

// Version is reported to servers during the handshake.
var Version = "dev"

// HandshakeTimeout bounds connecting and initializing one server.
var HandshakeTimeout = 30 * time.Second

// Client is one connected MCP server.
type Client struct {
	spec    ServerSpec
	impl    *mcpsdk.Client
	mu      sync.Mutex
	session *mcpsdk.ClientSession
	logger  *log.Logger
}

// Connect parses desc, starts or dials the server and completes the
// handshake. For stdio servers the process lives as long as ctx.
func Connect(ctx context.Context, desc string, logger *log.Logger) (*Client, error) {
	spec, err := ParseServer(desc)
	if err != nil {
		return nil, err
	}
	return ConnectSpec(ctx, spec, logger)
}

// ConnectSpec is Connect for an already parsed descriptor.
func ConnectSpec(ctx context.Context, spec ServerSpec, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	transport, err := transportBuilder(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	impl := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcpchat", Version: Version}, nil)
	session, err := impl.Connect(hctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", spec.Raw, err)
	}
	return &Client{spec: spec, impl: impl, session: session, logger: logger}, nil
}

// Spec returns the descriptor the client was built from.
func (c *Client) Spec() ServerSpec { return c.spec }

// ListTools fetches the full tool list.
func (c *Client) ListTools(ctx context.Context) ([]llm.ToolDef, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}
	var tools []llm.ToolDef
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		tools = append(tools, toToolDef(tool))
	}
	return tools, nil
}

func toToolDef(tool *mcpsdk.Tool) llm.ToolDef {
	if tool == nil {
		return llm.ToolDef{}
	}
	def := llm.ToolDef{Name: tool.Name, Description: tool.Description}

	// InputSchema is typed `any` in the SDK; normalise it through JSON.
	schema := map[string]interface{}{"type": "object"}
	if tool.InputSchema != nil {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			var m map[string]interface{}
			if json.Unmarshal(raw, &m) == nil && m != nil {
				schema = m
			}
		}
	}
	def.InputSchema = schema
	return def
}

// CallTool invokes name with the raw JSON argument object. Tool-level
// failures reported by the server come back as output with IsError set;
// a returned error means the call itself failed.
func (c *Client) CallTool(ctx context.Context, name string, input json.RawMessage) (*llm.ToolOutput, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}

	args := map[string]interface{}{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("tool arguments for %s are not an object: %w", name, err)
		}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	return toToolOutput(result)
}

func toToolOutput(result *mcpsdk.CallToolResult) (*llm.ToolOutput, error) {
	if result == nil {
		return &llm.ToolOutput{Content: json.RawMessage(`[]`)}, nil
	}
	content := result.Content
	if content == nil {
		content = []mcpsdk.Content{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &llm.ToolOutput{Content: raw, IsError: result.IsError}, nil
}

func (c *Client) current() (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("mcp client for %s is closed", c.spec.Raw)
	}
	return c.session, nil
}

// Close ends the session and, for stdio servers, the process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
