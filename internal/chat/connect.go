package chat

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/mcp"
	"github.com/exedev/mcpchat/internal/registry"
)

// ToolSource is a connected tool provider. *mcp.Client implements it.
type ToolSource interface {
	registry.Provider
	ListTools(ctx context.Context) ([]llm.ToolDef, error)
	Close() error
}

// Connector dials one server descriptor.
type Connector func(ctx context.Context, desc string) (ToolSource, error)

// MCPConnector connects through the MCP client.
func MCPConnector(logger *log.Logger) Connector {
	return func(ctx context.Context, desc string) (ToolSource, error) {
		c, err := mcp.Connect(ctx, desc, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Providers is the set of connected sources of one session.
type Providers struct {
	sources []ToolSource
}

// Close disconnects every source.
func (p *Providers) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.sources {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.sources = nil
	return errors.Join(errs...)
}

// Len returns the number of connected sources.
func (p *Providers) Len() int {
	if p == nil {
		return 0
	}
	return len(p.sources)
}

type connection struct {
	source ToolSource
	tools  []llm.ToolDef
	err    error
}

// ConnectServers dials all servers concurrently and registers the ones that
// answered, in the order they were given. Servers that fail are logged and
// skipped. Stdio servers live as long as ctx.
func ConnectServers(ctx context.Context, servers []string, reg *registry.Registry, connect Connector, logger *log.Logger) *Providers {
	if logger == nil {
		logger = log.Default()
	}
	if len(servers) == 0 {
		logger.Printf("⚠ No MCP server specified, chatting without tools")
		return &Providers{}
	}

	results := make([]connection, len(servers))
	var g errgroup.Group
	for i, desc := range servers {
		g.Go(func() error {
			src, err := connect(ctx, desc)
			var tools []llm.ToolDef
			if err == nil {
				tools, err = src.ListTools(ctx)
				if err != nil {
					src.Close()
					src = nil
				}
			}
			results[i] = connection{source: src, tools: tools, err: err}
			return nil
		})
	}
	_ = g.Wait()

	p := &Providers{}
	for i, desc := range servers {
		res := results[i]
		if res.err != nil {
			logger.Printf("⚠ Failed to connect to server %s: %v", desc, res.err)
			continue
		}
		reg.Register(desc, res.source, res.tools)
		p.sources = append(p.sources, res.source)
		logger.Printf("✓ Connected to %s (%d tools)", desc, len(res.tools))
	}
	return p
}
