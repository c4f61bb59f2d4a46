// Package registry merges the tool listings of several providers into one
// namespace and routes calls to the owning provider.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/llm"
)

// Provider executes tools it has listed.
type Provider interface {
	CallTool(ctx context.Context, name string, input json.RawMessage) (*llm.ToolOutput, error)
}

// Registry is safe for concurrent use.
//
// When two providers list the same tool name, the one registered last owns
// it. The descriptor is replaced in place, so List keeps the position of the
// first registration.
type Registry struct {
	mu        sync.RWMutex
	tools     []llm.ToolDef
	index     map[string]int
	owners    map[string]string
	providers map[string]Provider
	order     []string
	logger    *log.Logger
}

func New(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		index:     make(map[string]int),
		owners:    make(map[string]string),
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds the tools of providerID. Registering the same providerID
// again replaces its Provider and merges the new tools.
func (r *Registry) Register(providerID string, p Provider, tools []llm.ToolDef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[providerID]; !ok {
		r.order = append(r.order, providerID)
	}
	r.providers[providerID] = p

	for _, t := range tools {
		def := copyDef(t)
		if pos, ok := r.index[t.Name]; ok {
			if prev := r.owners[t.Name]; prev != providerID {
				r.logger.Printf("⚠ Tool %q from %s shadows the one from %s", t.Name, providerID, prev)
			}
			r.tools[pos] = def
		} else {
			r.index[t.Name] = len(r.tools)
			r.tools = append(r.tools, def)
		}
		r.owners[t.Name] = providerID
	}
}

func copyDef(t llm.ToolDef) llm.ToolDef {
	out := llm.ToolDef{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		out.InputSchema = make(map[string]interface{}, len(t.InputSchema))
		for k, v := range t.InputSchema {
			out.InputSchema[k] = v
		}
	}
	return out
}

// Resolve returns the id of the provider that owns name.
func (r *Registry) Resolve(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrUnknownTool, name)
	}
	return owner, nil
}

// List returns every tool descriptor in registration order.
func (r *Registry) List() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDef, len(r.tools))
	for i, t := range r.tools {
		out[i] = copyDef(t)
	}
	return out
}

// Providers returns provider ids in registration order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of distinct tool names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Call runs the named tool on its owner. Unknown names fail with
// errors.ErrUnknownTool; provider failures and panics come back as
// *errors.ToolExecutionError.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (out *llm.ToolOutput, err error) {
	providerID, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	p := r.providers[providerID]
	r.mu.RUnlock()

	defer func() {
		if rec := errors.RecoverPanic(recover()); rec.Recovered {
			out = nil
			err = &errors.ToolExecutionError{Tool: name, Err: fmt.Errorf("%s", rec.ErrorMsg)}
		}
	}()

	out, err = p.CallTool(ctx, name, input)
	if err != nil {
		return nil, &errors.ToolExecutionError{Tool: name, Err: err}
	}
	if out == nil {
		out = &llm.ToolOutput{Content: json.RawMessage(`[]`)}
	}
	return out, nil
}
