package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/llm"
)

type fakeProvider struct {
	name  string
	calls []string
	err   error
	panic bool
}

func (f *fakeProvider) CallTool(_ context.Context, name string, input json.RawMessage) (*llm.ToolOutput, error) {
	f.calls = append(f.calls, name)
	if f.panic {
		panic("provider crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	out, _ := json.Marshal(f.name + ":" + name + ":" + string(input))
	return &llm.ToolOutput{Content: out}, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func defs(names ...string) []llm.ToolDef {
	out := make([]llm.ToolDef, len(names))
	for i, n := range names {
		out[i] = llm.ToolDef{Name: n, Description: n + " tool", InputSchema: map[string]interface{}{"type": "object"}}
	}
	return out
}

func names(tools []llm.ToolDef) string {
	s := make([]string, len(tools))
	for i, t := range tools {
		s[i] = t.Name
	}
	return strings.Join(s, ",")
}

func TestRegisterAndList(t *testing.T) {
	r := New(quietLogger())
	r.Register("calc", &fakeProvider{name: "calc"}, defs("add", "sub"))
	r.Register("files", &fakeProvider{name: "files"}, defs("read"))

	if got := names(r.List()); got != "add,sub,read" {
		t.Errorf("List() = %s, want registration order", got)
	}
	if got := strings.Join(r.Providers(), ","); got != "calc,files" {
		t.Errorf("Providers() = %s", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d", r.Len())
	}
}

func TestCollisionLastRegisteredWins(t *testing.T) {
	var buf strings.Builder
	r := New(log.New(&buf, "", 0))
	a := &fakeProvider{name: "A"}
	b := &fakeProvider{name: "B"}

	r.Register("A", a, []llm.ToolDef{{Name: "search", Description: "from A"}, {Name: "fetch"}})
	r.Register("B", b, []llm.ToolDef{{Name: "lookup"}, {Name: "search", Description: "from B"}})

	owner, err := r.Resolve("search")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if owner != "B" {
		t.Errorf("search owner = %s, want B", owner)
	}

	list := r.List()
	if got := names(list); got != "search,fetch,lookup" {
		t.Errorf("List() = %s, want first position kept", got)
	}
	if list[0].Description != "from B" {
		t.Errorf("descriptor = %q, want the owner's", list[0].Description)
	}

	out, err := r.Call(context.Background(), "search", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(string(out.Content), "B:search") {
		t.Errorf("call routed to wrong provider: %s", out.Content)
	}
	if len(a.calls) != 0 {
		t.Errorf("shadowed provider was called: %v", a.calls)
	}
	if !strings.Contains(buf.String(), `"search"`) {
		t.Errorf("expected a collision warning, log was %q", buf.String())
	}
}

func TestResolveUnknown(t *testing.T) {
	r := New(quietLogger())
	_, err := r.Resolve("nope")
	if !stderrors.Is(err, errors.ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
	if _, err := r.Call(context.Background(), "nope", nil); !stderrors.Is(err, errors.ErrUnknownTool) {
		t.Errorf("Call err = %v, want ErrUnknownTool", err)
	}
}

func TestCallProviderError(t *testing.T) {
	r := New(quietLogger())
	base := stderrors.New("connection closed")
	r.Register("p", &fakeProvider{err: base}, defs("x"))

	_, err := r.Call(context.Background(), "x", nil)
	var te *errors.ToolExecutionError
	if !stderrors.As(err, &te) {
		t.Fatalf("err = %v, want ToolExecutionError", err)
	}
	if te.Tool != "x" || !stderrors.Is(err, base) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCallRecoversPanic(t *testing.T) {
	r := New(quietLogger())
	r.Register("p", &fakeProvider{panic: true}, defs("boom"))

	out, err := r.Call(context.Background(), "boom", nil)
	if out != nil {
		t.Errorf("expected no output, got %+v", out)
	}
	var te *errors.ToolExecutionError
	if !stderrors.As(err, &te) || !strings.Contains(err.Error(), "panic: provider crashed") {
		t.Errorf("err = %v, want recovered ToolExecutionError", err)
	}
}

func TestListReturnsCopies(t *testing.T) {
	r := New(quietLogger())
	r.Register("p", &fakeProvider{}, defs("x"))

	list := r.List()
	list[0].InputSchema["type"] = "mutated"
	list[0].Name = "y"

	if r.List()[0].Name != "x" || r.List()[0].InputSchema["type"] != "object" {
		t.Error("List() must not expose registry state")
	}
}

func TestReRegisterSameProvider(t *testing.T) {
	r := New(quietLogger())
	r.Register("p", &fakeProvider{name: "v1"}, defs("x"))
	r.Register("p", &fakeProvider{name: "v2"}, defs("x", "y"))

	if got := names(r.List()); got != "x,y" {
		t.Errorf("List() = %s", got)
	}
	if len(r.Providers()) != 1 {
		t.Errorf("Providers() = %v", r.Providers())
	}
	out, _ := r.Call(context.Background(), "x", json.RawMessage(`{}`))
	if !strings.Contains(string(out.Content), "v2") {
		t.Errorf("expected replaced provider, got %s", out.Content)
	}
}
