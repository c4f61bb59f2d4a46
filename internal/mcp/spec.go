package mcp

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"mvdan.cc/sh/v3/shell"
)

// TransportKind is how a server is reached.
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportStreamable TransportKind = "http"
	TransportSSE        TransportKind = "sse"
)

// ServerSpec is a parsed server descriptor.
type ServerSpec struct {
	Raw     string
	Kind    TransportKind
	Command string
	Args    []string
	URL     string
}

// ParseServer interprets a server descriptor:
//
//	http(s)://host/path          streamable HTTP
//	sse://host/path, http+sse:// SSE
//	npx/uvx/docker commands      run as written
//	server.js / server.py        run with node / python3
//	any other multi-word command run as written
func ParseServer(desc string) (ServerSpec, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ServerSpec{}, fmt.Errorf("empty server descriptor")
	}
	spec := ServerSpec{Raw: desc}

	lowered := strings.ToLower(desc)
	switch {
	case strings.HasPrefix(lowered, "sse://"):
		endpoint, err := normalizeHTTPURL("https://" + desc[len("sse://"):])
		if err != nil {
			return ServerSpec{}, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		spec.Kind, spec.URL = TransportSSE, endpoint
		return spec, nil
	case strings.HasPrefix(lowered, "http+sse://"), strings.HasPrefix(lowered, "https+sse://"):
		scheme, rest, _ := strings.Cut(desc, "://")
		base := strings.TrimSuffix(strings.ToLower(scheme), "+sse")
		endpoint, err := normalizeHTTPURL(base + "://" + rest)
		if err != nil {
			return ServerSpec{}, fmt.Errorf("invalid SSE endpoint: %w", err)
		}
		spec.Kind, spec.URL = TransportSSE, endpoint
		return spec, nil
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		endpoint, err := normalizeHTTPURL(desc)
		if err != nil {
			return ServerSpec{}, fmt.Errorf("invalid HTTP endpoint: %w", err)
		}
		spec.Kind, spec.URL = TransportStreamable, endpoint
		return spec, nil
	}

	fields, err := shell.Fields(desc, nil)
	if err != nil {
		return ServerSpec{}, fmt.Errorf("parse server command %q: %w", desc, err)
	}
	if len(fields) == 0 {
		return ServerSpec{}, fmt.Errorf("empty server command")
	}
	spec.Kind = TransportStdio

	if len(fields) > 1 || isLauncher(fields[0]) {
		spec.Command, spec.Args = fields[0], fields[1:]
		return spec, nil
	}

	script := fields[0]
	switch strings.ToLower(filepath.Ext(script)) {
	case ".js", ".mjs", ".cjs":
		spec.Command, spec.Args = "node", []string{script}
	case ".py":
		spec.Command, spec.Args = pythonCommand(), []string{script}
	default:
		return ServerSpec{}, fmt.Errorf("server script must be a .js or .py file: %s", script)
	}
	return spec, nil
}

func isLauncher(word string) bool {
	switch strings.TrimSuffix(filepath.Base(word), ".exe") {
	case "npx", "uvx", "docker":
		return true
	}
	return false
}

func pythonCommand() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// Name is a short label for logs and provider ids.
func (s ServerSpec) Name() string {
	switch s.Kind {
	case TransportStdio:
		for i := len(s.Args) - 1; i >= 0; i-- {
			if a := s.Args[i]; a != "" && !strings.HasPrefix(a, "-") {
				return strings.TrimSuffix(filepath.Base(a), filepath.Ext(a))
			}
		}
		return filepath.Base(s.Command)
	default:
		if u, err := url.Parse(s.URL); err == nil {
			return u.Host
		}
		return s.URL
	}
}

// transportBuilder is overridden in tests to stub the transport factory.
var transportBuilder = buildTransport

func buildTransport(ctx context.Context, spec ServerSpec) (mcpsdk.Transport, error) {
	switch spec.Kind {
	case TransportStdio:
		// #nosec G204 -- server commands come from the user's own settings
		cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		return &mcpsdk.SSEClientTransport{Endpoint: spec.URL}, nil
	case TransportStreamable:
		return &mcpsdk.StreamableClientTransport{Endpoint: spec.URL}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", spec.Kind)
	}
}

func normalizeHTTPURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	parsed.Scheme = scheme
	return parsed.String(), nil
}
