package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/state"
	"github.com/exedev/mcpchat/internal/transcript"
)

func TestPrinterActiveOnlyInPlainMode(t *testing.T) {
	t.Helper()

	modes := []struct {
		mode   Mode
		name   string
		active bool
	}{
		{ModePlain, "plain", true},
		{ModeTUI, "tui", false},
		{ModeJSON, "json", false},
		{ModeQuiet, "quiet", false},
	}

	for _, m := range modes {
		t.Run(m.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := NewPrinterWithWriter(m.mode, false, &buf)
			p.Info("hello %s", "world")
			hasOutput := buf.Len() > 0
			if hasOutput != m.active {
				t.Errorf("mode=%s: expected active=%v, got output=%v (len=%d)",
					m.name, m.active, hasOutput, buf.Len())
			}
		})
	}
}

func TestPrinterDebugRequiresVerbose(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.Debug("hidden")
	if buf.Len() > 0 {
		t.Error("Debug printed without verbose")
	}

	buf.Reset()
	p2 := NewPrinterWithWriter(ModePlain, true, &buf)
	p2.Debug("shown")
	if buf.Len() == 0 {
		t.Error("Debug did not print with verbose")
	}
}

func TestPrinterTools(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.Tools([]llm.ToolDef{
		{Name: "add", Description: "Add two numbers.\nReturns the sum."},
		{Name: "ping"},
	})
	out := buf.String()
	if !strings.Contains(out, "add: Add two numbers.") || strings.Contains(out, "Returns the sum") {
		t.Errorf("tool lines should carry the first description line:\n%s", out)
	}
	if !strings.Contains(out, "ping") {
		t.Errorf("missing ping:\n%s", out)
	}

	buf.Reset()
	p.Tools(nil)
	if buf.Len() > 0 {
		t.Errorf("no tools should print nothing, got %q", buf.String())
	}
}

func TestPrinterChats(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.Chats([]transcript.Summary{
		{ID: "chat1", Title: "What is 2+3?", Model: "claude-test", Messages: 4, UpdatedAt: time.Now()},
		{ID: "chat2", Title: strings.Repeat("long title ", 10), Model: "claude-test"},
	})
	out := buf.String()
	for _, want := range []string{"chat1", "What is 2+3?", "chat2", "long title long title", "...", "2 chat(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	p.Chats(nil)
	if !strings.Contains(buf.String(), "No chats found") {
		t.Errorf("empty list: %q", buf.String())
	}
}

func TestPrinterChatHeader(t *testing.T) {
	f := &transcript.File{
		Title:    "Sums",
		Settings: transcript.Settings{Model: "claude-test", SystemPrompt: "be brief", Servers: []string{"calc.js", "web.py"}},
		Messages: []transcript.Message{transcript.UserText("hi")},
	}

	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.ChatHeader(f, 3)
	out := buf.String()
	for _, want := range []string{"Sums", "claude-test", "calc.js, web.py", "be brief", "Events:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	p.ChatHeader(f, -1)
	if strings.Contains(buf.String(), "Events:") {
		t.Error("event count shown for a backend without an event log")
	}
}

func TestPrinterEventLog(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModePlain, false, &buf)
	p.EventLog([]state.Event{
		{ID: 1, Type: "turn_start", Data: json.RawMessage(`{"input":"hi"}`), CreatedAt: "2026-01-02T03:04:05Z"},
		{ID: 2, Type: "turn_end"},
	})
	out := buf.String()
	for _, want := range []string{"turn_start", `{"input":"hi"}`, "turn_end"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	p.EventLog(nil)
	if !strings.Contains(buf.String(), "(none)") {
		t.Errorf("empty log: %q", buf.String())
	}
}

func TestPrinterSilentOutsidePlainMode(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterWithWriter(ModeJSON, true, &buf)
	p.Tools([]llm.ToolDef{{Name: "add"}})
	p.Chats(nil)
	p.ChatHeader(&transcript.File{}, 1)
	p.EventLog(nil)
	p.Debug("x")
	if buf.Len() > 0 {
		t.Errorf("json mode printed %q", buf.String())
	}
}
