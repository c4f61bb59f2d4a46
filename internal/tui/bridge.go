package tui

import (
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/stream"
	"github.com/exedev/mcpchat/internal/transcript"
)

// Program wraps a Bubble Tea program with helper methods for sending events.
type Program struct {
	program *tea.Program
	submit  chan string
}

// NewProgram creates the chat TUI. Submitted input arrives on Inputs().
func NewProgram(info Info) *Program {
	submit := make(chan string, 1)
	model := New(info, submit)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	return &Program{program: p, submit: submit}
}

// Run starts the TUI (blocking).
func (p *Program) Run() (tea.Model, error) {
	return p.program.Run()
}

// Inputs delivers each message the user submits.
func (p *Program) Inputs() <-chan string {
	return p.submit
}

// Send sends a message to the TUI.
func (p *Program) Send(msg tea.Msg) {
	p.program.Send(msg)
}

// Sink returns a turn sink that forwards events to the TUI.
func (p *Program) Sink() stream.Sink {
	return func(ev stream.Event) {
		if msg := eventMsg(ev); msg != nil {
			p.program.Send(msg)
		}
	}
}

func eventMsg(ev stream.Event) tea.Msg {
	switch ev.Kind {
	case stream.EventText:
		return TextMsg{Text: ev.Text}
	case stream.EventToolStart:
		return ToolCallMsg{ID: ev.ID, Name: ev.Tool}
	case stream.EventToolInput:
		return ToolInputMsg{Text: ev.Text}
	case stream.EventToolResult:
		return ToolResultMsg{Name: ev.Tool, Result: llm.ToolContentText(ev.Content), IsError: ev.IsError}
	}
	return nil
}

// SendTurnDone marks the running turn as finished.
func (p *Program) SendTurnDone(final string, err error) {
	msg := TurnDoneMsg{Final: final}
	if err != nil {
		msg.Error = err.Error()
	}
	p.program.Send(msg)
}

// SendHistory shows the stored messages of a continued chat.
func (p *Program) SendHistory(messages []transcript.Message) {
	p.program.Send(HistoryMsg{Lines: History(messages)})
}

// SendLog sends a raw log line.
func (p *Program) SendLog(text string) {
	p.program.Send(LogMsg{Text: text})
}

// History renders stored messages as chat lines.
func History(messages []transcript.Message) []HistoryLine {
	var lines []HistoryLine
	for _, m := range messages {
		if !m.Content.IsBlocks() {
			lines = append(lines, HistoryLine{Role: string(m.Role), Text: m.Content.Text})
			continue
		}
		for _, b := range m.Content.Blocks {
			switch v := b.(type) {
			case transcript.TextBlock:
				lines = append(lines, HistoryLine{Role: string(m.Role), Text: v.Text})
			case transcript.ToolUseBlock:
				lines = append(lines, HistoryLine{Role: "tool", Text: "[Tool Call] " + v.Name + " " + string(v.Input)})
			case transcript.ToolResultBlock:
				role, prefix := "result", "Result: "
				if v.IsError {
					role, prefix = "error", ""
				}
				lines = append(lines, HistoryLine{Role: role, Text: prefix + summarize(llm.ToolContentText(v.Content))})
			}
		}
	}
	return lines
}

// LogWriter returns an io.Writer that sends each line to the TUI as a LogMsg.
// Use this as the output for log.New() to capture the chat logger output.
func (p *Program) LogWriter() io.Writer {
	return &tuiWriter{p: p}
}

type tuiWriter struct {
	p   *Program
	mu  sync.Mutex
	buf []byte
}

func (w *tuiWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, data...)
	for {
		nl := strings.IndexByte(string(w.buf), '\n')
		if nl == -1 {
			break
		}
		line := string(w.buf[:nl])
		w.buf = w.buf[nl+1:]

		line = stripLogPrefix(line)
		if line == "" || routedBySink(line) {
			continue
		}
		w.p.SendLog(line)
	}
	return len(data), nil
}

// routedBySink reports log lines the sink already shows in the chat.
func routedBySink(line string) bool {
	return strings.HasPrefix(line, "🔧 Tool:") ||
		strings.HasPrefix(line, "✓ Result:") ||
		strings.HasPrefix(line, "⚠ Tool error:")
}

// stripLogPrefix removes the standard log prefix "2026/02/14 20:30:59 "
func stripLogPrefix(line string) string {
	// Standard log format: "2006/01/02 15:04:05 <message>"
	if len(line) > 20 && line[4] == '/' && line[7] == '/' && line[10] == ' ' && line[19] == ' ' {
		return strings.TrimSpace(line[20:])
	}
	// With microseconds: "2006/01/02 15:04:05.000000 <message>"
	if len(line) > 27 && line[4] == '/' && line[7] == '/' && line[19] == '.' {
		return strings.TrimSpace(line[27:])
	}
	// Tagged: "[TEST] 2006/01/02 15:04:05 <message>"
	if strings.HasPrefix(line, "[") {
		if idx := strings.Index(line, "] "); idx != -1 {
			return stripLogPrefix(line[idx+2:])
		}
	}
	return strings.TrimSpace(line)
}
