package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/stream"
	"github.com/exedev/mcpchat/internal/transcript"
)

const maxResultLen = 2000

// ChatPrinter renders a conversation in plain and quiet mode. In plain mode
// it streams model text as it arrives, with tool calls in green and results
// in blue. In quiet mode only the final answer of each turn is printed.
type ChatPrinter struct {
	mu      sync.Mutex
	mode    Mode
	w       io.Writer
	midLine bool
}

func NewChatPrinter(mode Mode) *ChatPrinter {
	return NewChatPrinterWithWriter(mode, os.Stdout)
}

// NewChatPrinterWithWriter creates a ChatPrinter with a custom writer (for testing).
func NewChatPrinterWithWriter(mode Mode, w io.Writer) *ChatPrinter {
	return &ChatPrinter{mode: mode, w: w}
}

// Sink returns the callback to pass to a turn.
func (c *ChatPrinter) Sink() stream.Sink {
	return c.Handle
}

// Handle prints one turn event.
func (c *ChatPrinter) Handle(ev stream.Event) {
	if c.mode != ModePlain {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case stream.EventText:
		c.write(ev.Text)
	case stream.EventToolStart:
		c.newline()
		c.write(pterm.Green("[Tool Call] "+ev.Tool) + "\n")
	case stream.EventToolInput:
		c.write(pterm.Green(ev.Text))
	case stream.EventToolResult:
		c.newline()
		c.result(ev.Content, ev.IsError)
	}
}

// EndTurn finishes the output of a turn. In quiet mode it prints the final
// answer; in plain mode it only closes the streamed line.
func (c *ChatPrinter) EndTurn(final string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.mode {
	case ModePlain:
		c.newline()
		fmt.Fprintln(c.w)
	case ModeQuiet:
		fmt.Fprintln(c.w, final)
	}
}

// Message prints a stored message, for replaying a chat.
func (c *ChatPrinter) Message(m transcript.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	label := pterm.Cyan("You: ")
	if m.Role == transcript.RoleAssistant {
		label = pterm.Magenta("Assistant: ")
	}

	if !m.Content.IsBlocks() {
		fmt.Fprintf(c.w, "%s%s\n", label, m.Content.Text)
		return
	}
	if len(m.ToolResults()) == 0 {
		c.write(label)
	}
	for _, b := range m.Content.Blocks {
		switch v := b.(type) {
		case transcript.TextBlock:
			c.write(v.Text)
		case transcript.ToolUseBlock:
			c.newline()
			c.write(pterm.Green("[Tool Call] "+v.Name) + "\n" + pterm.Green(string(v.Input)) + "\n")
		case transcript.ToolResultBlock:
			c.result(v.Content, v.IsError)
		}
	}
	c.newline()
}

func (c *ChatPrinter) result(content json.RawMessage, isError bool) {
	body := truncateResult(llm.ToolContentText(content))
	if !isError {
		c.write(pterm.Blue("Result: "+body) + "\n")
		return
	}
	if !strings.HasPrefix(body, "Error") {
		body = "Error: " + body
	}
	c.write(pterm.Red(body) + "\n")
}

func (c *ChatPrinter) write(s string) {
	if s == "" {
		return
	}
	io.WriteString(c.w, s)
	c.midLine = !strings.HasSuffix(s, "\n")
}

func (c *ChatPrinter) newline() {
	if c.midLine {
		io.WriteString(c.w, "\n")
		c.midLine = false
	}
}

func truncateResult(s string) string {
	if len(s) <= maxResultLen {
		return s
	}
	return s[:maxResultLen] + "... (truncated)"
}
