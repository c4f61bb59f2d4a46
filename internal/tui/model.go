package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxChatLines   = 2000
	maxResultLines = 8
	inputHeight    = 3
	tickInterval   = time.Second
)

// Info is the header content: what the chat is talking to.
type Info struct {
	Model  string
	ChatID string
	Tools  int
}

type chatLine struct {
	kind string // "user", "assistant", "tool", "result", "error", "info"
	text string
}

// Model is the Bubble Tea model for the chat TUI.
type Model struct {
	info  Info
	lines []chatLine

	// open is the kind of the last line while it still receives fragments
	// ("assistant" or "tool"), empty otherwise.
	open string

	busy      bool
	turnStart time.Time
	turns     int

	width    int
	height   int
	ready    bool
	viewport viewport.Model
	input    textarea.Model

	submitCh chan<- string
	quitting bool
}

// New creates a chat model. Submitted input is delivered on submitCh.
func New(info Info, submitCh chan<- string) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask something… (Enter to send, quit to leave)"
	ta.ShowLineNumbers = false
	ta.Prompt = "› "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	return Model{
		info:     info,
		lines:    []chatLine{},
		viewport: viewport.New(80, 10),
		input:    ta,
		submitCh: submitCh,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tickCmd(), tea.WindowSize())
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh(true)
		return m, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()

	case TextMsg:
		if m.open != "assistant" {
			m.addLine("assistant", "")
			m.open = "assistant"
		}
		m.lines[len(m.lines)-1].text += msg.Text
		m.refresh(false)
		return m, nil

	case ToolCallMsg:
		m.addLine("tool", "[Tool Call] "+msg.Name+" ")
		m.open = "tool"
		m.refresh(false)
		return m, nil

	case ToolInputMsg:
		if m.open == "tool" {
			m.lines[len(m.lines)-1].text += msg.Text
			m.refresh(false)
		}
		return m, nil

	case ToolResultMsg:
		m.open = ""
		kind := "result"
		prefix := "Result: "
		if msg.IsError {
			kind = "error"
			prefix = ""
		}
		m.addLine(kind, prefix+summarize(strings.TrimSpace(msg.Result)))
		m.refresh(false)
		return m, nil

	case TurnDoneMsg:
		m.open = ""
		m.busy = false
		m.turns++
		if msg.Error != "" {
			m.addLine("error", "❌ "+msg.Error)
		}
		m.refresh(false)
		return m, nil

	case HistoryMsg:
		for _, l := range msg.Lines {
			m.addLine(l.Role, l.Text)
		}
		m.open = ""
		m.refresh(true)
		return m, nil

	case LogMsg:
		m.open = ""
		m.addLine("info", msg.Text)
		m.refresh(false)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	switch strings.ToLower(text) {
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit
	}

	m.input.Reset()
	m.open = ""
	m.addLine("user", text)
	m.busy = true
	m.turnStart = time.Now()
	m.refresh(true)

	ch := m.submitCh
	return m, func() tea.Msg {
		if ch != nil {
			ch <- text
		}
		return nil
	}
}

// resize lays out the panels: header, chat, input box, status bar.
func (m *Model) resize() {
	w := m.width
	if w < 40 {
		w = 80
	}
	h := m.height
	if h < 12 {
		h = 24
	}
	innerW := w - 4 // border and padding
	chatH := h - 1 - 2 - (inputHeight + 2) - 1
	if chatH < 3 {
		chatH = 3
	}
	m.viewport.Width = innerW
	m.viewport.Height = chatH
	m.input.SetWidth(innerW)
	m.ready = true
}

// refresh re-renders the transcript into the viewport. It keeps following
// the bottom unless the user scrolled up.
func (m *Model) refresh(force bool) {
	follow := force || m.viewport.AtBottom()
	m.viewport.SetContent(m.renderLines(m.viewport.Width))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) addLine(kind, text string) {
	m.lines = append(m.lines, chatLine{kind: kind, text: text})
	if len(m.lines) > maxChatLines {
		m.lines = m.lines[len(m.lines)-maxChatLines:]
	}
}

// summarize keeps long tool results to a few lines.
func summarize(result string) string {
	lines := strings.Split(result, "\n")
	if len(lines) <= maxResultLines {
		return result
	}
	head := strings.Join(lines[:maxResultLines-2], "\n")
	return head + fmt.Sprintf("\n... (%d more lines)", len(lines)-(maxResultLines-2))
}
