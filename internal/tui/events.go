package tui

// TUI event types, sent from the running turn to the TUI via tea.Program.Send()

// TextMsg is a fragment of assistant text.
type TextMsg struct {
	Text string
}

// ToolCallMsg is when the model starts a tool call.
type ToolCallMsg struct {
	ID   string
	Name string
}

// ToolInputMsg is a fragment of the arguments of the open tool call.
type ToolInputMsg struct {
	Text string
}

// ToolResultMsg is the result of a tool call.
type ToolResultMsg struct {
	Name    string
	Result  string // flattened, may be long
	IsError bool
}

// TurnDoneMsg indicates the turn is complete.
type TurnDoneMsg struct {
	Final string
	Error string
}

// HistoryMsg replays earlier messages of a continued chat.
type HistoryMsg struct {
	Lines []HistoryLine
}

// HistoryLine is one rendered message of a stored chat.
type HistoryLine struct {
	Role string // "user", "assistant", "tool", "result", "error"
	Text string
}

// TickMsg is a periodic timer for updating elapsed times.
type TickMsg struct{}

// LogMsg is a raw log line (fallback for non-structured output).
type LogMsg struct {
	Text string
}
