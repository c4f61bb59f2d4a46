package output

// Mode represents the output mode.
type Mode int

const (
	// ModeTUI is the interactive terminal UI mode.
	ModeTUI Mode = iota
	// ModePlain is the plain text mode.
	ModePlain
	// ModeJSON writes one JSON event per line.
	ModeJSON
	// ModeQuiet prints only final answers.
	ModeQuiet
)

func (m Mode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// SelectMode picks the mode from the CLI flags. The TUI needs a terminal
// and an interactive session.
func SelectMode(plain, jsonOut, quiet, interactive, tty bool) Mode {
	switch {
	case jsonOut:
		return ModeJSON
	case quiet:
		return ModeQuiet
	case plain || !interactive || !tty:
		return ModePlain
	default:
		return ModeTUI
	}
}
