package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#7C6CF2")
	colorDimGray = lipgloss.Color("#555555")
	colorGreen   = lipgloss.Color("#50C878")
	colorRed     = lipgloss.Color("#FF6B6B")
	colorBlue    = lipgloss.Color("#5B9BD5")
	colorCyan    = lipgloss.Color("#88C0D0")
	colorWhite   = lipgloss.Color("#E6E6E6")
	colorSubtle  = lipgloss.Color("#888888")
)

var (
	chatBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	inputBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 1)

	statusBar = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	subtleStyle = lipgloss.NewStyle().
			Foreground(colorSubtle)

	userStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	toolCallStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	toolResultStyle = lipgloss.NewStyle().
			Foreground(colorBlue)

	logStyle = lipgloss.NewStyle().
			Foreground(colorDimGray)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	lineStyles = map[string]lipgloss.Style{
		"user":      userStyle,
		"assistant": assistantStyle,
		"tool":      toolCallStyle,
		"result":    toolResultStyle,
		"error":     errorStyle,
		"info":      logStyle,
	}
)

func lineStyle(kind string) lipgloss.Style {
	if style, ok := lineStyles[kind]; ok {
		return style
	}
	return subtleStyle
}
