package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting…"
	}

	w := m.width
	if w < 40 {
		w = 80
	}

	header := m.renderHeader(w)
	chat := chatBorder.Width(w - 2).Render(m.viewport.View())
	input := inputBorder.Width(w - 2).Render(m.input.View())
	sbar := m.renderStatusBar(w)

	return header + "\n" + chat + "\n" + input + "\n" + sbar
}

func (m Model) renderHeader(w int) string {
	title := titleStyle.Render("mcpchat")
	parts := []string{title}
	if m.info.Model != "" {
		parts = append(parts, subtleStyle.Render(m.info.Model))
	}
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d tools", m.info.Tools)))
	if m.info.ChatID != "" {
		parts = append(parts, subtleStyle.Render("chat "+m.info.ChatID))
	}
	line := strings.Join(parts, subtleStyle.Render(" · "))
	return lipgloss.NewStyle().MaxWidth(w).Render(line)
}

func (m Model) renderStatusBar(w int) string {
	var left string
	if m.busy {
		elapsed := time.Since(m.turnStart).Truncate(time.Second)
		left = fmt.Sprintf("⏳ Thinking… %s", elapsed)
	} else {
		left = fmt.Sprintf("✓ Ready · %d turns", m.turns)
	}
	hint := subtleStyle.Render("Enter send · PgUp/PgDn scroll · Ctrl+C quit")

	gap := w - lipgloss.Width(left) - lipgloss.Width(hint) - 2
	if gap < 1 {
		return statusBar.Render(left)
	}
	return statusBar.Render(left) + strings.Repeat(" ", gap) + hint
}

// renderLines renders the transcript for the given width.
func (m Model) renderLines(width int) string {
	if width <= 0 {
		width = 76
	}
	var b strings.Builder
	for i, l := range m.lines {
		if l.kind == "user" && i > 0 {
			b.WriteString("\n")
		}
		text := l.text
		switch l.kind {
		case "user":
			text = "You: " + text
		case "assistant":
			text = "Assistant: " + text
		}
		style := lineStyle(l.kind)
		for _, para := range strings.Split(text, "\n") {
			for _, wrapped := range wrapText(para, width) {
				b.WriteString(style.Render(wrapped))
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// wrapText wraps a string to fit within maxWidth display columns,
// correctly handling emoji and CJK characters.
func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}
	if text == "" {
		return []string{""}
	}

	var lines []string
	for runewidth.StringWidth(text) > maxWidth {
		colW := 0
		byteOff := 0
		for i, r := range text {
			rw := runewidth.RuneWidth(r)
			if colW+rw > maxWidth {
				break
			}
			colW += rw
			byteOff = i + len(string(r))
		}
		if byteOff == 0 {
			// A single rune wider than maxWidth
			byteOff = len(string([]rune(text)[0]))
		}
		cut := byteOff
		if idx := strings.LastIndex(text[:byteOff], " "); idx > byteOff/3 {
			cut = idx
		}
		lines = append(lines, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}
