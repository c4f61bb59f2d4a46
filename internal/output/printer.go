package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/pterm/pterm"

	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/state"
	"github.com/exedev/mcpchat/internal/transcript"
)

// Printer renders status lines, tool lists and stored chats. Everything it
// prints goes to the user, so all methods are no-ops outside plain mode.
type Printer struct {
	mode    Mode
	verbose bool
	writer  io.Writer
}

// NewPrinter creates a Printer for the given output mode.
func NewPrinter(mode Mode, verbose bool) *Printer {
	return NewPrinterWithWriter(mode, verbose, os.Stdout)
}

// NewPrinterWithWriter creates a Printer with a custom writer (for testing).
func NewPrinterWithWriter(mode Mode, verbose bool, w io.Writer) *Printer {
	return &Printer{
		mode:    mode,
		verbose: verbose,
		writer:  w,
	}
}

func (p *Printer) active() bool {
	return p.mode == ModePlain
}

// Info prints an informational message.
func (p *Printer) Info(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Info.WithWriter(p.writer).Printfln(format, args...)
}

// Success prints a success message.
func (p *Printer) Success(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Success.WithWriter(p.writer).Printfln(format, args...)
}

// Warning prints a warning message.
func (p *Printer) Warning(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Warning.WithWriter(p.writer).Printfln(format, args...)
}

// Error prints an error message.
func (p *Printer) Error(format string, args ...interface{}) {
	if !p.active() {
		return
	}
	pterm.Error.WithWriter(p.writer).Printfln(format, args...)
}

// Debug prints a debug message (only if verbose).
func (p *Printer) Debug(format string, args ...interface{}) {
	if !p.active() || !p.verbose {
		return
	}
	dbg := &pterm.PrefixPrinter{
		Prefix: pterm.Prefix{
			Text:  " DEBUG ",
			Style: pterm.NewStyle(pterm.BgGray, pterm.FgWhite),
		},
		Writer: p.writer,
	}
	dbg.Printfln(format, args...)
}

// Tools lists the tools the model can call, one line each with the first
// line of the description.
func (p *Printer) Tools(tools []llm.ToolDef) {
	if !p.active() || len(tools) == 0 {
		return
	}
	pterm.DefaultSection.WithWriter(p.writer).Println("Tools")
	items := make([]pterm.BulletListItem, 0, len(tools))
	for _, t := range tools {
		items = append(items, pterm.BulletListItem{Text: toolLine(t), Bullet: "🔧"})
	}
	pterm.DefaultBulletList.
		WithWriter(p.writer).
		WithItems(items).
		Render() //nolint:errcheck
}

func toolLine(t llm.ToolDef) string {
	if t.Description == "" {
		return t.Name
	}
	desc, _, _ := strings.Cut(t.Description, "\n")
	return t.Name + ": " + desc
}

// Chats prints the stored chats as a table.
func (p *Printer) Chats(chats []transcript.Summary) {
	if !p.active() {
		return
	}
	if len(chats) == 0 {
		p.Info("No chats found. Run 'mcpchat' to start one.")
		return
	}
	p.header("Chats")
	data := pterm.TableData{{"Chat", "Title", "Model", "Msgs", "Updated"}}
	for _, c := range chats {
		data = append(data, []string{
			c.ID,
			truncate(c.Title, 40),
			c.Model,
			fmt.Sprintf("%d", c.Messages),
			c.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	p.table(data)
	fmt.Fprintf(p.writer, "\n%d chat(s)\n", len(chats))
}

// ChatHeader prints the title and settings of a stored chat. events is the
// size of its event log, or negative when the backend keeps none.
func (p *Printer) ChatHeader(f *transcript.File, events int) {
	if !p.active() {
		return
	}
	p.header(f.Title)
	pairs := [][2]string{
		{"Model", f.Settings.Model},
		{"Servers", strings.Join(f.Settings.Servers, ", ")},
		{"Messages", fmt.Sprintf("%d", len(f.Messages))},
	}
	if f.Settings.SystemPrompt != "" {
		pairs = append(pairs, [2]string{"System", truncate(f.Settings.SystemPrompt, 60)})
	}
	if events >= 0 {
		pairs = append(pairs, [2]string{"Events", fmt.Sprintf("%d", events)})
	}
	for _, kv := range pairs {
		fmt.Fprintf(p.writer, "  %s  %s\n", pterm.LightCyan(kv[0]+":"), kv[1])
	}
	fmt.Fprintln(p.writer, pterm.Gray(strings.Repeat("─", 50)))
}

// EventLog prints a chat's logged turn milestones in order.
func (p *Printer) EventLog(events []state.Event) {
	if !p.active() {
		return
	}
	pterm.DefaultSection.WithWriter(p.writer).Println("Events")
	if len(events) == 0 {
		fmt.Fprintln(p.writer, "  (none)")
		return
	}
	data := pterm.TableData{{"#", "Type", "Time", "Data"}}
	for _, e := range events {
		data = append(data, []string{
			fmt.Sprintf("%d", e.ID),
			e.Type,
			e.CreatedAt,
			truncate(string(e.Data), 60),
		})
	}
	p.table(data)
}

func (p *Printer) header(text string) {
	pterm.DefaultHeader.
		WithWriter(p.writer).
		WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
		WithTextStyle(pterm.NewStyle(pterm.FgBlack, pterm.Bold)).
		Println(text)
}

func (p *Printer) table(data pterm.TableData) {
	pterm.DefaultTable.
		WithWriter(p.writer).
		WithHasHeader().
		WithData(data).
		Render() //nolint:errcheck
}

// truncate cuts s to n display columns.
func truncate(s string, n int) string {
	return runewidth.Truncate(s, n, "...")
}
