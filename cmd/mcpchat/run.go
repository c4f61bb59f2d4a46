package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/exedev/mcpchat/internal/chat"
	"github.com/exedev/mcpchat/internal/config"
	apperrors "github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/output"
	"github.com/exedev/mcpchat/internal/registry"
	"github.com/exedev/mcpchat/internal/stream"
	"github.com/exedev/mcpchat/internal/transcript"
	"github.com/exedev/mcpchat/internal/tui"
	"github.com/exedev/mcpchat/internal/web"
)

func runChat(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("agent") {
		return fmt.Errorf("agent mode is not implemented")
	}
	if cmd.String("eval") != "" {
		return fmt.Errorf("evaluation mode is not implemented")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := llm.NewFromConfig(llm.ProviderConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	})
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}

	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	opts := chat.Options{
		MaxToolRounds: cfg.MaxToolRounds,
		MaxRetries:    cfg.MaxRetries,
		MaxTokens:     cfg.MaxTokens,
		Stream:        cfg.Stream,
		Logger:        logger,
		Events:        st.events,
	}
	defaults := transcript.Settings{Model: cfg.Model, SystemPrompt: cfg.SystemPrompt, Servers: cfg.Servers}

	if cmd.IsSet("web") {
		return runWeb(ctx, cmd, cfg, st, model, defaults, opts)
	}

	prompt := cmd.String("prompt")
	mode := output.SelectMode(cmd.Bool("plain"), cmd.Bool("json"), cmd.Bool("quiet"),
		prompt == "", term.IsTerminal(int(os.Stdout.Fd())))
	p := output.NewPrinter(mode, cmd.Bool("verbose"))
	p.Debug("Storage: %s", storageLocation(cfg))

	store, err := openChat(ctx, cmd, st, defaults, p, logger)
	if err != nil {
		return err
	}

	reg := registry.New(logger)
	providers := chat.ConnectServers(ctx, store.Settings().Servers, reg, chat.MCPConnector(logger), logger)
	defer providers.Close()

	sess := chat.NewSession(model, store, reg, opts)
	p.Success("Chat %s with %s, %d tools from %d servers", store.ID(), store.Settings().Model, reg.Len(), providers.Len())
	if prompt == "" {
		p.Tools(reg.List())
	}

	r := &runner{
		session: sess,
		mode:    mode,
		printer: output.NewChatPrinter(mode),
		status:  p,
		logger:  logger,
		verbose: cmd.Bool("verbose"),
	}
	if mode == output.ModeJSON {
		r.json = output.NewJSONWriter(os.Stdout, store.ID())
		r.json.WriteChatStart(store.Settings().Model, map[string]interface{}{
			"tools":    reg.Len(),
			"servers":  providers.Len(),
			"messages": store.Len(),
		})
	}

	switch {
	case prompt != "":
		return r.turn(ctx, prompt)
	case mode == output.ModeTUI:
		return runTUI(ctx, sess, logger)
	default:
		if mode == output.ModePlain {
			for _, m := range store.Messages() {
				r.printer.Message(m)
			}
		}
		return r.loop(ctx, os.Stdin)
	}
}

// openChat loads the --chat transcript or starts a new one. Flags given next
// to --chat override the stored settings.
func openChat(ctx context.Context, cmd *cli.Command, st *storage, defaults transcript.Settings, p *output.Printer, logger *log.Logger) (*transcript.Store, error) {
	ref := cmd.String("chat")
	if ref == "" {
		return transcript.New(st.backend, uuid.NewString(), defaults, logger), nil
	}

	backend, id, err := st.chatRef(ref)
	if err != nil {
		return nil, err
	}
	store, err := transcript.Open(ctx, backend, id, defaults, logger)
	switch {
	case errors.Is(err, apperrors.ErrCorruptTranscript):
		p.Warning("Chat %s could not be read and starts empty: %v", ref, err)
	case err != nil:
		return nil, err
	}

	var patch transcript.SettingsPatch
	if cmd.IsSet("model") {
		patch.Model = &defaults.Model
	}
	if cmd.IsSet("system") {
		patch.SystemPrompt = &defaults.SystemPrompt
	}
	if cmd.IsSet("server") || cmd.IsSet("config") {
		patch.Servers = &defaults.Servers
	}
	if patch != (transcript.SettingsPatch{}) {
		if err := store.UpdateSettings(ctx, patch); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// runner drives turns for the line-based modes (plain, quiet, json).
type runner struct {
	session *chat.Session
	mode    output.Mode
	printer *output.ChatPrinter
	status  *output.Printer
	json    *output.JSONWriter
	logger  *log.Logger
	verbose bool
}

func (r *runner) turn(ctx context.Context, input string) error {
	sink := r.printer.Sink()
	if r.json != nil {
		sink = r.json.Sink()
	}
	if r.verbose {
		sink = debugSink(r.logger, sink)
	}

	res, err := r.session.Turn(ctx, input, sink)
	if err != nil {
		if r.json != nil {
			r.json.WriteError(err)
		}
		return err
	}
	if r.json != nil {
		return r.json.WriteTurnEnd(output.TurnSummary{
			Final:     res.Text(),
			Rounds:    res.Rounds,
			ToolCalls: res.ToolCalls,
			Messages:  len(res.Appended),
		})
	}
	r.printer.EndTurn(res.Text())
	return nil
}

// loop reads one message per line until EOF, "quit" or "exit". Failed turns
// are reported and the loop goes on.
func (r *runner) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if r.mode == output.ModePlain {
			fmt.Fprint(os.Stdout, "You: ")
		}
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if isQuit(line) {
			return nil
		}
		if err := r.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			msg := err.Error()
			var mce *apperrors.ModelCallError
			if errors.As(err, &mce) && mce.Retryable() {
				msg += " (temporary, send the message again to retry)"
			}
			if r.mode == output.ModePlain {
				r.status.Error("%s", msg)
			} else {
				r.logger.Printf("⚠ Turn failed: %s", msg)
			}
		}
	}
}

func isQuit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "quit", "exit":
		return true
	}
	return false
}

func runTUI(ctx context.Context, sess *chat.Session, logger *log.Logger) error {
	store := sess.Store()
	prog := tui.NewProgram(tui.Info{
		Model:  store.Settings().Model,
		ChatID: store.ID(),
		Tools:  sess.Registry().Len(),
	})

	logger.SetOutput(prog.LogWriter())
	defer logger.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if store.Len() > 0 {
			prog.SendHistory(store.Messages())
		}
		for {
			select {
			case <-ctx.Done():
				prog.Send(tea.QuitMsg{})
				return
			case input := <-prog.Inputs():
				res, err := sess.Turn(ctx, input, prog.Sink())
				final := ""
				if err == nil {
					final = res.Text()
				}
				prog.SendTurnDone(final, err)
			}
		}
	}()

	_, err := prog.Run()
	return err
}

func runWeb(ctx context.Context, cmd *cli.Command, cfg *config.Config, st *storage, model llm.Client, defaults transcript.Settings, opts chat.Options) error {
	port := cmd.Int("web")
	if port == 0 {
		port = cfg.Web.Port
	}
	if port == 0 {
		port = web.DefaultPort
	}

	manager := chat.NewManager(ctx, st.backend, model, defaults, chat.MCPConnector(opts.Logger), opts)
	defer manager.Close()

	return web.New(manager, opts.Logger).ListenAndServe(ctx, fmt.Sprintf(":%d", port))
}

// debugSink logs every turn event before passing it on.
func debugSink(logger *log.Logger, next stream.Sink) stream.Sink {
	return func(ev stream.Event) {
		detail := ev.Text
		if ev.Kind == stream.EventToolResult {
			detail = string(ev.Content)
		}
		if len(detail) > 80 {
			detail = detail[:80] + "..."
		}
		logger.Printf("· %s %s %q", ev.Kind, ev.Tool, detail)
		next(ev)
	}
}
