package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/exedev/mcpchat/internal/chat"
	"github.com/exedev/mcpchat/internal/config"
	"github.com/exedev/mcpchat/internal/output"
	"github.com/exedev/mcpchat/internal/state"
	"github.com/exedev/mcpchat/internal/transcript"
)

// loadConfig reads the settings file and applies the flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("settings")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if m := cmd.String("model"); m != "" {
		cfg.Model = m
	}
	if s := cmd.String("system"); s != "" {
		cfg.SystemPrompt = s
	}

	var servers []string
	if desktop := cmd.String("config"); desktop != "" {
		fromDesktop, err := config.LoadDesktopServers(desktop)
		if err != nil {
			return nil, err
		}
		servers = append(servers, fromDesktop...)
	}
	servers = append(servers, cmd.StringSlice("server")...)
	if len(servers) > 0 {
		cfg.Servers = servers
	}
	return cfg, nil
}

// newLogger returns the chat logger for the selected output mode.
func newLogger(cmd *cli.Command) *log.Logger {
	if cmd.Bool("quiet") {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// storage is the opened chat backend plus the event log when the backend
// keeps one.
type storage struct {
	backend transcript.Backend
	events  chat.EventLog
	db      *state.DB // nil for the file backend
	close   func() error
}

func openStorage(cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := state.OpenDB(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &storage{backend: db, events: db, db: db, close: db.Close}, nil
	default:
		fb, err := transcript.NewFileBackend(cfg.ChatsDir())
		if err != nil {
			return nil, err
		}
		return &storage{backend: fb, close: func() error { return nil }}, nil
	}
}

// chatRef resolves --chat. A value that looks like a path selects a chat file
// anywhere on disk; anything else is an id in the configured storage.
func (st *storage) chatRef(ref string) (transcript.Backend, string, error) {
	if _, ok := st.backend.(*transcript.FileBackend); !ok || !strings.ContainsAny(ref, `/\`) {
		return st.backend, ref, nil
	}
	fb, err := transcript.NewFileBackend(filepath.Dir(ref))
	if err != nil {
		return nil, "", err
	}
	return fb, filepath.Base(ref), nil
}

func cmdChats(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	chats, err := st.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(cmd.Root().Writer)
		enc.SetIndent("", "  ")
		if chats == nil {
			chats = []transcript.Summary{}
		}
		return enc.Encode(chats)
	}

	output.NewPrinterWithWriter(output.ModePlain, false, cmd.Root().Writer).Chats(chats)
	return nil
}

func cmdShow(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.Args().First()
	if ref == "" {
		return fmt.Errorf("chat ID required: mcpchat show <chat-id>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	backend, id, err := st.chatRef(ref)
	if err != nil {
		return err
	}
	data, err := backend.Read(ctx, id)
	if err != nil {
		return fmt.Errorf("read chat %s: %w", ref, err)
	}
	f, err := transcript.Decode(data)
	if err != nil {
		return err
	}

	var events []state.Event
	count := -1
	if st.db != nil && backend == st.backend {
		if count, err = st.db.EventCount(ctx, id); err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		if cmd.Bool("events") {
			if events, err = st.db.Events(ctx, id); err != nil {
				return fmt.Errorf("read events: %w", err)
			}
		}
	} else if cmd.Bool("events") {
		return fmt.Errorf("chat %s has no event log: events are kept by the sqlite backend", ref)
	}

	w := cmd.Root().Writer
	if cmd.Bool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if cmd.Bool("events") {
			if events == nil {
				events = []state.Event{}
			}
			return enc.Encode(struct {
				*transcript.File
				Events []state.Event `json:"events"`
			}{f, events})
		}
		return enc.Encode(f)
	}

	p := output.NewPrinterWithWriter(output.ModePlain, false, w)
	p.ChatHeader(f, count)
	printer := output.NewChatPrinterWithWriter(output.ModePlain, w)
	for _, m := range f.Messages {
		printer.Message(m)
	}
	if cmd.Bool("events") {
		p.EventLog(events)
	}
	return nil
}

func cmdDelete(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.Args().First()
	if ref == "" {
		return fmt.Errorf("chat ID required: mcpchat delete <chat-id>")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	backend, id, err := st.chatRef(ref)
	if err != nil {
		return err
	}
	d, ok := backend.(transcript.Deleter)
	if !ok {
		return fmt.Errorf("storage cannot delete chats")
	}
	if err := d.DeleteChat(ctx, id); err != nil {
		return fmt.Errorf("delete chat %s: %w", ref, err)
	}
	output.NewPrinterWithWriter(output.ModePlain, false, cmd.Root().Writer).Success("Deleted chat %s", ref)
	return nil
}

func cmdConfig(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	path := cmd.String("settings")
	if path == "" {
		path = config.DefaultPath()
	}
	fmt.Fprintf(w, "Configuration (%s):\n", path)
	fmt.Fprintf(w, "  Model:           %s (%s)\n", cfg.Model, cfg.Provider)
	fmt.Fprintf(w, "  API Key:         %s\n", maskKey(cfg.APIKey))
	fmt.Fprintf(w, "  Max Tokens:      %d\n", cfg.MaxTokens)
	fmt.Fprintf(w, "  Max Tool Rounds: %d\n", cfg.MaxToolRounds)
	fmt.Fprintf(w, "  Max Retries:     %d\n", cfg.MaxRetries)
	fmt.Fprintf(w, "  Streaming:       %v\n", cfg.Stream)
	fmt.Fprintf(w, "  Storage:         %s\n", storageLocation(cfg))
	fmt.Fprintf(w, "  Web Port:        %d\n", cfg.Web.Port)
	fmt.Fprintf(w, "  Servers:\n")
	if len(cfg.Servers) == 0 {
		fmt.Fprintf(w, "    (none)\n")
	}
	for _, s := range cfg.Servers {
		fmt.Fprintf(w, "    - %s\n", s)
	}
	return nil
}

func storageLocation(cfg *config.Config) string {
	if cfg.Storage.Backend == "sqlite" {
		return "sqlite " + cfg.DBPath()
	}
	return "files in " + cfg.ChatsDir()
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
