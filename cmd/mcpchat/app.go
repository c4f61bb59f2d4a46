package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// version is set via ldflags at build time.
// e.g. -ldflags "-X main.version=1.2.3"
var version = "dev"

// newApp creates the CLI application with all flags and commands.
func newApp() *cli.Command {
	return &cli.Command{
		Name:        "mcpchat",
		Usage:       "Chat with Claude using tools from MCP servers",
		Version:     version,
		UsageText:   "mcpchat [global options] [command [command options]]",
		Description: "mcpchat connects to MCP servers and lets the model call their tools while you chat",
		// server commands may contain commas
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Claude Desktop config file to read MCP servers from (\"default\" for the platform path)",
			},
			&cli.StringFlag{
				Name:  "settings",
				Usage: "Path to the mcpchat settings file (JSON or YAML)",
			},
			&cli.StringFlag{
				Name:    "prompt",
				Aliases: []string{"p"},
				Usage:   "Send a single prompt, print the answer and exit",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model to chat with",
			},
			&cli.BoolFlag{
				Name:    "agent",
				Aliases: []string{"a"},
				Usage:   "Agent mode (not implemented)",
			},
			&cli.StringFlag{
				Name:    "eval",
				Aliases: []string{"e"},
				Usage:   "Evaluation file to run (not implemented)",
			},
			&cli.StringSliceFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "MCP server to connect to: a command, a .js/.py script or an http(s):// URL (repeatable)",
			},
			&cli.StringFlag{
				Name:  "system",
				Usage: "System prompt",
			},
			&cli.StringFlag{
				Name:  "chat",
				Usage: "Continue a saved chat (id or path to a chat file)",
			},
			&cli.IntFlag{
				Name:  "web",
				Usage: "Serve the web API on this port (0 uses the configured port)",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Plain output (no TUI)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output turn events as JSON lines (mutually exclusive with --quiet and --plain)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Verbose logging",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Print only final answers (mutually exclusive with --json and --plain)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			flagCount := 0
			for _, name := range []string{"quiet", "json", "plain"} {
				if cmd.Bool(name) {
					flagCount++
				}
			}
			if flagCount > 1 {
				return ctx, fmt.Errorf("flags --quiet, --json, and --plain are mutually exclusive")
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:   "chats",
				Usage:  "List saved chats",
				Action: cmdChats,
			},
			{
				Name:      "show",
				Usage:     "Print a saved chat",
				ArgsUsage: "<chat-id>",
				Action:    cmdShow,
			},
			{
				Name:   "config",
				Usage:  "Show current configuration",
				Action: cmdConfig,
			},
		},
		Action: runChat,
	}
}
