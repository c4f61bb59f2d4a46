package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is used when neither the chat nor the flags set one.
const DefaultSystemPrompt = "You are a helpful assistant with access to tools provided by MCP servers. " +
	"Use a tool when it helps answer the user's question, and explain the result in plain language."

type Config struct {
	// Model settings
	Model         string `json:"model" yaml:"model"`
	Provider      string `json:"provider" yaml:"provider"`
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	MaxTokens     int    `json:"max_tokens" yaml:"max_tokens"`
	MaxToolRounds int    `json:"max_tool_rounds" yaml:"max_tool_rounds"`
	MaxRetries    int    `json:"max_retries" yaml:"max_retries"`
	Stream        bool   `json:"stream" yaml:"stream"`

	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// MCP server descriptors started for every new chat
	Servers []string `json:"servers,omitempty" yaml:"servers,omitempty"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
	Web     WebConfig     `json:"web" yaml:"web"`
}

type StorageConfig struct {
	// Backend is "file" (one JSON document per chat) or "sqlite".
	Backend  string `json:"backend" yaml:"backend"`
	ChatsDir string `json:"chats_dir,omitempty" yaml:"chats_dir,omitempty"`
	DBPath   string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type WebConfig struct {
	Port int `json:"port" yaml:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:         "claude-3-5-sonnet-20241022",
		Provider:      "anthropic",
		MaxTokens:     4096,
		MaxToolRounds: 25,
		MaxRetries:    3,
		Stream:        true,
		SystemPrompt:  DefaultSystemPrompt,
		Storage: StorageConfig{
			Backend: "file",
		},
		Web: WebConfig{
			Port: 3000,
		},
	}
}

// HomeDir is the per-user state directory, ~/.mcpchat.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mcpchat")
}

// DefaultPath is where the app settings are read from when no --settings flag
// is given.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.json")
}

// Load reads path on top of the defaults. A missing file yields the defaults.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q (want file or sqlite)", c.Storage.Backend)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	if c.MaxTokens < 0 || c.MaxToolRounds < 0 || c.MaxRetries < 0 {
		return fmt.Errorf("max_tokens, max_tool_rounds and max_retries must not be negative")
	}
	return nil
}

// ChatsDir returns the directory of the file backend.
func (c *Config) ChatsDir() string {
	if c.Storage.ChatsDir != "" {
		return c.Storage.ChatsDir
	}
	return filepath.Join(HomeDir(), "chats")
}

// DBPath returns the database of the sqlite backend.
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(HomeDir(), "mcpchat.db")
}

// Save writes the config without the API key.
func (c *Config) Save(path string) error {
	out := *c
	out.APIKey = ""

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(&out)
	} else {
		data, err = json.MarshalIndent(&out, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// DesktopServer is one entry of the mcpServers map in claude_desktop_config.json.
type DesktopServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

type desktopConfig struct {
	MCPServers map[string]DesktopServer `json:"mcpServers"`
}

// DefaultDesktopConfigPath returns the platform location of the Claude
// Desktop config. Only macOS and Windows have one.
func DefaultDesktopConfigPath() (string, error) {
	return desktopConfigPath(runtime.GOOS)
}

func desktopConfigPath(goos string) (string, error) {
	switch goos {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Claude", "claude_desktop_config.json"), nil
	default:
		return "", fmt.Errorf("unsupported platform: %s", goos)
	}
}

// LoadDesktopServers turns the mcpServers entries of a Claude Desktop config
// into server descriptors ("command arg1 arg2"), sorted by entry name. The
// value "default" selects DefaultDesktopConfigPath.
func LoadDesktopServers(path string) ([]string, error) {
	if path == "default" {
		p, err := DefaultDesktopConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dc desktopConfig
	if err := json.Unmarshal(data, &dc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	names := make([]string, 0, len(dc.MCPServers))
	for name := range dc.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]string, 0, len(names))
	for _, name := range names {
		s := dc.MCPServers[name]
		if s.Command == "" {
			continue
		}
		words := []string{quoteArg(s.Command)}
		for _, a := range s.Args {
			words = append(words, quoteArg(a))
		}
		servers = append(servers, strings.Join(words, " "))
	}
	return servers, nil
}

// quoteArg single-quotes arguments the descriptor parser would otherwise split.
func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`") {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}
