package transcript

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/exedev/mcpchat/internal/errors"
)

// ErrNotFound is returned by a Backend when a record does not exist.
var ErrNotFound = stderrors.New("chat not found")

const maxTitleRunes = 50

// Settings are the per-chat options persisted with the transcript.
type Settings struct {
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Servers      []string `json:"servers,omitempty"`
}

// File is the persisted representation of one chat.
type File struct {
	Title    string    `json:"title"`
	Settings Settings  `json:"settings"`
	Messages []Message `json:"messages"`
}

// Record is what a Backend stores: the encoded File plus the columns a
// listing needs without decoding it.
type Record struct {
	ID       string
	Title    string
	Model    string
	Messages int
	Data     []byte
}

// Summary describes a stored chat.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	Messages  int       `json:"messageCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Backend persists chat records.
type Backend interface {
	Read(ctx context.Context, id string) ([]byte, error)
	Write(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Summary, error)
	// Key identifies the underlying record across backend instances.
	Key(id string) string
}

// Deleter is implemented by backends that can remove a chat. Deleting an
// unknown chat fails with ErrNotFound.
type Deleter interface {
	DeleteChat(ctx context.Context, id string) error
}

// recordLocks serialises saves to the same record across all stores in the process.
var recordLocks sync.Map

func lockFor(key string) *sync.Mutex {
	mu, _ := recordLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Store is the in-memory transcript of one chat bound to its backend record.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	id       string
	title    string
	settings Settings
	messages []Message
	logger   *log.Logger
}

// New returns an empty store for id with the given settings.
func New(backend Backend, id string, settings Settings, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		backend:  backend,
		id:       id,
		settings: settings,
		messages: []Message{},
		logger:   logger,
	}
}

// Open loads the record id. A missing record yields an empty store with
// defaults. An unreadable record also yields an empty store with defaults,
// together with an error wrapping errors.ErrCorruptTranscript.
func Open(ctx context.Context, backend Backend, id string, defaults Settings, logger *log.Logger) (*Store, error) {
	s := New(backend, id, defaults, logger)

	data, err := backend.Read(ctx, id)
	if stderrors.Is(err, ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chat %s: %w", id, err)
	}

	f, err := Decode(data)
	if err != nil {
		s.logger.Printf("⚠ Chat %s is unreadable, starting fresh: %v", id, err)
		return s, err
	}

	s.title = f.Title
	s.settings = f.Settings
	s.messages = f.Messages
	return s, nil
}

// Decode parses a persisted chat and checks its required fields.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCorruptTranscript, err)
	}
	if f.Settings.Model == "" {
		return nil, fmt.Errorf("%w: settings.model is missing", errors.ErrCorruptTranscript)
	}
	for i, m := range f.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return nil, fmt.Errorf("%w: message %d has role %q", errors.ErrCorruptTranscript, i, m.Role)
		}
	}
	if f.Messages == nil {
		f.Messages = []Message{}
	}
	return &f, nil
}

// ID returns the record id.
func (s *Store) ID() string { return s.id }

// Append adds a message, stamping its id and timestamp. The stored copy is
// returned.
func (s *Store) Append(m Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = NewMessageID()
	}
	m.Timestamp = time.Now().UTC()
	m.Content = m.Content.normalize()
	s.messages = append(s.messages, m)
	return m
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return "msg-" + uuid.NewString()
}

// Messages returns a snapshot of the transcript in append order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Settings returns the current settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.settings
	out.Servers = append([]string(nil), s.settings.Servers...)
	return out
}

// Title returns the chat title, deriving it from the first user message when
// none has been set.
func (s *Store) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titleLocked()
}

func (s *Store) titleLocked() string {
	if s.title != "" {
		return s.title
	}
	for _, m := range s.messages {
		if m.Role != RoleUser {
			continue
		}
		text := m.Content.PlainText()
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) > maxTitleRunes {
			text = string([]rune(text)[:maxTitleRunes])
		}
		return text
	}
	return "New Chat"
}

// SetTitle overrides the derived title.
func (s *Store) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
}

// SettingsPatch is a partial settings update. Nil fields keep their current
// value; an empty Servers slice clears the server list.
type SettingsPatch struct {
	Model        *string   `json:"model,omitempty"`
	SystemPrompt *string   `json:"systemPrompt,omitempty"`
	Servers      *[]string `json:"servers,omitempty"`
}

// Apply returns s with the supplied fields replaced. An empty model is
// ignored.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.Model != nil && *p.Model != "" {
		s.Model = *p.Model
	}
	if p.SystemPrompt != nil {
		s.SystemPrompt = *p.SystemPrompt
	}
	if p.Servers != nil {
		s.Servers = append([]string(nil), (*p.Servers)...)
	}
	return s
}

// UpdateSettings applies patch to the settings and persists them.
func (s *Store) UpdateSettings(ctx context.Context, patch SettingsPatch) error {
	s.mu.Lock()
	s.settings = patch.Apply(s.settings)
	s.mu.Unlock()
	return s.Save(ctx)
}

// Snapshot returns the complete persisted form of the chat.
func (s *Store) Snapshot() File {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return File{Title: s.titleLocked(), Settings: s.settings, Messages: msgs}
}

// Save writes the complete chat in one backend write. The snapshot is taken
// under the record lock so a later save never loses to an earlier one.
func (s *Store) Save(ctx context.Context) error {
	mu := lockFor(s.backend.Key(s.id))
	mu.Lock()
	defer mu.Unlock()

	f := s.Snapshot()
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chat %s: %w", s.id, err)
	}

	rec := Record{
		ID:       s.id,
		Title:    f.Title,
		Model:    f.Settings.Model,
		Messages: len(f.Messages),
		Data:     data,
	}
	if err := s.backend.Write(ctx, rec); err != nil {
		return fmt.Errorf("save chat %s: %w", s.id, err)
	}
	return nil
}
