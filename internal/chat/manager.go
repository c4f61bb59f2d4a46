package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/llm"
	"github.com/exedev/mcpchat/internal/registry"
	"github.com/exedev/mcpchat/internal/transcript"
)

// Manager keeps one live Session per chat for long-running front-ends such as
// the web API. Sessions of different chats run concurrently.
type Manager struct {
	ctx      context.Context
	backend  transcript.Backend
	model    llm.Client
	defaults transcript.Settings
	connect  Connector
	opts     Options
	logger   *log.Logger

	mu       sync.Mutex
	sessions map[string]*managed
}

// managed is one chat's entry. ready is closed once the session and its
// servers are set up, or err is set.
type managed struct {
	ready     chan struct{}
	session   *Session
	providers *Providers
	err       error

	// update serializes settings changes of this chat.
	update sync.Mutex
}

// NewManager returns a manager whose tool servers live as long as ctx.
func NewManager(ctx context.Context, backend transcript.Backend, model llm.Client, defaults transcript.Settings, connect Connector, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if connect == nil {
		connect = MCPConnector(opts.Logger)
	}
	return &Manager{
		ctx:      ctx,
		backend:  backend,
		model:    model,
		defaults: defaults,
		connect:  connect,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*managed),
	}
}

// List returns the stored chats.
func (m *Manager) List(ctx context.Context) ([]transcript.Summary, error) {
	return m.backend.List(ctx)
}

// Create starts and persists a new chat. Empty settings fields take the
// manager defaults.
func (m *Manager) Create(ctx context.Context, settings transcript.Settings) (*Session, error) {
	if settings.Model == "" {
		settings.Model = m.defaults.Model
	}
	if settings.SystemPrompt == "" {
		settings.SystemPrompt = m.defaults.SystemPrompt
	}
	if settings.Servers == nil {
		settings.Servers = m.defaults.Servers
	}

	id := uuid.NewString()
	store := transcript.New(m.backend, id, settings, m.logger)
	if err := store.Save(ctx); err != nil {
		return nil, err
	}

	entry := &managed{ready: make(chan struct{})}
	m.mu.Lock()
	m.sessions[id] = entry
	m.mu.Unlock()

	m.start(entry, store)
	return entry.session, nil
}

// Session returns the live session of chat id, loading it on first use.
// It fails with transcript.ErrNotFound for unknown chats. Loading one chat
// does not hold up lookups of the others.
func (m *Manager) Session(ctx context.Context, id string) (*Session, error) {
	entry, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.session, nil
}

// entry returns the ready entry of chat id. The first caller for an id loads
// it outside m.mu; later callers wait for that load.
func (m *Manager) entry(ctx context.Context, id string) (*managed, error) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		entry = &managed{ready: make(chan struct{})}
		m.sessions[id] = entry
	}
	m.mu.Unlock()

	if ok {
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		return entry, nil
	}

	store, err := m.load(ctx, id)
	if err != nil {
		m.mu.Lock()
		if m.sessions[id] == entry {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		entry.err = err
		close(entry.ready)
		return nil, err
	}
	m.start(entry, store)
	return entry, nil
}

func (m *Manager) load(ctx context.Context, id string) (*transcript.Store, error) {
	if _, err := m.backend.Read(ctx, id); err != nil {
		return nil, err
	}
	store, err := transcript.Open(ctx, m.backend, id, m.defaults, m.logger)
	switch {
	case errors.Is(err, apperrors.ErrCorruptTranscript):
		m.logger.Printf("⚠ Chat %s was unreadable and starts over: %v", id, err)
	case err != nil:
		return nil, fmt.Errorf("load chat %s: %w", id, err)
	}
	return store, nil
}

// start connects the chat's servers and marks the entry ready.
func (m *Manager) start(entry *managed, store *transcript.Store) {
	reg := registry.New(m.logger)
	entry.providers = ConnectServers(m.ctx, store.Settings().Servers, reg, m.connect, m.logger)
	entry.session = NewSession(m.model, store, reg, m.opts)
	close(entry.ready)
}

// UpdateSettings patches the settings of chat id and reconnects its tool
// servers when the server list changed. Fields absent from the patch keep
// their stored values.
func (m *Manager) UpdateSettings(ctx context.Context, id string, patch transcript.SettingsPatch) (transcript.Settings, error) {
	entry, err := m.entry(ctx, id)
	if err != nil {
		return transcript.Settings{}, err
	}
	entry.update.Lock()
	defer entry.update.Unlock()

	sess := entry.session
	before := sess.Store().Settings()
	sess.mu.Lock()
	err = sess.store.UpdateSettings(ctx, patch)
	sess.mu.Unlock()
	if err != nil {
		return transcript.Settings{}, err
	}
	after := sess.Store().Settings()
	if slices.Equal(before.Servers, after.Servers) {
		return after, nil
	}

	reg := registry.New(m.logger)
	providers := ConnectServers(m.ctx, after.Servers, reg, m.connect, m.logger)

	m.mu.Lock()
	old := entry.providers
	entry.providers = providers
	m.mu.Unlock()

	sess.mu.Lock()
	sess.registry = reg
	sess.mu.Unlock()
	if err := old.Close(); err != nil {
		m.logger.Printf("⚠ Closing old servers of chat %s: %v", id, err)
	}
	return after, nil
}

// Close disconnects the servers of every live session. Chats still being
// loaded are closed once their servers are up.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	var errs []error
	for id, entry := range sessions {
		<-entry.ready
		if entry.err != nil {
			continue
		}
		m.mu.Lock()
		providers := entry.providers
		m.mu.Unlock()
		if err := providers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
