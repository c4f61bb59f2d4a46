package transcript

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/exedev/mcpchat/internal/errors"
)

func newTestBackend(t *testing.T) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	return b
}

func assertSameMessages(t *testing.T, got, want []Message) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Role != w.Role || !g.Timestamp.Equal(w.Timestamp) {
			t.Errorf("message %d header = (%s %s %v), want (%s %s %v)", i, g.ID, g.Role, g.Timestamp, w.ID, w.Role, w.Timestamp)
		}
		if !reflect.DeepEqual(g.Content, w.Content) {
			t.Errorf("message %d content = %#v, want %#v", i, g.Content, w.Content)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	s := New(b, "chat-1", Settings{Model: "claude-test", SystemPrompt: "be brief", Servers: []string{"npx calc"}}, nil)
	s.Append(UserText("What is 2+3?"))
	s.Append(Message{Role: RoleAssistant, Content: Blocks(
		TextBlock{Text: "Let me add."},
		ToolUseBlock{ID: "t1", Name: "add", Input: json.RawMessage(`{ "a": 2, "b": 3 }`)},
	)})
	s.Append(Message{Role: RoleUser, Content: Blocks(
		ToolResultBlock{ToolUseID: "t1", Content: json.RawMessage(`[{"type":"text","text":"5"}]`)},
	)})
	s.Append(AssistantText("2 + 3 = 5"))
	s.Append(Message{Role: RoleAssistant, Content: Blocks()})

	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Open(ctx, b, "chat-1", Settings{Model: "other"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	assertSameMessages(t, loaded.Messages(), s.Messages())

	if got := loaded.Settings(); !reflect.DeepEqual(got, s.Settings()) {
		t.Errorf("settings = %+v, want %+v", got, s.Settings())
	}
	if loaded.Title() != "What is 2+3?" {
		t.Errorf("title = %q", loaded.Title())
	}

	// Tool input is stored compacted so the second read is byte-identical.
	uses := loaded.Messages()[1].ToolUses()
	if len(uses) != 1 || string(uses[0].Input) != `{"a":2,"b":3}` {
		t.Errorf("unexpected tool input: %+v", uses)
	}
}

func TestAppendStampsMessages(t *testing.T) {
	s := New(newTestBackend(t), "c", Settings{Model: "m"}, nil)
	m := s.Append(UserText("hi"))

	if !strings.HasPrefix(m.ID, "msg-") {
		t.Errorf("id = %q, want msg- prefix", m.ID)
	}
	if m.Timestamp.IsZero() || m.Timestamp.Location().String() != "UTC" {
		t.Errorf("timestamp = %v, want UTC time", m.Timestamp)
	}

	kept := s.Append(Message{ID: "custom", Role: RoleUser, Content: Text("x")})
	if kept.ID != "custom" {
		t.Errorf("existing id replaced: %q", kept.ID)
	}

	// Snapshots are copies.
	msgs := s.Messages()
	msgs[0].Content = Text("mutated")
	if s.Messages()[0].Content.Text != "hi" {
		t.Error("Messages() must return a copy")
	}
}

func TestOpenMissingIsFresh(t *testing.T) {
	s, err := Open(context.Background(), newTestBackend(t), "nope", Settings{Model: "default-model"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 || s.Settings().Model != "default-model" {
		t.Errorf("expected empty session with defaults, got %d msgs %+v", s.Len(), s.Settings())
	}
}

func TestOpenCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"title": "x", "settings": `},
		{"missing model", `{"title":"x","settings":{},"messages":[]}`},
		{"bad role", `{"title":"x","settings":{"model":"m"},"messages":[{"role":"system","content":"hi","timestamp":"2024-01-01T00:00:00Z"}]}`},
		{"null content", `{"title":"x","settings":{"model":"m"},"messages":[{"role":"user","content":null,"timestamp":"2024-01-01T00:00:00Z"}]}`},
		{"unknown block", `{"title":"x","settings":{"model":"m"},"messages":[{"role":"user","content":[{"type":"image"}],"timestamp":"2024-01-01T00:00:00Z"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t)
			if err := os.WriteFile(filepath.Join(b.Dir(), "bad"), []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}

			s, err := Open(context.Background(), b, "bad", Settings{Model: "fallback"}, nil)
			if !stderrors.Is(err, errors.ErrCorruptTranscript) {
				t.Fatalf("err = %v, want ErrCorruptTranscript", err)
			}
			if s == nil || s.Len() != 0 || s.Settings().Model != "fallback" {
				t.Fatal("corrupt chat should still yield an empty session with defaults")
			}
		})
	}
}

func TestPlainStringContentLoads(t *testing.T) {
	data := `{"title":"t","settings":{"model":"m"},"messages":[
		{"id":"msg-1","role":"user","content":"hello","timestamp":"2024-01-01T00:00:00.000Z"},
		{"id":"msg-2","role":"assistant","content":[{"type":"text","text":"hi"}],"timestamp":"2024-01-01T00:00:01.000Z"}
	]}`
	f, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Messages[0].Content.IsBlocks() || f.Messages[0].Content.Text != "hello" {
		t.Errorf("first message should be plain text: %#v", f.Messages[0].Content)
	}
	if !f.Messages[1].Content.IsBlocks() || f.Messages[1].Content.PlainText() != "hi" {
		t.Errorf("second message should be blocks: %#v", f.Messages[1].Content)
	}
}

func TestTitle(t *testing.T) {
	s := New(newTestBackend(t), "c", Settings{Model: "m"}, nil)
	if s.Title() != "New Chat" {
		t.Errorf("empty title = %q", s.Title())
	}

	long := strings.Repeat("é", 80)
	s.Append(AssistantText("greeting"))
	s.Append(UserText(long))
	if got := s.Title(); got != strings.Repeat("é", 50) {
		t.Errorf("title = %q, want first 50 runes", got)
	}

	s.SetTitle("Pinned")
	if s.Title() != "Pinned" {
		t.Errorf("title = %q, want Pinned", s.Title())
	}
}

func strPtr(s string) *string { return &s }

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	s := New(b, "c", Settings{Model: "m1", SystemPrompt: "old"}, nil)

	servers := []string{"a.js"}
	if err := s.UpdateSettings(ctx, SettingsPatch{SystemPrompt: strPtr("new"), Servers: &servers}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	got := s.Settings()
	if got.Model != "m1" || got.SystemPrompt != "new" || len(got.Servers) != 1 {
		t.Errorf("settings = %+v", got)
	}

	loaded, err := Open(ctx, b, "c", Settings{Model: "x"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if loaded.Settings().SystemPrompt != "new" {
		t.Error("settings were not persisted")
	}
}

func TestUpdateSettingsModelOnly(t *testing.T) {
	ctx := context.Background()
	s := New(newTestBackend(t), "c", Settings{Model: "m", SystemPrompt: "be brief", Servers: []string{"calc.js"}}, nil)

	if err := s.UpdateSettings(ctx, SettingsPatch{Model: strPtr("m2")}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	want := Settings{Model: "m2", SystemPrompt: "be brief", Servers: []string{"calc.js"}}
	if got := s.Settings(); !reflect.DeepEqual(got, want) {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
}

func TestSettingsPatchApply(t *testing.T) {
	base := Settings{Model: "m", SystemPrompt: "sys", Servers: []string{"a.js"}}
	empty := []string{}
	tests := []struct {
		name  string
		patch string
		want  Settings
	}{
		{"nothing", `{}`, base},
		{"empty model ignored", `{"model":""}`, base},
		{"clear prompt", `{"systemPrompt":""}`, Settings{Model: "m", Servers: []string{"a.js"}}},
		{"replace servers", `{"servers":["b.js","c.js"]}`, Settings{Model: "m", SystemPrompt: "sys", Servers: []string{"b.js", "c.js"}}},
		{"clear servers", `{"servers":[]}`, Settings{Model: "m", SystemPrompt: "sys", Servers: empty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p SettingsPatch
			if err := json.Unmarshal([]byte(tt.patch), &p); err != nil {
				t.Fatal(err)
			}
			got := p.Apply(base)
			if got.Model != tt.want.Model || got.SystemPrompt != tt.want.SystemPrompt || len(got.Servers) != len(tt.want.Servers) {
				t.Errorf("Apply(%s) = %+v, want %+v", tt.patch, got, tt.want)
			}
			for i := range tt.want.Servers {
				if got.Servers[i] != tt.want.Servers[i] {
					t.Errorf("server %d = %q, want %q", i, got.Servers[i], tt.want.Servers[i])
				}
			}
		})
	}
}

// stallingBackend blocks the first Key call until release is closed.
type stallingBackend struct {
	*FileBackend
	calls   atomic.Int32
	stalled chan struct{}
	release chan struct{}
}

func (b *stallingBackend) Key(id string) string {
	if b.calls.Add(1) == 1 {
		close(b.stalled)
		<-b.release
	}
	return b.FileBackend.Key(id)
}

func TestSaveNeverWritesStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	b := &stallingBackend{
		FileBackend: newTestBackend(t),
		stalled:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	s := New(b, "c", Settings{Model: "m"}, nil)
	s.Append(UserText("first"))

	first := make(chan error, 1)
	go func() { first <- s.Save(ctx) }()
	<-b.stalled

	s.Append(UserText("second"))
	if err := s.Save(ctx); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	close(b.release)
	if err := <-first; err != nil {
		t.Fatalf("first Save: %v", err)
	}

	loaded, err := Open(ctx, b.FileBackend, "c", Settings{Model: "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Errorf("on disk %d messages, in memory %d", loaded.Len(), s.Len())
	}
}

func TestConcurrentSavesSameRecord(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New(b, "shared", Settings{Model: "m"}, nil)
			for j := 0; j < 5; j++ {
				s.Append(UserText("hello"))
			}
			if err := s.Save(ctx); err != nil {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	wg.Wait()

	s, err := Open(ctx, b, "shared", Settings{Model: "x"}, nil)
	if err != nil {
		t.Fatalf("file left unreadable after concurrent saves: %v", err)
	}
	if s.Len() != 5 {
		t.Errorf("expected one complete write of 5 messages, got %d", s.Len())
	}

	entries, _ := os.ReadDir(b.Dir())
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestFileBackendList(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	for _, id := range []string{"a", "b"} {
		s := New(b, id, Settings{Model: "m"}, nil)
		s.Append(UserText("chat " + id))
		if err := s.Save(ctx); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(b.Dir(), "garbage"), []byte("nope"), 0644)

	list, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 chats, got %d: %+v", len(list), list)
	}
	for _, sum := range list {
		if sum.Messages != 1 || !strings.HasPrefix(sum.Title, "chat ") {
			t.Errorf("unexpected summary: %+v", sum)
		}
	}
}

func TestFileBackendRejectsPathIDs(t *testing.T) {
	b := newTestBackend(t)
	for _, id := range []string{"", "..", "../escape", `a\b`} {
		if _, err := b.Read(context.Background(), id); err == nil || stderrors.Is(err, ErrNotFound) {
			t.Errorf("Read(%q) should reject the id, got %v", id, err)
		}
	}
}

func TestFileBackendDeleteChat(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s := New(b, "c1", Settings{Model: "m"}, nil)
	s.Append(UserText("hi"))
	if err := s.Save(ctx); err != nil {
		t.Fatal(err)
	}

	var d Deleter = b
	if err := d.DeleteChat(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := b.Read(ctx, "c1"); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("chat still readable: %v", err)
	}
	if err := d.DeleteChat(ctx, "c1"); !stderrors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
	if err := d.DeleteChat(ctx, "../escape"); err == nil {
		t.Error("expected an invalid id error")
	}
}
