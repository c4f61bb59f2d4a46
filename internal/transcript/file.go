package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileBackend stores one JSON file per chat in a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a backend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chats dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &FileBackend{dir: abs}, nil
}

// DefaultChatsDir returns ~/.mcpchat/chats.
func DefaultChatsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mcpchat", "chats"), nil
}

// Dir returns the backend directory.
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid chat id %q", id)
	}
	return filepath.Join(b.dir, id), nil
}

func (b *FileBackend) Key(id string) string {
	return "file:" + filepath.Join(b.dir, id)
}

func (b *FileBackend) Read(_ context.Context, id string) ([]byte, error) {
	p, err := b.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// Write replaces the chat file atomically (temp file + rename).
func (b *FileBackend) Write(_ context.Context, rec Record) error {
	p, err := b.path(rec.ID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, "."+rec.ID+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(rec.Data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// DeleteChat removes the chat file.
func (b *FileBackend) DeleteChat(_ context.Context, id string) error {
	p, err := b.path(id)
	if err != nil {
		return err
	}
	mu := lockFor(b.Key(id))
	mu.Lock()
	defer mu.Unlock()
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// List returns the chats in the directory, newest first. Files that do not
// parse are skipped.
func (b *FileBackend) List(_ context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, e.Name()))
		if err != nil {
			continue
		}
		f, err := Decode(data)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		title := f.Title
		if title == "" {
			title = e.Name()
		}
		out = append(out, Summary{
			ID:        e.Name(),
			Title:     title,
			Model:     f.Settings.Model,
			Messages:  len(f.Messages),
			UpdatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
