// Package session carries the identity the sync engine acts for. A Context is
// a plain value passed to every engine call; nothing here is process-global.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Context is the signed-in identity: the user scope for local data and the
// bearer credential for the remote. The zero value is an anonymous session.
type Context struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Anonymous is the session used when nobody is signed in.
var Anonymous = Context{}

// CurrentUserID returns the user scope; empty when anonymous.
func (c Context) CurrentUserID() string {
	return c.UserID
}

// CurrentBearer returns the remote credential, if any.
func (c Context) CurrentBearer() (string, bool) {
	tok := strings.TrimSpace(c.Token)
	return tok, tok != ""
}

// Authenticated reports whether remote calls can be made.
func (c Context) Authenticated() bool {
	_, ok := c.CurrentBearer()
	return ok
}

// String never includes the token.
func (c Context) String() string {
	if c.UserID == "" {
		return "anonymous"
	}
	return fmt.Sprintf("user %s", c.UserID)
}

// Store persists the session across restarts.
type Store interface {
	Load(ctx context.Context) (Context, error)
	Save(ctx context.Context, s Context) error
	Clear(ctx context.Context) error
}

// FileStore keeps the session as a JSON file readable only by the owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the persisted session; a missing file is an anonymous session.
func (f *FileStore) Load(_ context.Context) (Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Anonymous, nil
	}
	if err != nil {
		return Anonymous, fmt.Errorf("read session file: %w", err)
	}
	var s Context
	if err := json.Unmarshal(raw, &s); err != nil {
		return Anonymous, fmt.Errorf("decode session file: %w", err)
	}
	return s, nil
}

func (f *FileStore) Save(_ context.Context, s Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear removes the persisted session. Clearing twice is not an error.
func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
