package protocol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const credsFileName = "creds.json"

// AuthState is opaque persisted authentication material handed to Dial.
// The gateway initializes it once per connection and never inspects it.
type AuthState struct {
	Dir   string
	Creds []byte
}

// AuthStore loads, saves, and discards persisted authentication material.
type AuthStore interface {
	Load(ctx context.Context) (AuthState, error)
	Save(ctx context.Context, creds []byte) error
	Clear(ctx context.Context) error
}

// DirAuthStore is a directory-backed AuthStore. Credential material is kept
// as a single opaque blob under the directory.
type DirAuthStore struct {
	dir string
}

// NewDirAuthStore creates a DirAuthStore rooted at dir.
func NewDirAuthStore(dir string) (*DirAuthStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve auth dir: %w", err)
	}
	return &DirAuthStore{dir: abs}, nil
}

// Load ensures the directory exists and returns whatever credential blob is
// currently persisted. An absent blob is not an error: the driver treats it
// as an unregistered session.
func (s *DirAuthStore) Load(_ context.Context) (AuthState, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return AuthState{}, fmt.Errorf("create auth dir: %w", err)
	}
	creds, err := os.ReadFile(filepath.Join(s.dir, credsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return AuthState{Dir: s.dir}, nil
		}
		return AuthState{}, fmt.Errorf("read credentials: %w", err)
	}
	return AuthState{Dir: s.dir, Creds: creds}, nil
}

// Save persists an updated credential blob.
func (s *DirAuthStore) Save(_ context.Context, creds []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, credsFileName), creds, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear discards all persisted authentication material.
func (s *DirAuthStore) Clear(_ context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove auth dir: %w", err)
	}
	return nil
}
