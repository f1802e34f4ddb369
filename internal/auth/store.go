package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotLoggedIn is returned when no token has been persisted yet.
var ErrNotLoggedIn = errors.New("not logged in")

// Token is the persisted credential blob, the CLI's stand-in for the
// browser's localStorage entry.
type Token struct {
	Bearer  string    `json:"bearer"`
	SavedAt time.Time `json:"savedAt"`
}

// Store reads and writes the token file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved token, or ErrNotLoggedIn when the file is absent.
func (s *Store) Load() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	if tok.Bearer == "" {
		return nil, ErrNotLoggedIn
	}
	return &tok, nil
}

// Save persists the bearer token, creating the parent directory if needed.
func (s *Store) Save(bearer string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	data, err := json.Marshal(Token{Bearer: bearer, SavedAt: time.Now()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Clear logs out. Clearing an absent token is a no-op.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
