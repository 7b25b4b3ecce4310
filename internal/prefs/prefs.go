// Package prefs persists small UI preferences across restarts.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Theme is the dashboard colour scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme normalizes user input into a Theme.
func ParseTheme(s string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeLight:
		return ThemeLight, nil
	case ThemeDark:
		return ThemeDark, nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

type prefsFile struct {
	Theme Theme `json:"theme"`
}

// Store holds preferences behind a mutex and mirrors them to a JSON file.
// Loading is best-effort: a missing or unreadable file means defaults.
type Store struct {
	mu    sync.RWMutex
	file  string
	theme Theme
}

// NewStore creates a preference store backed by filePath. An empty path
// keeps preferences in memory only.
func NewStore(filePath string) *Store {
	s := &Store{
		file:  filePath,
		theme: ThemeLight,
	}
	if filePath != "" {
		_ = s.Load()
	}
	return s
}

// Theme returns the current theme.
func (s *Store) Theme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// SetTheme stores and persists the theme. The in-memory value changes even
// when the save fails; the error is for the caller's logs.
func (s *Store) SetTheme(t Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = t
	return s.saveLocked()
}

// Load reads preferences from disk. A missing file or an unknown theme value
// leaves the defaults in place.
func (s *Store) Load() error {
	if s.file == "" {
		return nil
	}
	b, err := os.ReadFile(s.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var data prefsFile
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	if data.Theme != ThemeLight && data.Theme != ThemeDark {
		return nil
	}
	s.mu.Lock()
	s.theme = data.Theme
	s.mu.Unlock()
	return nil
}

// saveLocked persists preferences. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	if s.file == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(prefsFile{Theme: s.theme}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.file, b, 0o644)
}
