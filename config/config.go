package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const fileName = "config.json"

// Settings is the persisted configuration. The JSON keys are stable; the
// file may be edited by hand.
type Settings struct {
	GeminiAPIKey string `json:"gemini_api_key"`
	SearchRoot   string `json:"search_root,omitempty"`
}

// Store reads and writes the configuration file. A missing file is not an
// error; it reads as zero settings and is created on first Save.
type Store struct {
	path string
}

// NewStore creates a store over an explicit file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultStore places the file under the user configuration directory,
// falling back to the working directory when none is available.
func DefaultStore() *Store {
	dir, err := os.UserConfigDir()
	if err != nil {
		return NewStore(fileName)
	}
	return NewStore(filepath.Join(dir, "find-mentions", fileName))
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the settings. Missing file yields zero settings.
func (s *Store) Load() (Settings, error) {
	var cfg Settings
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes the settings, creating the parent directory as needed. The
// file carries the API credential, hence the restrictive mode.
func (s *Store) Save(cfg Settings) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SaveAPIKey loads, updates just the credential, and writes back.
func (s *Store) SaveAPIKey(key string) error {
	cfg, err := s.Load()
	if err != nil {
		return err
	}
	cfg.GeminiAPIKey = key
	return s.Save(cfg)
}
