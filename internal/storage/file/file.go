// Package file stores the settings as a JSON document on disk. Comments
// and trailing commas in a hand-edited file are tolerated on load.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
	"github.com/sirosfoundation/go-interpreter-relay/internal/storage"
)

// Store implements file-backed settings storage
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store writing to path. The parent directory is
// created if needed.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("settings path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the settings file path
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(ctx context.Context) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var settings domain.Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return &settings, nil
}

// Save writes to a temporary file in the same directory and renames it
// over the settings file, so readers never see a partial document.
func (s *Store) Save(ctx context.Context, settings *domain.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to set settings permissions: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Ping checks that the settings directory is still there
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrDatabase, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", storage.ErrDatabase, filepath.Dir(s.path))
	}
	return nil
}

func (s *Store) Close() error { return nil }
