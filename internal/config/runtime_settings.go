package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	DefaultRuntimeSettingsFile = "/app/config/settings.json"

	// QualityOptionKey is the persisted name of the encoder quality setting.
	QualityOptionKey = "webp_autogen_quality"

	MinQuality = 0
	MaxQuality = 100
)

var ErrQualityOutOfRange = errors.New("quality must be an integer between 0 and 100")

// RuntimeSettings are the values an administrator can change while the service runs.
type RuntimeSettings struct {
	Quality int `json:"webp_autogen_quality"`
}

func ValidateQuality(q int) error {
	if q < MinQuality || q > MaxQuality {
		return fmt.Errorf("%w: got %d", ErrQualityOutOfRange, q)
	}
	return nil
}

func (s RuntimeSettings) Validate() error {
	return ValidateQuality(s.Quality)
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// RuntimeSettingsStore is the key-value settings store backing the quality option.
// Reads are served from memory; updates are validated and written through.
type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

// OpenRuntimeSettingsStore loads path if it exists and falls back to defaults
// when the file is missing or holds an out-of-range value.
func OpenRuntimeSettingsStore(path string, defaults RuntimeSettings) (*RuntimeSettingsStore, error) {
	initial := defaults
	loaded, err := LoadRuntimeSettingsFile(path)
	switch {
	case err == nil && loaded.Validate() == nil:
		initial = loaded
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	return NewRuntimeSettingsStore(path, initial)
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// Quality is the boundary accessor the converter callers use.
func (s *RuntimeSettingsStore) Quality() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Quality
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}
