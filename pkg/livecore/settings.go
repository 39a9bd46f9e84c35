package livecore

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/speech"
	"github.com/spf13/viper"
)

// SettingsStore persists the user's speech provider choice.
type SettingsStore interface {
	Load() (speech.ProviderConfig, error)
	Save(cfg speech.ProviderConfig) error
}

// MemoryStore keeps the configuration for the life of the process.
type MemoryStore struct {
	mu    sync.Mutex
	cfg   speech.ProviderConfig
	saved bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load returns the saved configuration, or the local default.
func (s *MemoryStore) Load() (speech.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return speech.LocalConfig(), nil
	}
	return cloneProviderConfig(s.cfg), nil
}

func (s *MemoryStore) Save(cfg speech.ProviderConfig) error {
	s.mu.Lock()
	s.cfg = cloneProviderConfig(cfg)
	s.saved = true
	s.mu.Unlock()
	return nil
}

// FileStore reads and writes the configuration as a viper-readable file.
// The format follows the file extension.
type FileStore struct {
	Path   string
	logger *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{Path: path, logger: logging.NewComponentLogger(logger, "settings_store")}
}

// Load degrades to the local default when the file is missing or unreadable.
func (s *FileStore) Load() (speech.ProviderConfig, error) {
	if _, err := os.Stat(s.Path); errors.Is(err, fs.ErrNotExist) {
		return speech.LocalConfig(), nil
	}
	v := viper.New()
	v.SetConfigFile(s.Path)
	if err := v.ReadInConfig(); err != nil {
		s.logger.Warn("settings_unreadable", "path", s.Path, "error", err)
		return speech.LocalConfig(), nil
	}
	var cfg speech.ProviderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		s.logger.Warn("settings_malformed", "path", s.Path, "error", err)
		return speech.LocalConfig(), nil
	}
	cfg.Kind = cfg.Kind.Normalize()
	if cfg.Kind == "" {
		cfg.Kind = speech.KindLocal
	}
	return cfg, nil
}

func (s *FileStore) Save(cfg speech.ProviderConfig) error {
	v := viper.New()
	v.Set("provider", string(cfg.Kind.Normalize()))
	if len(cfg.Settings) > 0 {
		v.Set("settings", cfg.Settings)
	}
	if cfg.Recognition.Language != "" {
		v.Set("language", cfg.Recognition.Language)
	}
	if cfg.Recognition.Continuous != nil {
		v.Set("continuous", *cfg.Recognition.Continuous)
	}
	if cfg.Recognition.InterimResults != nil {
		v.Set("interim_results", *cfg.Recognition.InterimResults)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return errorsx.Errorf(errorsx.ReasonConfig, "create settings dir: %w", err)
	}
	if err := v.WriteConfigAs(s.Path); err != nil {
		return errorsx.Errorf(errorsx.ReasonConfig, "write settings: %w", err)
	}
	s.logger.Info("settings_saved", "path", s.Path, "provider", cfg.Kind)
	return nil
}

func cloneProviderConfig(cfg speech.ProviderConfig) speech.ProviderConfig {
	if cfg.Settings != nil {
		settings := make(map[string]any, len(cfg.Settings))
		for k, v := range cfg.Settings {
			settings[k] = v
		}
		cfg.Settings = settings
	}
	return cfg
}
