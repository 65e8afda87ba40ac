package mathdoc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration used by the command line tools.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
	Math    MathConfig    `yaml:"math"`
}

// StoreConfig selects and locates the durable store.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory file sqlite badger"`
	Path    string `yaml:"path" validate:"required_unless=Backend memory"`
	Key     string `yaml:"key"`
	Watch   bool   `yaml:"watch"`
}

// HistoryConfig bounds the undo stack.
type HistoryConfig struct {
	MaxDepth int `yaml:"max_depth" validate:"gte=1,lte=10000"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// MathConfig toggles the math plugin.
type MathConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Key:     DefaultStorageKey,
		},
		History: HistoryConfig{MaxDepth: DefaultHistoryDepth},
		Logging: LoggingConfig{Level: "info"},
		Math:    MathConfig{Enabled: true},
	}
}

// LoadConfig reads a YAML file over the defaults, then applies MATHDOC_*
// environment overrides. A missing file is not an error. The result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MATHDOC_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("MATHDOC_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("MATHDOC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

var configValidate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ZapLevel returns the configured log level.
func (c *Config) ZapLevel() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// OpenStore opens the configured backend.
func (c *Config) OpenStore(logger *zap.Logger) (Store, error) {
	switch c.Store.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(c.Store.Path)
	case "sqlite":
		return NewSQLiteStore(c.Store.Path)
	case "badger":
		return NewBadgerStore(BadgerOptions{Path: c.Store.Path, SyncWrites: true, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}

// EditorOptions derives editor options from the configuration.
func (c *Config) EditorOptions() EditorOptions {
	return EditorOptions{
		StoreKey:    c.Store.Key,
		DisableMath: !c.Math.Enabled,
		History:     HistoryOptions{MaxDepth: c.History.MaxDepth},
		WatchStore:  c.Store.Watch && c.Store.Backend == "file",
	}
}
