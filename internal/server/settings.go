package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"keyfs/internal/artifacts"
	"keyfs/internal/cache"
	"keyfs/internal/profile"
	"keyfs/internal/storage"
	"keyfs/internal/vfs"
)

// getConfigDir returns the config directory path.
// Uses KEYFS_CONFIG_DIR env var if set, otherwise defaults to ~/.keyfs.
func getConfigDir() string {
	if dir := os.Getenv("KEYFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keyfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path.
// KEYFS_CONFIG overrides the default config_dir/settings.yaml.
func SettingsPath() string {
	if p := os.Getenv("KEYFS_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// DefaultStorePath is used when no store is configured.
func DefaultStorePath() string {
	return filepath.Join(getConfigDir(), "store.db")
}

// Settings holds the mount, store and logging configuration.
type Settings struct {
	Store               string        `yaml:"store"`                  // SQLite file path
	Listen              string        `yaml:"listen"`                 // NFS listen address
	Root                string        `yaml:"root"`                   // key namespace of the mount root
	Separator           string        `yaml:"separator"`              // replaces '/' in keys
	LogLevel            string        `yaml:"log_level"`              // trace, debug, info, warn, error, off
	LogFile             string        `yaml:"log_file"`               // empty logs to stderr
	AttrCacheTTL        time.Duration `yaml:"attr_cache_ttl"`         // 0 disables the attribute cache
	AttrCacheMaxEntries int           `yaml:"attr_cache_max_entries"` // 0 = unlimited
	BusyTimeoutMs       int           `yaml:"busy_timeout_ms"`        // 0 = storage default
}

// DefaultSettings parses the embedded settings template.
func DefaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return s
}

// ApplyDefaults fills zero-value fields that have a fixed default.
func (s *Settings) ApplyDefaults() {
	if s.Store == "" {
		s.Store = DefaultStorePath()
	}
	if s.Listen == "" {
		s.Listen = "127.0.0.1:0"
	}
	if s.Separator == "" {
		s.Separator = vfs.DefaultSeparator
	}
	if s.LogLevel == "" {
		s.LogLevel = "off"
	}
}

// applyEnv applies environment overrides.
func (s *Settings) applyEnv() {
	if store := os.Getenv("KEYFS_STORE"); store != "" {
		s.Store = store
	}
}

// Validate rejects settings the mount cannot work with.
func (s *Settings) Validate() error {
	if len(s.Separator) != 1 || s.Separator == "/" {
		return fmt.Errorf("separator must be a single character other than '/', got %q", s.Separator)
	}
	if strings.Contains(s.Root, "/") {
		return fmt.Errorf("root must not contain '/', got %q", s.Root)
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return err
	}
	if s.AttrCacheTTL < 0 {
		return fmt.Errorf("attr_cache_ttl must not be negative")
	}
	return nil
}

// LoadSettings reads settings from path (SettingsPath() when empty).
// A missing file yields the embedded defaults. Environment overrides and
// defaults are applied to the result.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = SettingsPath()
	}
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	settings.applyEnv()
	settings.ApplyDefaults()
	return &settings, nil
}

// SaveSettings writes settings to path (SettingsPath() when empty).
func SaveSettings(path string, settings *Settings) error {
	if path == "" {
		path = SettingsPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# keyfs settings\n# See: keyfs --help\n\n")
	return os.WriteFile(path, append(header, data...), 0600)
}

// OpenStore opens the configured SQLite key store.
func (s *Settings) OpenStore() (*storage.KeyStore, error) {
	if err := os.MkdirAll(filepath.Dir(s.Store), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return storage.OpenKeyStore(s.Store, storage.KeyStoreOptions{BusyTimeout: s.BusyTimeoutMs})
}

// MountOptions builds the vfs options for these settings.
func (s *Settings) MountOptions(logger log.FieldLogger, profiler *profile.Recorder) vfs.Options {
	opts := vfs.Options{
		Root:      s.Root,
		Separator: s.Separator,
		Logger:    logger,
		Profiler:  profiler,
	}
	if s.AttrCacheTTL > 0 && !cache.Disabled {
		opts.AttrCache = cache.NewAttrCache(s.AttrCacheTTL, s.AttrCacheMaxEntries)
	}
	return opts
}
