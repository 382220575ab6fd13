package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Second
	defaultDebounce     = 500 * time.Millisecond
	minPollInterval     = 100 * time.Millisecond
)

// Config holds the daemon configuration
type Config struct {
	// PollInterval is the position refresh period while a player is
	// playing
	PollInterval time.Duration `koanf:"poll_interval"`
	// Debounce is the quiet period before the engine reports a change
	Debounce time.Duration `koanf:"debounce"`
	// CacheDir overrides the cover art cache location (default: XDG
	// cache home)
	CacheDir string `koanf:"cache_dir"`
	// CoverCache toggles cover art caching (default: on)
	CoverCache *bool `koanf:"cover_cache"`
}

// CoverCacheEnabled reports the cover cache toggle, defaulting to true
// when unset
func (c *Config) CoverCacheEnabled() bool {
	return c.CoverCache == nil || *c.CoverCache
}

// Load reads the configuration from the usual file locations, applying
// defaults for anything unset. A missing file is not an error.
func Load(logger *zap.Logger) (*Config, error) {
	return loadFrom(logger, configPaths())
}

func loadFrom(logger *zap.Logger, paths []string) (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		PollInterval: defaultPollInterval,
		Debounce:     defaultDebounce,
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	if cfg.PollInterval < minPollInterval {
		logger.Warn("poll_interval too small, clamping",
			zap.Duration("requested", cfg.PollInterval),
			zap.Duration("min", minPollInterval))
		cfg.PollInterval = minPollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.CacheDir != "" {
		cfg.CacheDir = expandPath(cfg.CacheDir)
	}

	logger.Info("Configuration loaded",
		zap.Duration("pollInterval", cfg.PollInterval),
		zap.Duration("debounce", cfg.Debounce),
		zap.Bool("coverCache", cfg.CoverCacheEnabled()))
	return cfg, nil
}

func configPaths() []string {
	return []string{
		filepath.Join(xdg.ConfigHome, "mpriswatch", "config.toml"),
		"config.toml", // pwd, highest priority
	}
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
