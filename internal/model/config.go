package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// APIConfig holds settings for the remote notification API.
type APIConfig struct {
	// BaseURL is the root URL of the notification service.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec is the per-request HTTP timeout in seconds.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// FeedConfig holds settings for the change-feed subscription.
type FeedConfig struct {
	// URL is the websocket endpoint of the change-feed service.
	URL string `mapstructure:"url" yaml:"url"`

	// InitialSyncWaitSec bounds how long a session waits for the
	// initial full sync before declaring itself usable anyway.
	InitialSyncWaitSec int `mapstructure:"initial_sync_wait_sec" yaml:"initial_sync_wait_sec"`
}

// SyncConfig holds engine-level tuning.
type SyncConfig struct {
	// WindowDays is the size of the recent sync window; items older
	// than now - WindowDays exist only behind the paginated API.
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`

	// PageLimit is the page size for both the live list query and
	// paginated history fetches.
	PageLimit int `mapstructure:"page_limit" yaml:"page_limit"`
}

// AppConfig is the top-level configuration.
type AppConfig struct {
	API  APIConfig  `mapstructure:"api" yaml:"api"`
	Feed FeedConfig `mapstructure:"feed" yaml:"feed"`
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inboxsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inboxsync", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API:  APIConfig{TimeoutSec: 30},
		Feed: FeedConfig{InitialSyncWaitSec: 3},
		Sync: SyncConfig{WindowDays: 7, PageLimit: 50},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("feed.initial_sync_wait_sec", 3)
	v.SetDefault("sync.window_days", 7)
	v.SetDefault("sync.page_limit", 50)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("feed", cfg.Feed)
	v.Set("sync", cfg.Sync)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
