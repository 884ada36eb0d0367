package adapter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	UI      UIConfig      `mapstructure:"ui"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the progress backend location
type ServerConfig struct {
	URL string `mapstructure:"url"` // Base URL, e.g. http://localhost:5000
}

// APIConfig holds request behavior
type APIConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	LoadRetries int           `mapstructure:"load_retries"` // Extra attempts for the progress load
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// CacheConfig holds query cache configuration
type CacheConfig struct {
	Dir string `mapstructure:"dir"` // Empty keeps the cache in memory
}

// CatalogConfig points at the episode catalog used for local summaries
type CatalogConfig struct {
	File string `mapstructure:"file"`
}

// UIConfig holds UI configuration
type UIConfig struct {
	ShowFilterHint bool `mapstructure:"show_filter_hint"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Timeout:     30 * time.Second,
			LoadRetries: 1,
			RetryDelay:  time.Second,
		},
		UI: UIConfig{
			ShowFilterHint: true,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "marathon", "marathon.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "marathon", "marathon.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "marathon")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "marathon")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "marathon", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "marathon", "cache")
	}
}

// LoadConfig loads configuration from .env, the config file and environment
func LoadConfig() (*Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}
	return loadConfig(viper.GetViper(), defaultConfigPath(), ".")
}

func loadConfig(v *viper.Viper, searchPaths ...string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	// Environment variable overrides: MARATHON_SERVER_URL -> server.url
	v.SetEnvPrefix("MARATHON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.API.LoadRetries < 0 {
		cfg.API.LoadRetries = 0
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override nested values
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.load_retries", cfg.API.LoadRetries)
	v.SetDefault("api.retry_delay", cfg.API.RetryDelay)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("catalog.file", cfg.Catalog.File)
	v.SetDefault("ui.show_filter_hint", cfg.UI.ShowFilterHint)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	return saveConfig(viper.GetViper(), cfg, defaultConfigPath())
}

func saveConfig(v *viper.Viper, cfg *Config, configPath string) error {
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to ensure correct key names (snake_case)
	v.Set("server.url", cfg.Server.URL)

	v.Set("api.timeout", cfg.API.Timeout.String())
	v.Set("api.load_retries", cfg.API.LoadRetries)
	v.Set("api.retry_delay", cfg.API.RetryDelay.String())

	v.Set("cache.dir", cfg.Cache.Dir)
	v.Set("catalog.file", cfg.Catalog.File)
	v.Set("ui.show_filter_hint", cfg.UI.ShowFilterHint)

	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the server URL is set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != ""
}

// GetCachePath returns the default cache directory path
func GetCachePath() string {
	return defaultCachePath()
}
