package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Cache directory for downloads and decompressed images
	CacheDir string `mapstructure:"cache-dir"`

	// S3 configuration for s3:// image URLs
	S3Region string `mapstructure:"s3-region"`

	// Transfer tuning
	ChunkSize      int           `mapstructure:"chunk-size"`
	BufferSize     int           `mapstructure:"buffer-size"`
	ReportInterval time.Duration `mapstructure:"report-interval"`
	PollInterval   time.Duration `mapstructure:"poll-interval"`

	// External decompressor
	XzCommand string `mapstructure:"xz-command"`
	XzArgs    string `mapstructure:"xz-args"`

	// Security limits
	MaxImageSize int64 `mapstructure:"max-image-size"`

	// Disk-management service
	UDisksTimeout time.Duration `mapstructure:"udisks-timeout"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// DefaultCacheDir is the per-user cache location for intermediate images
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "flasher")
}

// Load reads configuration from .env, environment, config file, and defaults
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// Set defaults
	viper.SetDefault("sqlite-path", ".artifacts/flash_jobs.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("cache-dir", DefaultCacheDir())
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("chunk-size", 1024*1024)
	viper.SetDefault("buffer-size", 4*1024*1024)
	viper.SetDefault("report-interval", 250*time.Millisecond)
	viper.SetDefault("poll-interval", time.Second)
	viper.SetDefault("xz-command", "xzcat")
	viper.SetDefault("xz-args", "-k -T0")
	viper.SetDefault("max-image-size", int64(64)*1024*1024*1024)
	viper.SetDefault("udisks-timeout", 25*time.Second)
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be FLASHER_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("FLASHER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.flasher")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// XzArgList splits the decompressor arguments on whitespace
func (c *Config) XzArgList() []string {
	return strings.Fields(c.XzArgs)
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache-dir cannot be empty")
	}
	if c.XzCommand == "" {
		return fmt.Errorf("xz-command cannot be empty")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer-size must be positive")
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.UDisksTimeout <= 0 {
		return fmt.Errorf("udisks-timeout must be positive")
	}
	if c.MaxImageSize < 0 {
		return fmt.Errorf("max-image-size must be non-negative")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
