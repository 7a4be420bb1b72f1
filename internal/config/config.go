// Package config provides unified configuration loading for the PDF50 service.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the PDF50 service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Tools         ToolsConfig         `yaml:"tools"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Uploads       UploadsConfig       `yaml:"uploads"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// PipelineConfig holds conversion pipeline settings. LimitBytes is the hard
// ceiling for a single output PDF; merged documents above it are split into
// parts aimed at TargetBytes each.
type PipelineConfig struct {
	LimitBytes    int64  `yaml:"limit_bytes"`
	TargetBytes   int64  `yaml:"target_bytes"`
	MaxProbeDepth int    `yaml:"max_probe_depth"`
	PartLabel     string `yaml:"part_label"`
	OCRLanguage   string `yaml:"ocr_language"`
	TempDir       string `yaml:"temp_dir"`
}

// ToolsConfig holds external tool locations and timeouts. Empty paths are
// resolved by probing well-known names on PATH.
type ToolsConfig struct {
	LibreOffice     string        `yaml:"libreoffice"`
	OCRmyPDF        string        `yaml:"ocrmypdf"`
	Ghostscript     string        `yaml:"ghostscript"`
	OpenSSL         string        `yaml:"openssl"`
	ConvertTimeout  time.Duration `yaml:"convert_timeout"`
	OCRTimeout      time.Duration `yaml:"ocr_timeout"`
	CompressTimeout time.Duration `yaml:"compress_timeout"`
}

// JobsConfig holds job registry retention settings.
type JobsConfig struct {
	MaxFinished int           `yaml:"max_finished"`
	Retention   time.Duration `yaml:"retention"`
}

// UploadsConfig holds upload handling settings.
type UploadsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// Cache driver selection.
const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
	CacheDriverOff    = "off"
)

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory, redis or off
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8050,
			ReadTimeout: 120 * time.Second,
			// Event streams are long-lived responses, so the write
			// timeout stays disabled.
			WriteTimeout:     0,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			LimitBytes:    50 * 1024 * 1024,
			TargetBytes:   46 * 1024 * 1024,
			MaxProbeDepth: 20,
			PartLabel:     "Parte",
			OCRLanguage:   "ita",
		},
		Tools: ToolsConfig{
			ConvertTimeout:  2 * time.Minute,
			OCRTimeout:      5 * time.Minute,
			CompressTimeout: 10 * time.Minute,
		},
		Jobs: JobsConfig{
			MaxFinished: 100,
			Retention:   time.Hour,
		},
		Uploads: UploadsConfig{
			MaxBytes: 1 << 30,
		},
		Cache: CacheConfig{
			Driver:     CacheDriverMemory,
			TTL:        10 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Pipeline.LimitBytes < 1 {
		return fmt.Errorf("limit_bytes must be positive, got %d", c.Pipeline.LimitBytes)
	}

	if c.Pipeline.TargetBytes < 1 || c.Pipeline.TargetBytes > c.Pipeline.LimitBytes {
		return fmt.Errorf("target_bytes must be in [1, limit_bytes], got %d", c.Pipeline.TargetBytes)
	}

	if c.Pipeline.MaxProbeDepth < 1 {
		return fmt.Errorf("max_probe_depth must be at least 1, got %d", c.Pipeline.MaxProbeDepth)
	}

	if c.Pipeline.PartLabel == "" {
		return fmt.Errorf("part_label must not be empty")
	}

	switch c.Cache.Driver {
	case CacheDriverMemory, CacheDriverRedis, CacheDriverOff:
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Jobs.MaxFinished < 0 {
		return fmt.Errorf("max_finished must not be negative, got %d", c.Jobs.MaxFinished)
	}

	return nil
}

// TempBase returns the root directory for per-job working directories.
func (c *Config) TempBase() string {
	if c.Pipeline.TempDir != "" {
		return c.Pipeline.TempDir
	}
	return filepath.Join(os.TempDir(), "pdf50")
}

// UploadBase returns the root directory for transient uploads.
func (c *Config) UploadBase() string {
	if c.Uploads.Dir != "" {
		return c.Uploads.Dir
	}
	return filepath.Join(c.TempBase(), "uploads")
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("PDF_LIMIT_MB"); v != "" {
		var mb int64
		if _, err := fmt.Sscanf(v, "%d", &mb); err == nil && mb > 0 {
			cfg.Pipeline.LimitBytes = mb * 1024 * 1024
		}
	}

	if v := os.Getenv("PDF_TARGET_MB"); v != "" {
		var mb int64
		if _, err := fmt.Sscanf(v, "%d", &mb); err == nil && mb > 0 {
			cfg.Pipeline.TargetBytes = mb * 1024 * 1024
		}
	}

	if v := os.Getenv("OCR_LANGUAGE"); v != "" {
		cfg.Pipeline.OCRLanguage = v
	}

	if v := os.Getenv("LIBREOFFICE_PATH"); v != "" {
		cfg.Tools.LibreOffice = v
	}

	if v := os.Getenv("OCRMYPDF_PATH"); v != "" {
		cfg.Tools.OCRmyPDF = v
	}

	if v := os.Getenv("GHOSTSCRIPT_PATH"); v != "" {
		cfg.Tools.Ghostscript = v
	}

	if v := os.Getenv("TEMP_DIR"); v != "" {
		cfg.Pipeline.TempDir = v
	}

	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Uploads.Dir = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = CacheDriverRedis
		// Accept both host:port and redis://host:port forms.
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
