// Package config loads application configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Photos   PhotosConfig   `yaml:"photos"`
	Import   ImportConfig   `yaml:"import"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PhotosConfig holds photo pipeline settings.
type PhotosConfig struct {
	Dir           string  `yaml:"dir"`
	MaxSizeMB     int     `yaml:"max_size_mb"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	FetchTimeoutS int     `yaml:"fetch_timeout_seconds"`
}

// ImportConfig holds server-side defaults for import jobs. Jobs may override
// thresholds and batch sizing per request.
type ImportConfig struct {
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
	WarningThreshold   float64 `yaml:"warning_threshold"`
	BatchSize          int     `yaml:"batch_size"`
	MaxWorkers         int     `yaml:"max_workers"`
	SearchRadiusMeters float64 `yaml:"search_radius_meters"`
	CandidateLimit     int     `yaml:"candidate_limit"`
	SearchURLBase      string  `yaml:"search_url_base"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "/data/openartmap.db",
		},
		Photos: PhotosConfig{
			Dir:           "/data/photos",
			MaxSizeMB:     15,
			RatePerSecond: 5,
			FetchTimeoutS: 30,
		},
		Import: ImportConfig{
			DuplicateThreshold: 0.7,
			WarningThreshold:   0.55,
			BatchSize:          25,
			MaxWorkers:         4,
			SearchRadiusMeters: 500,
			CandidateLimit:     50,
			SearchURLBase:      "/creators/search",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("OAM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("OAM_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("OAM_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("OAM_PHOTOS_DIR"); v != "" {
		c.Photos.Dir = v
	}
	if v := os.Getenv("OAM_SEARCH_URL_BASE"); v != "" {
		c.Import.SearchURLBase = v
	}
	if v := os.Getenv("OAM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OAM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("OAM_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Import.DuplicateThreshold < 0 || c.Import.DuplicateThreshold > 1 {
		return fmt.Errorf("invalid duplicate threshold: %v", c.Import.DuplicateThreshold)
	}
	if c.Import.WarningThreshold < 0 || c.Import.WarningThreshold > c.Import.DuplicateThreshold {
		return fmt.Errorf("warning threshold %v must be between 0 and the duplicate threshold",
			c.Import.WarningThreshold)
	}
	if c.Photos.MaxSizeMB <= 0 {
		c.Photos.MaxSizeMB = 15
	}
	return nil
}
