// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package config loads the service configuration.  Every option can
// come from the environment (matched case-insensitively) or from an
// optional YAML file; environment values win.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/diffeo/go-webprint/backend"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config holds every recognized option.
type Config struct {
	// SQLiteDBPath locates the embedded store.
	SQLiteDBPath string `mapstructure:"sqlite_db_path" yaml:"sqlite_db_path"`

	// DatabaseURL, if set, selects the PostgreSQL backend
	// instead of SQLite.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`

	// PDFStoragePath is the rendered-output directory.
	PDFStoragePath string `mapstructure:"pdf_storage_path" yaml:"pdf_storage_path"`

	// DefaultRenderMode is the fallback render mode.
	DefaultRenderMode string `mapstructure:"default_render_mode" yaml:"default_render_mode"`

	NavigationTimeoutSeconds int `mapstructure:"navigation_timeout_seconds" yaml:"navigation_timeout_seconds"`
	JobTimeoutSeconds        int `mapstructure:"job_timeout_seconds" yaml:"job_timeout_seconds"`
	MaxDomainWaitSeconds     int `mapstructure:"max_domain_wait_seconds" yaml:"max_domain_wait_seconds"`
	MaxRetries               int `mapstructure:"max_retries" yaml:"max_retries"`

	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds" yaml:"cleanup_interval_seconds"`
	CleanupFileAgeSeconds  int `mapstructure:"cleanup_file_age_seconds" yaml:"cleanup_file_age_seconds"`

	APIHost string `mapstructure:"api_host" yaml:"api_host"`
	APIPort int    `mapstructure:"api_port" yaml:"api_port"`

	WorkerPollIntervalSeconds int `mapstructure:"worker_poll_interval_seconds" yaml:"worker_poll_interval_seconds"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		SQLiteDBPath:              "./data/app.db",
		PDFStoragePath:            "./data/pdfs",
		DefaultRenderMode:         "print_to_pdf",
		NavigationTimeoutSeconds:  45,
		JobTimeoutSeconds:         120,
		MaxDomainWaitSeconds:      600,
		MaxRetries:                2,
		CleanupIntervalSeconds:    1020,
		CleanupFileAgeSeconds:     1020,
		APIHost:                   "0.0.0.0",
		APIPort:                   8000,
		WorkerPollIntervalSeconds: 2,
		LogLevel:                  "INFO",
	}
}

// Load builds the configuration: defaults, overridden by the YAML
// file at path (if path is non-empty), overridden by the process
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		contents, err := ioutil.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err = yaml.Unmarshal(contents, &cfg); err != nil {
			return cfg, err
		}
	}
	err := applyValues(&cfg, environMap(os.Environ()))
	return cfg, err
}

// applyValues decodes a loosely-typed option map onto a Config.
// mapstructure matches keys case-insensitively and converts string
// values to the field types, which is exactly the environment
// contract.
func applyValues(cfg *Config, values map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(values)
}

// environMap converts environ ("KEY=value" strings) to an option
// map.  Unrecognized keys are ignored by the decoder.
func environMap(environ []string) map[string]interface{} {
	values := make(map[string]interface{}, len(environ))
	for _, entry := range environ {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			values[strings.ToLower(parts[0])] = parts[1]
		}
	}
	return values
}

// Backend describes the queue storage this configuration selects.
func (cfg Config) Backend() backend.Backend {
	if cfg.DatabaseURL != "" {
		return backend.Backend{Implementation: "postgres", Address: cfg.DatabaseURL}
	}
	return backend.Backend{Implementation: "sqlite", Address: cfg.SQLiteDBPath}
}

// JobDefaults converts the configured defaults into a job
// configuration snapshot.
func (cfg Config) JobDefaults() (webprint.JobConfig, error) {
	defaults := webprint.JobConfig{
		NavigationTimeout: time.Duration(cfg.NavigationTimeoutSeconds) * time.Second,
		JobTimeout:        time.Duration(cfg.JobTimeoutSeconds) * time.Second,
		MaxDomainWait:     time.Duration(cfg.MaxDomainWaitSeconds) * time.Second,
		MaxRetries:        cfg.MaxRetries,
	}
	err := defaults.RenderMode.UnmarshalText([]byte(cfg.DefaultRenderMode))
	return defaults, err
}

// Bind is the API listen address.
func (cfg Config) Bind() string {
	return cfg.APIHost + ":" + strconv.Itoa(cfg.APIPort)
}

// LogrusLevel parses LogLevel, defaulting to Info on nonsense.
func (cfg Config) LogrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// EnsureDirectories creates the storage directories if absent.
func (cfg Config) EnsureDirectories() error {
	if err := os.MkdirAll(filepath.Dir(cfg.SQLiteDBPath), 0755); err != nil {
		return err
	}
	return os.MkdirAll(cfg.PDFStoragePath, 0755)
}
