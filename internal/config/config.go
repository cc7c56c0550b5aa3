// Package config loads cochange settings from .cochange.yaml, COCHANGE_*
// environment variables and a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Config is the full settings tree.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Build     BuildConfig     `mapstructure:"build"`
	Output    OutputConfig    `mapstructure:"output"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SourceConfig selects where change-sets come from.
type SourceConfig struct {
	Kind          string        `mapstructure:"kind"`
	Repo          string        `mapstructure:"repo"`
	Ref           string        `mapstructure:"ref"`
	Path          string        `mapstructure:"path"`
	State         string        `mapstructure:"state"`
	Detail        string        `mapstructure:"detail"`
	APIURL        string        `mapstructure:"api_url"`
	Token         string        `mapstructure:"token"`
	MaxChangeSets int           `mapstructure:"max_changesets"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// BuildConfig tunes graph construction.
type BuildConfig struct {
	Weighting         string   `mapstructure:"weighting"`
	Include           []string `mapstructure:"include"`
	Exclude           []string `mapstructure:"exclude"`
	Languages         []string `mapstructure:"languages"`
	MaxChangeSetFiles int      `mapstructure:"max_changeset_files"`
	FetchWorkers      int      `mapstructure:"fetch_workers"`
	SkipVendored      bool     `mapstructure:"skip_vendored"`
}

// OutputConfig describes the snapshot artifact.
type OutputConfig struct {
	Path     string `mapstructure:"path"`
	Format   string `mapstructure:"format"`
	SQLite   string `mapstructure:"sqlite"`
	Compress bool   `mapstructure:"compress"`
}

// ServerConfig configures the snapshot HTTP server.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Dir          string        `mapstructure:"dir"`
	Index        string        `mapstructure:"index"`
	Workers      int           `mapstructure:"workers"`
	CacheEntries int           `mapstructure:"cache_entries"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders     string  `mapstructure:"otlp_headers"`
	DiagnosticsAddr string  `mapstructure:"diagnostics_addr"`
	SampleRatio     float64 `mapstructure:"sample_ratio"`
	OTLPInsecure    bool    `mapstructure:"otlp_insecure"`
	Verbose         bool    `mapstructure:"verbose"`
}

var (
	// ErrInvalidSourceKind indicates an unknown source.kind.
	ErrInvalidSourceKind = errors.New("source.kind must be github, git or jsonl")
	// ErrMissingRepo indicates a github source without source.repo.
	ErrMissingRepo = errors.New("source.repo is required for the github source")
	// ErrMissingPath indicates a git or jsonl source without source.path.
	ErrMissingPath = errors.New("source.path is required for git and jsonl sources")
	// ErrInvalidDetail indicates an unknown source.detail.
	ErrInvalidDetail = errors.New("source.detail must be pull or commits")
	// ErrInvalidMaxChangeSets indicates a negative source.max_changesets.
	ErrInvalidMaxChangeSets = errors.New("source.max_changesets must be non-negative")
	// ErrInvalidWeighting indicates an unknown build.weighting.
	ErrInvalidWeighting = errors.New("build.weighting must be change or subchange")
	// ErrInvalidFetchWorkers indicates build.fetch_workers below one.
	ErrInvalidFetchWorkers = errors.New("build.fetch_workers must be positive")
	// ErrInvalidMaxFiles indicates a negative build.max_changeset_files.
	ErrInvalidMaxFiles = errors.New("build.max_changeset_files must be non-negative")
	// ErrInvalidFormat indicates an unknown output.format.
	ErrInvalidFormat = errors.New("output.format must be json or yaml")
	// ErrInvalidServerWorkers indicates server.workers below one.
	ErrInvalidServerWorkers = errors.New("server.workers must be positive")
	// ErrInvalidCacheEntries indicates server.cache_entries below one.
	ErrInvalidCacheEntries = errors.New("server.cache_entries must be positive")
	// ErrInvalidLogLevel indicates an unknown logging.level.
	ErrInvalidLogLevel = errors.New("logging.level must be debug, info, warn or error")
	// ErrInvalidSampleRatio indicates telemetry.sample_ratio outside [0, 1].
	ErrInvalidSampleRatio = errors.New("telemetry.sample_ratio must be between 0 and 1")
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	sourceErr := c.validateSource()
	if sourceErr != nil {
		return sourceErr
	}

	buildErr := c.validateBuild()
	if buildErr != nil {
		return buildErr
	}

	return c.validateRuntime()
}

func (c *Config) validateSource() error {
	switch c.Source.Kind {
	case "github":
		if c.Source.Repo == "" {
			return ErrMissingRepo
		}

		if c.Source.Detail != "pull" && c.Source.Detail != "commits" {
			return fmt.Errorf("%w: %q", ErrInvalidDetail, c.Source.Detail)
		}
	case "git", "jsonl":
		if c.Source.Path == "" {
			return ErrMissingPath
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSourceKind, c.Source.Kind)
	}

	if c.Source.MaxChangeSets < 0 {
		return ErrInvalidMaxChangeSets
	}

	return nil
}

func (c *Config) validateBuild() error {
	if c.Build.Weighting != "change" && c.Build.Weighting != "subchange" {
		return fmt.Errorf("%w: %q", ErrInvalidWeighting, c.Build.Weighting)
	}

	if c.Build.FetchWorkers < 1 {
		return ErrInvalidFetchWorkers
	}

	if c.Build.MaxChangeSetFiles < 0 {
		return ErrInvalidMaxFiles
	}

	if !slices.Contains([]string{"json", "yaml"}, c.Output.Format) {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.Output.Format)
	}

	return nil
}

func (c *Config) validateRuntime() error {
	if c.Server.Workers < 1 {
		return ErrInvalidServerWorkers
	}

	if c.Server.CacheEntries < 1 {
		return ErrInvalidCacheEntries
	}

	_, err := c.Logging.SlogLevel()
	if err != nil {
		return err
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	return nil
}

// SlogLevel parses Level into a slog level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
}
