// Package commands implements the cochange CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/internal/config"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
	"github.com/Sumatoshi-tech/cochange/internal/snapshot"
	"github.com/Sumatoshi-tech/cochange/pkg/version"
)

// Persistent flag names.
const (
	flagConfig  = "config"
	flagVerbose = "verbose"
	flagQuiet   = "quiet"
	flagLogJSON = "log-json"
	flagNoColor = "no-color"
)

// GlobalOptions are the persistent flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	LogJSON    bool
	NoColor    bool
}

// ErrVerboseQuiet is returned when both --verbose and --quiet are set.
var ErrVerboseQuiet = errors.New("--verbose and --quiet are mutually exclusive")

// bind registers the persistent flags on root.
func (g *GlobalOptions) bind(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringVar(&g.ConfigPath, flagConfig, "", "config file (default: .cochange.yaml in . or $HOME)")
	flags.BoolVarP(&g.Verbose, flagVerbose, "v", false, "debug logging")
	flags.BoolVarP(&g.Quiet, flagQuiet, "q", false, "only log warnings and errors")
	flags.BoolVar(&g.LogJSON, flagLogJSON, false, "JSON log output")
	flags.BoolVar(&g.NoColor, flagNoColor, false, "disable colored output")
}

// load reads the configuration and applies the persistent flags on top.
func (g *GlobalOptions) load() (*config.Config, error) {
	if g.Verbose && g.Quiet {
		return nil, ErrVerboseQuiet
	}

	cfg, err := config.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}

	switch {
	case g.Verbose:
		cfg.Logging.Level = "debug"
	case g.Quiet:
		cfg.Logging.Level = "warn"
	}

	if g.LogJSON {
		cfg.Logging.JSON = true
	}

	g.applyColor()

	return cfg, nil
}

// applyColor disables colored output when --no-color is set.
func (g *GlobalOptions) applyColor() {
	if g.NoColor {
		color.NoColor = true //nolint:reassign // the flag overrides terminal detection
	}
}

// telemetry builds the observability config for one command mode.
func telemetry(cfg *config.Config, mode observability.AppMode) (observability.Config, error) {
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		return observability.Config{}, err
	}

	obs := observability.DefaultConfig()
	obs.ServiceVersion = version.Version
	obs.Mode = mode
	obs.LogLevel = level
	obs.LogJSON = cfg.Logging.JSON
	obs.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obs.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obs.SampleRatio = cfg.Telemetry.SampleRatio
	obs.TraceVerbose = cfg.Telemetry.Verbose
	obs.Prometheus = mode == observability.ModeServe || cfg.Telemetry.DiagnosticsAddr != ""

	return obs, nil
}

// startObservability initializes providers and installs the logger as the
// slog default. The returned func flushes telemetry.
func startObservability(cfg *config.Config, mode observability.AppMode, logOut io.Writer) (observability.Providers, func(), error) {
	obs, err := telemetry(cfg, mode)
	if err != nil {
		return observability.Providers{}, nil, err
	}

	providers, err := observability.InitWithWriter(obs, logOut)
	if err != nil {
		return observability.Providers{}, nil, fmt.Errorf("init observability: %w", err)
	}

	slog.SetDefault(providers.Logger)

	stop := func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}

	return providers, stop, nil
}

// loadSnapshot reads a snapshot in any supported artifact format: JSON or
// YAML, optionally LZ4-compressed, or a SQLite database.
func loadSnapshot(ctx context.Context, path string) (snapshot.Snapshot, error) {
	if isSQLite(path) {
		return snapshot.ReadSQLite(ctx, path)
	}

	return snapshot.Load(path)
}

func isSQLite(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	default:
		return false
	}
}
