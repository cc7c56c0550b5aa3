package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/config"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
	"github.com/Sumatoshi-tech/cochange/internal/pathfilter"
	"github.com/Sumatoshi-tech/cochange/internal/pipeline"
	"github.com/Sumatoshi-tech/cochange/internal/report"
	"github.com/Sumatoshi-tech/cochange/internal/snapshot"
	"github.com/Sumatoshi-tech/cochange/internal/source"
	"github.com/Sumatoshi-tech/cochange/pkg/persist"
)

// Build flag names.
const (
	flagSource    = "source"
	flagRepo      = "repo"
	flagPath      = "path"
	flagRef       = "ref"
	flagState     = "state"
	flagDetail    = "detail"
	flagMax       = "max"
	flagWeighting = "weighting"
	flagInclude   = "include"
	flagExclude   = "exclude"
	flagLanguage  = "language"
	flagMaxFiles  = "max-files"
	flagWorkers   = "workers"
	flagOutput    = "output"
	flagFormat    = "format"
	flagCompress  = "compress"
	flagSQLite    = "sqlite"
)

const (
	diagnosticsShutdownTimeout = 5 * time.Second
	progressLogEvery           = 100
)

// ErrNotReady is reported by the diagnostics /readyz endpoint until the
// source has been listed.
var ErrNotReady = errors.New("change-sets not listed yet")

// BuildCommand holds the flags of the build command.
type BuildCommand struct {
	global *GlobalOptions

	kind      string
	repo      string
	path      string
	ref       string
	state     string
	detail    string
	weighting string
	output    string
	format    string
	sqlite    string
	include   []string
	exclude   []string
	languages []string
	maxSets   int
	maxFiles  int
	workers   int
	compress  bool
}

// NewBuildCommand creates the build command.
func NewBuildCommand(global *GlobalOptions) *cobra.Command {
	bc := &BuildCommand{global: global}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a co-change graph snapshot from change history",
		Long: `Build a co-change graph from a change-set source and write it as a snapshot.

Sources:
  git     first-parent commits of a local repository (default)
  github  pull requests of a GitHub repository (GITHUB_TOKEN for auth)
  jsonl   one change-set per line of a JSON Lines file

Flags override the config file and COCHANGE_* environment variables.
The snapshot format follows the output extension (.json, .yaml, .yml, +.lz4)
and falls back to --format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bc.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&bc.kind, flagSource, "", "change-set source: git, github or jsonl")
	flags.StringVar(&bc.repo, flagRepo, "", "GitHub repository as owner/name")
	flags.StringVar(&bc.path, flagPath, "", "repository directory or JSON Lines file")
	flags.StringVar(&bc.ref, flagRef, "", "git revision to walk from")
	flags.StringVar(&bc.state, flagState, "", "pull request state: open, closed or all")
	flags.StringVar(&bc.detail, flagDetail, "", "GitHub detail: pull or commits")
	flags.IntVar(&bc.maxSets, flagMax, 0, "maximum number of change-sets (0 = all)")
	flags.StringVar(&bc.weighting, flagWeighting, "", "edge weighting: change or subchange")
	flags.StringSliceVar(&bc.include, flagInclude, nil, "only paths matching these globs")
	flags.StringSliceVar(&bc.exclude, flagExclude, nil, "drop paths matching these globs")
	flags.StringSliceVar(&bc.languages, flagLanguage, nil, "only files of these languages")
	flags.IntVar(&bc.maxFiles, flagMaxFiles, 0, "skip pairing for change-sets with more files (0 = no cap)")
	flags.IntVar(&bc.workers, flagWorkers, 0, "concurrent change-set fetches")
	flags.StringVarP(&bc.output, flagOutput, "o", "", "snapshot path")
	flags.StringVar(&bc.format, flagFormat, "", "snapshot format when the extension is not recognized: json or yaml")
	flags.BoolVar(&bc.compress, flagCompress, false, "LZ4-compress the snapshot")
	flags.StringVar(&bc.sqlite, flagSQLite, "", "also write the graph to this SQLite database")

	return cmd
}

// apply copies every explicitly set flag into cfg.
func (bc *BuildCommand) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	setString := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}

	setString(flagSource, &cfg.Source.Kind, bc.kind)
	setString(flagRepo, &cfg.Source.Repo, bc.repo)
	setString(flagPath, &cfg.Source.Path, bc.path)
	setString(flagRef, &cfg.Source.Ref, bc.ref)
	setString(flagState, &cfg.Source.State, bc.state)
	setString(flagDetail, &cfg.Source.Detail, bc.detail)
	setString(flagWeighting, &cfg.Build.Weighting, bc.weighting)
	setString(flagOutput, &cfg.Output.Path, bc.output)
	setString(flagFormat, &cfg.Output.Format, bc.format)
	setString(flagSQLite, &cfg.Output.SQLite, bc.sqlite)

	if changed(flagMax) {
		cfg.Source.MaxChangeSets = bc.maxSets
	}

	if changed(flagInclude) {
		cfg.Build.Include = bc.include
	}

	if changed(flagExclude) {
		cfg.Build.Exclude = bc.exclude
	}

	if changed(flagLanguage) {
		cfg.Build.Languages = bc.languages
	}

	if changed(flagMaxFiles) {
		cfg.Build.MaxChangeSetFiles = bc.maxFiles
	}

	if changed(flagWorkers) {
		cfg.Build.FetchWorkers = bc.workers
	}

	if changed(flagCompress) {
		cfg.Output.Compress = bc.compress
	}
}

func (bc *BuildCommand) run(cmd *cobra.Command) error {
	cfg, err := bc.global.load()
	if err != nil {
		return err
	}

	bc.apply(cmd, cfg)

	err = cfg.Validate()
	if err != nil {
		return fmt.Errorf("validate flags: %w", err)
	}

	providers, stop, err := startObservability(cfg, observability.ModeCLI, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer stop()

	summary, err := build(cmd.Context(), cfg, providers)
	if err != nil {
		return err
	}

	if !bc.global.Quiet {
		report.WriteBuildSummary(cmd.OutOrStdout(), summary, cfg.Output.Path, report.Options{Color: !color.NoColor})
	}

	return nil
}

// build runs one full construction and writes every configured artifact.
// Nothing is written when the run is interrupted.
func build(ctx context.Context, cfg *config.Config, providers observability.Providers) (pipeline.Summary, error) {
	logger := providers.Logger

	path, codec, err := outputTarget(cfg.Output)
	if err != nil {
		return pipeline.Summary{}, err
	}

	if path != cfg.Output.Path {
		logger.InfoContext(ctx, "output path adjusted to its format", "requested", cfg.Output.Path, "path", path)
		cfg.Output.Path = path
	}

	src, err := source.New(source.Config{
		Kind:          cfg.Source.Kind,
		Repo:          cfg.Source.Repo,
		Ref:           cfg.Source.Ref,
		Path:          cfg.Source.Path,
		State:         cfg.Source.State,
		Detail:        cfg.Source.Detail,
		APIURL:        cfg.Source.APIURL,
		Token:         cfg.Source.Token,
		MaxChangeSets: cfg.Source.MaxChangeSets,
		Timeout:       cfg.Source.Timeout,
	})
	if err != nil {
		return pipeline.Summary{}, err
	}

	filter, err := pathfilter.New(pathfilter.Config{
		Include:      cfg.Build.Include,
		Exclude:      cfg.Build.Exclude,
		Languages:    cfg.Build.Languages,
		SkipVendored: cfg.Build.SkipVendored,
	})
	if err != nil {
		return pipeline.Summary{}, err
	}

	weighting, err := cochange.ParseWeighting(cfg.Build.Weighting)
	if err != nil {
		return pipeline.Summary{}, err
	}

	metrics, err := observability.NewBuildMetrics(providers.Meter)
	if err != nil {
		return pipeline.Summary{}, err
	}

	var listed atomic.Bool

	if cfg.Telemetry.DiagnosticsAddr != "" {
		diag, diagErr := observability.NewDiagnosticsServer(cfg.Telemetry.DiagnosticsAddr, providers.MetricsHandler,
			func(context.Context) error {
				if !listed.Load() {
					return ErrNotReady
				}

				return nil
			})
		if diagErr != nil {
			return pipeline.Summary{}, diagErr
		}

		logger.InfoContext(ctx, "diagnostics listening", "addr", diag.Addr())

		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsShutdownTimeout)
			defer cancel()

			closeErr := diag.Close(closeCtx)
			if closeErr != nil {
				logger.WarnContext(ctx, "diagnostics shutdown failed", "error", closeErr)
			}
		}()
	}

	proc := cochange.NewProcessor(cochange.Options{
		Filter:            filter,
		Logger:            logger,
		Weighting:         weighting,
		MaxChangeSetFiles: cfg.Build.MaxChangeSetFiles,
	})

	runner := pipeline.NewRunner(src, proc, pipeline.Options{
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   providers.Tracer,
		Workers:  cfg.Build.FetchWorkers,
		Progress: progressLogger(ctx, logger, &listed),
	})

	summary, err := runner.Run(ctx)
	if err != nil {
		return summary, err
	}

	snap := snapshot.Export(proc)

	err = snapshot.Save(cfg.Output.Path, codec, snap)
	if err != nil {
		return summary, fmt.Errorf("write snapshot: %w", err)
	}

	if cfg.Output.SQLite != "" {
		err = snapshot.WriteSQLite(ctx, cfg.Output.SQLite, snap)
		if err != nil {
			return summary, err
		}
	}

	logger.InfoContext(ctx, "snapshot written",
		"path", cfg.Output.Path, "nodes", len(snap.Nodes), "edges", len(snap.Edges), "skipped", summary.Skipped())

	return summary, nil
}

const lz4Suffix = ".lz4"

// outputTarget resolves the snapshot path and codec. The codec implied by the
// path's extension wins over output.format; the returned path always carries
// the codec's full extension so the file can be loaded back by name.
func outputTarget(out config.OutputConfig) (string, persist.Codec, error) {
	codec, err := persist.CodecFor(out.Path)
	if errors.Is(err, persist.ErrUnknownFormat) {
		codec, err = persist.CodecByName(out.Format, out.Compress)
		if err != nil {
			return "", nil, err
		}

		return out.Path + codec.Extension(), codec, nil
	}

	if err != nil {
		return "", nil, err
	}

	if _, lz4 := codec.(*persist.LZ4Codec); out.Compress && !lz4 {
		codec = persist.NewLZ4Codec(codec)

		return out.Path + lz4Suffix, codec, nil
	}

	return out.Path, codec, nil
}

func progressLogger(ctx context.Context, logger *slog.Logger, listed *atomic.Bool) func(done, total int) {
	return func(done, total int) {
		listed.Store(true)

		if done%progressLogEvery == 0 || done == total {
			logger.DebugContext(ctx, "build progress", "done", done, "total", total)
		}
	}
}
