package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/internal/config"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
	"github.com/Sumatoshi-tech/cochange/internal/server"
)

// Serve flag names.
const (
	flagAddr  = "addr"
	flagDir   = "dir"
	flagIndex = "index"
)

// NewServeCommand creates the serve command.
func NewServeCommand(global *GlobalOptions) *cobra.Command {
	var (
		addr, dir, index string
		workers          int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve snapshot files over HTTP",
		Long: `Serve completed snapshots from a directory.

  GET /            the index snapshot
  GET /<name>.json a named snapshot
  GET /healthz     liveness
  GET /readyz      readiness (the index snapshot exists)
  GET /metrics     Prometheus metrics

Requests are handled by a fixed-size worker pool. The server stops
gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}

			changed := cmd.Flags().Changed
			if changed(flagAddr) {
				cfg.Server.Addr = addr
			}

			if changed(flagDir) {
				cfg.Server.Dir = dir
			}

			if changed(flagIndex) {
				cfg.Server.Index = index
			}

			if changed(flagWorkers) {
				cfg.Server.Workers = workers
			}

			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&addr, flagAddr, "", "listen address (default "+config.DefaultServerAddr+")")
	cmd.Flags().StringVar(&dir, flagDir, "", "snapshot directory")
	cmd.Flags().StringVar(&index, flagIndex, "", "snapshot served at /")
	cmd.Flags().IntVar(&workers, flagWorkers, 0, "request worker pool size")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	err := cfg.Validate()
	if err != nil {
		return err
	}

	providers, stop, err := startObservability(cfg, observability.ModeServe, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer stop()

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		Dir:          cfg.Server.Dir,
		Index:        cfg.Server.Index,
		Workers:      cfg.Server.Workers,
		CacheEntries: cfg.Server.CacheEntries,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, server.Deps{
		Logger:         providers.Logger,
		Tracer:         providers.Tracer,
		RED:            red,
		MetricsHandler: providers.MetricsHandler,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.ListenAndServe(cmd.Context())
}
