package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/internal/mcp"
	"github.com/Sumatoshi-tech/cochange/internal/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp <snapshot>",
		Short: "Start an MCP server over a snapshot for AI agents",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The server loads one snapshot and exposes it as tools:
  - cochange_neighbors: files most often changed together with a file
  - cochange_weight:    co-change weight between two files
  - cochange_summary:   graph counters and the strongest couples

Logs are written as JSON to stderr; stdout carries the protocol.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}

			cfg.Logging.JSON = true

			providers, stop, err := startObservability(cfg, observability.ModeMCP, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer stop()

			snap, err := loadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			red, err := observability.NewREDMetrics(providers.Meter)
			if err != nil {
				return err
			}

			srv, err := mcp.NewServer(snap, mcp.ServerDeps{Logger: providers.Logger, Metrics: red, Tracer: providers.Tracer})
			if err != nil {
				return err
			}

			providers.Logger.InfoContext(cmd.Context(), "mcp server starting",
				"snapshot", args[0], "tools", srv.ListToolNames())

			return srv.Run(cmd.Context())
		},
	}
}
