package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/pkg/version"
)

// NewRootCommand assembles the cochange command tree.
func NewRootCommand() *cobra.Command {
	global := &GlobalOptions{}

	root := &cobra.Command{
		Use:   "cochange",
		Short: "Co-change graphs from version-control history",
		Long: `cochange builds a weighted graph of files that change together.

Commands:
  build     build a snapshot from git, GitHub or JSON Lines change-sets
  serve     serve snapshot files over HTTP
  render    draw a snapshot as an HTML graph
  top       list the strongest couples
  validate  check a snapshot
  mcp       query a snapshot from MCP clients`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	global.bind(root)

	root.AddCommand(
		NewBuildCommand(global),
		NewServeCommand(global),
		NewRenderCommand(global),
		NewTopCommand(global),
		NewValidateCommand(global),
		NewMCPCommand(global),
		newVersionCommand(),
	)

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cochange %s\n", version.String())
		},
	}
}
