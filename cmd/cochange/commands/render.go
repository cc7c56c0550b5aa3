package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/internal/render"
)

// Render flag names.
const (
	flagTitle     = "title"
	flagMinWeight = "min-weight"
	flagMaxNodes  = "max-nodes"
	flagWidth     = "width"
	flagHeight    = "height"

	stdoutPath = "-"
)

// NewRenderCommand creates the render command.
func NewRenderCommand(global *GlobalOptions) *cobra.Command {
	var (
		output string
		o      render.Options
	)

	cmd := &cobra.Command{
		Use:   "render <snapshot>",
		Short: "Render a snapshot as an interactive HTML graph",
		Long: `Render a snapshot as a force-directed graph page.

Node size follows weighted degree and color follows the detected language.
Use --min-weight and --max-nodes to keep large graphs readable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			global.applyColor()

			snap, err := loadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output == stdoutPath {
				return render.HTML(cmd.OutOrStdout(), snap, o)
			}

			return writeHTML(output, func(f *os.File) error { return render.HTML(f, snap, o) })
		},
	}

	cmd.Flags().StringVarP(&output, flagOutput, "o", "cochange.html", "output file, - for stdout")
	cmd.Flags().StringVar(&o.Title, flagTitle, "", "page title")
	cmd.Flags().IntVar(&o.MinWeight, flagMinWeight, 1, "hide edges lighter than this")
	cmd.Flags().IntVar(&o.MaxNodes, flagMaxNodes, 0, "keep only the most coupled files (0 = all)")
	cmd.Flags().StringVar(&o.Width, flagWidth, "", "canvas width, e.g. 1600px")
	cmd.Flags().StringVar(&o.Height, flagHeight, "", "canvas height, e.g. 900px")

	return cmd
}

func writeHTML(path string, write func(*os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	defer func() {
		err = errors.Join(err, f.Close())
	}()

	return write(f)
}
