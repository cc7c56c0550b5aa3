package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/internal/report"
)

// Top flag names and formats.
const (
	flagFile  = "file"
	flagLimit = "limit"

	formatTable = "table"
	formatJSON  = "json"

	defaultTopLimit = 20
)

// ErrUnknownOutputFormat is returned for a --format other than table or json.
var ErrUnknownOutputFormat = errors.New("format must be table or json")

// NewTopCommand creates the top command.
func NewTopCommand(global *GlobalOptions) *cobra.Command {
	var (
		format string
		o      report.Options
	)

	cmd := &cobra.Command{
		Use:   "top <snapshot>",
		Short: "List the most strongly coupled file pairs",
		Long: `List snapshot edges by descending weight.

With --file only the pairs involving that file are shown; a former path of a
renamed file is accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			global.applyColor()

			if format != formatTable && format != formatJSON {
				return fmt.Errorf("%w: %q", ErrUnknownOutputFormat, format)
			}

			snap, err := loadSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			couples, err := report.TopCouples(snap, o)
			if err != nil {
				return err
			}

			if format == formatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(couples)
			}

			o.Color = !color.NoColor
			report.WriteCouples(cmd.OutOrStdout(), couples, snap.Summarize(), o)

			return nil
		},
	}

	cmd.Flags().StringVar(&o.File, flagFile, "", "only pairs involving this file")
	cmd.Flags().IntVarP(&o.Limit, flagLimit, "n", defaultTopLimit, "maximum pairs (0 = all)")
	cmd.Flags().StringVar(&format, flagFormat, formatTable, "output format: table or json")

	return cmd
}
