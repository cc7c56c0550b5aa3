package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/cochange/internal/cochange"
	"github.com/Sumatoshi-tech/cochange/internal/snapshot"
)

// exitCodeValidationFailure is the exit code for an invalid snapshot.
const exitCodeValidationFailure = 2

// ErrInvalidSnapshot is returned by validate after the problems were printed.
var ErrInvalidSnapshot = errors.New("snapshot is invalid")

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidSnapshot):
		return exitCodeValidationFailure
	default:
		return 1
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <snapshot>",
		Short: "Check a snapshot against the schema and the graph invariants",
		Long: `Validate a snapshot in two passes:

  1. the document matches the snapshot JSON schema
  2. the graph decodes: unique paths, edges between known distinct nodes,
     weights that agree with their contributing change-sets

Exits with status 2 when the snapshot is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			global.applyColor()

			return runValidate(cmd.Context(), cmd.OutOrStdout(), args[0], global.Quiet)
		},
	}
}

func runValidate(ctx context.Context, w io.Writer, path string, quiet bool) error {
	data, err := documentJSON(ctx, path)
	if err != nil {
		return err
	}

	err = snapshot.Validate(data)

	var schemaErr *snapshot.SchemaError
	if errors.As(err, &schemaErr) {
		color.New(color.FgRed).Fprintf(w, "Snapshot does not match the schema (%s)\n", path)

		fmt.Fprintf(w, "\nErrors:\n")

		for _, is := range schemaErr.Issues {
			color.New(color.FgRed).Fprintf(w, "  - %s: %s\n", is.Field, is.Description)
		}

		return ErrInvalidSnapshot
	}

	if err != nil {
		return err
	}

	var snap snapshot.Snapshot

	err = json.Unmarshal(data, &snap)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	_, err = snapshot.Decode(snap, cochange.Options{})
	if err != nil {
		color.New(color.FgRed).Fprintf(w, "Snapshot graph is inconsistent (%s)\n", path)
		color.New(color.FgRed).Fprintf(w, "  - %v\n", err)

		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	if !quiet {
		stats := snap.Summarize()

		color.New(color.FgGreen).Fprintf(w, "Snapshot is valid (%s)\n", path)
		color.New(color.FgGreen).Fprintf(w, "  %s files, %s edges, %s renamed, max weight %d, weighted by %s\n",
			humanize.Comma(int64(stats.Nodes)), humanize.Comma(int64(stats.Edges)),
			humanize.Comma(int64(stats.Renamed)), stats.MaxWeight, stats.Weighting)
	}

	return nil
}

// documentJSON returns the snapshot as JSON bytes. Plain JSON files are
// checked as written; other formats are decoded and re-encoded first.
func documentJSON(ctx context.Context, path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		return data, nil
	}

	snap, err := loadSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}

	return data, nil
}
