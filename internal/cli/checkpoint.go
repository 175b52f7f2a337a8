package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// CheckpointResult describes a saved scan position.
type CheckpointResult struct {
	Name   string `json:"name"`
	Found  bool   `json:"found"`
	Cursor string `json:"cursor,omitempty"`
	Token  string `json:"token,omitempty"`
}

// Text implements Texter.
func (r CheckpointResult) Text(w io.Writer) {
	if !r.Found {
		fmt.Fprintf(w, "Checkpoint %q: none (next scan starts at the oldest record)\n", r.Name)
		return
	}
	fmt.Fprintf(w, "Checkpoint %q: after %s\n", r.Name, r.Cursor)
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Show or reset the scan checkpoint",
	}
	cmd.PersistentFlags().StringVar(&name, "name", "", "scanner name (default scan.name from the configuration)")

	scanName := func(b *backends) string {
		if name != "" {
			return name
		}
		return b.cfg.Scan.Name
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the saved scan position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, b, err := openState(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer b.closeAndLog()

			n := scanName(b)
			cur, found, err := b.state.LoadCheckpoint(cmd.Context(), n)
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeBackend, "failed to load checkpoint", err)
			}
			res := CheckpointResult{Name: n, Found: found}
			if found {
				res.Cursor = formatCursor(cur)
				res.Token = cur.Token
			}
			return out.Success(res)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the saved scan position",
		Long: `Forget the saved scan position so the next scan starts at the oldest
record. Records already archived are detected and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, b, err := openState(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer b.closeAndLog()

			n := scanName(b)
			if err := b.state.ResetCheckpoint(cmd.Context(), n); err != nil {
				return out.Fail(ExitFailure, ErrCodeBackend, "failed to reset checkpoint", err)
			}
			return out.Success(CheckpointResult{Name: n})
		},
	})
	return cmd
}
