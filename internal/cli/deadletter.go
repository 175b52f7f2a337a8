package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coldline/internal/harness"
	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/store"
)

// DeadLetterView is the CLI rendering of a dead-letter entry.
type DeadLetterView struct {
	Key             record.Key `json:"key"`
	RecordTimestamp time.Time  `json:"record_timestamp"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	Reason          string     `json:"reason"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
	Note            string     `json:"note,omitempty"`
}

func viewOf(dl store.DeadLetter) DeadLetterView {
	return DeadLetterView{
		Key:             dl.Key,
		RecordTimestamp: dl.RecordTimestamp.UTC(),
		Status:          string(dl.Status),
		Attempts:        dl.Attempts,
		Reason:          dl.Reason,
		FirstSeen:       dl.FirstSeen.UTC(),
		LastSeen:        dl.LastSeen.UTC(),
		Note:            dl.Note,
	}
}

// DeadLetterList is the result of deadletter list.
type DeadLetterList struct {
	Entries []DeadLetterView `json:"entries"`
}

// Text implements Texter.
func (l DeadLetterList) Text(w io.Writer) {
	if len(l.Entries) == 0 {
		fmt.Fprintln(w, "No dead letters.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tATTEMPTS\tLAST SEEN\tREASON")
	for _, e := range l.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Key, e.Status, e.Attempts, e.LastSeen.Format(timeFormat), e.Reason)
	}
	tw.Flush()
}

// CountResult reports how many entries an operation affected.
type CountResult struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Text implements Texter.
func (r CountResult) Text(w io.Writer) {
	fmt.Fprintf(w, "%s: %d\n", r.Action, r.Count)
}

// NewDeadLetterCommand creates the deadletter command group.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect and remediate records that failed archival",
	}
	cmd.AddCommand(newDeadLetterListCommand(rootOpts))
	cmd.AddCommand(newDeadLetterRequeueCommand(rootOpts))
	cmd.AddCommand(newDeadLetterResolveCommand(rootOpts))
	return cmd
}

// openState loads the configuration and opens only the state database.
func openState(cmd *cobra.Command, opts *RootOptions) (*OutputFormatter, *backends, error) {
	out := newFormatter(cmd, opts)
	cfg, err := loadConfig(opts, out)
	if err != nil {
		return out, nil, err
	}
	b, err := openBackends(cmd.Context(), cfg, need{state: true})
	if err != nil {
		return out, nil, out.Fail(ExitCommandError, ErrCodeBackend, "failed to open state db", err)
	}
	return out, b, nil
}

func newDeadLetterListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		statuses []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Long: `List dead letters, newest first. By default only entries that still need
attention (open and pending_requeue) are shown.

Examples:
  coldline deadletter list
  coldline deadletter list --status resolved --status requeued --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.DeadLetterFilter{Limit: limit}
			for _, s := range statuses {
				st := store.DeadLetterStatus(s)
				switch st {
				case store.StatusOpen, store.StatusPendingRequeue, store.StatusRequeued, store.StatusResolved:
				default:
					out := newFormatter(cmd, rootOpts)
					return out.Fail(ExitCommandError, ErrCodeArgument, fmt.Sprintf("unknown status %q", s), nil)
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			out, b, err := openState(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer b.closeAndLog()

			entries, err := b.state.ListDeadLetters(cmd.Context(), filter)
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeBackend, "failed to list dead letters", err)
			}
			list := DeadLetterList{Entries: make([]DeadLetterView, 0, len(entries))}
			for _, dl := range entries {
				list.Entries = append(list.Entries, viewOf(dl))
			}
			return out.Success(list)
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to include (open|pending_requeue|requeued|resolved)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to show (0 = all)")
	return cmd
}

func newDeadLetterRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "requeue [partition-key/id ...]",
		Short: "Mark dead letters for another archival attempt",
		Long: `Mark open dead letters for requeue. The running daemon, or the next
coldline archive, claims them and archives the records again with a fresh
attempt budget.

Examples:
  coldline deadletter requeue orders/1001 orders/1002
  coldline deadletter requeue --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				out := newFormatter(cmd, rootOpts)
				return out.Fail(ExitCommandError, ErrCodeArgument, "give either keys or --all", nil)
			}
			keys := make([]record.Key, 0, len(args))
			for _, arg := range args {
				k, err := harness.ParseKey(arg)
				if err != nil {
					out := newFormatter(cmd, rootOpts)
					return out.Fail(ExitCommandError, ErrCodeArgument, "invalid key", err)
				}
				keys = append(keys, k)
			}

			out, b, err := openState(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer b.closeAndLog()

			n, err := b.state.MarkRequeue(cmd.Context(), keys)
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeBackend, "failed to mark dead letters", err)
			}
			return out.Success(CountResult{Action: "marked for requeue", Count: n})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "requeue every open dead letter")
	return cmd
}

func newDeadLetterResolveCommand(rootOpts *RootOptions) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "resolve <partition-key/id>",
		Short: "Close a dead letter without archiving the record",
		Long: `Close the active dead letter for a record with an operator note. The
entry is kept for audit; the record stays in the hot store.

Example:
  coldline deadletter resolve orders/1001 --note "payload corrupt upstream, dropped"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := harness.ParseKey(args[0])
			if err != nil {
				out := newFormatter(cmd, rootOpts)
				return out.Fail(ExitCommandError, ErrCodeArgument, "invalid key", err)
			}

			out, b, err := openState(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer b.closeAndLog()

			err = b.state.Resolve(cmd.Context(), key, note)
			if errors.Is(err, store.ErrDeadLetterNotFound) {
				return out.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no active dead letter for %s", key), nil)
			}
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeBackend, "failed to resolve dead letter", err)
			}
			return out.Success(CountResult{Action: "resolved", Count: 1})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "why the entry is closed (required)")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}
