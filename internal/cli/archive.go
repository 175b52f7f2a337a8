package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/coldline/internal/archiver"
	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/scanner"
)

// ArchiveOptions holds flags for the archive command.
type ArchiveOptions struct {
	*RootOptions
	Full      bool
	NoRequeue bool
}

// ArchiveResult is the outcome of a one-shot archive pass.
type ArchiveResult struct {
	Cutoff     string             `json:"cutoff"`
	From       string             `json:"from,omitempty"`
	Candidates int                `json:"candidates"`
	Requeued   int                `json:"requeued"`
	Report     archiver.RunReport `json:"report"`
}

// Text implements Texter.
func (r ArchiveResult) Text(w io.Writer) {
	from := r.From
	if from == "" {
		from = "beginning"
	}
	fmt.Fprintf(w, "Run %s\n", r.Report.RunID)
	fmt.Fprintf(w, "  cutoff:           %s\n", r.Cutoff)
	fmt.Fprintf(w, "  resumed from:     %s\n", from)
	fmt.Fprintf(w, "  candidates:       %d (+%d requeued)\n", r.Candidates, r.Requeued)
	fmt.Fprintf(w, "  chunks:           %d (%d partial, %d abandoned)\n", r.Report.Chunks, r.Report.PartialFailure, r.Report.Abandoned)
	fmt.Fprintf(w, "  archived:         %d\n", r.Report.Archived)
	fmt.Fprintf(w, "  already archived: %d\n", r.Report.AlreadyArchived)
	fmt.Fprintf(w, "  dead-lettered:    %d\n", r.Report.DeadLettered)
	fmt.Fprintf(w, "  failed:           %d\n", r.Report.Failed)
}

// NewArchiveCommand creates the archive command.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Run one scan and archive every eligible record",
		Long: `Scan the hot store once, resuming from the saved checkpoint, and archive
every record older than the threshold. Dead letters marked for requeue are
retried in the same run.

Exit codes:
  0 - Every candidate reached a terminal outcome
  1 - The run was interrupted or chunks were abandoned
  2 - Command error (bad configuration, store not reachable)

Examples:
  coldline archive
  coldline archive --full
  coldline archive --config coldline.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "scan from the beginning, ignoring the checkpoint")
	cmd.Flags().BoolVar(&opts.NoRequeue, "no-requeue", false, "skip dead letters marked for requeue")

	return cmd
}

func runArchive(ctx context.Context, opts *ArchiveOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := loadConfig(opts.RootOptions, out)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := openBackends(ctx, cfg, need{hot: true, cold: true, state: true})
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBackend, "failed to open stores", err)
	}
	defer b.closeAndLog()

	logger := slog.Default()
	sc := b.newScanner(opts.Full, logger)
	orch := b.newOrchestrator(sc.Tracker(), logger)

	result, err := archiveOnce(ctx, sc, orch, requeueSource(b, opts.NoRequeue), cfg.ChunkSize)
	if ferr := sc.Flush(context.WithoutCancel(ctx)); ferr != nil {
		slog.Warn("failed to save checkpoint", "error", ferr)
	}
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeBackend, "archive run failed", err)
	}
	if err := out.Success(result); err != nil {
		return err
	}
	if result.Report.Abandoned > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d chunk(s) abandoned", result.Report.Abandoned))
	}
	return nil
}

func requeueSource(b *backends, skip bool) *scanner.RequeueTrigger {
	if skip {
		return nil
	}
	return &scanner.RequeueTrigger{Source: b.state}
}

// archiveOnce feeds requeued dead letters and one scan pass into a single
// orchestrator run.
func archiveOnce(ctx context.Context, sc *scanner.Scanner, orch *archiver.Orchestrator, rq *scanner.RequeueTrigger, buffer int) (ArchiveResult, error) {
	in := make(chan record.Candidate, buffer)

	var (
		stats    scanner.Stats
		requeued int
		report   archiver.RunReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(in)
		if rq != nil {
			n, err := rq.Poll(gctx, in)
			requeued = n
			if err != nil {
				return fmt.Errorf("requeue: %w", err)
			}
		}
		s, err := sc.ScanOnce(gctx, in)
		stats = s
		return err
	})
	g.Go(func() error {
		r, err := orch.Run(gctx, in)
		report = r
		return err
	})
	err := g.Wait()

	result := ArchiveResult{
		Cutoff:     stats.Cutoff.UTC().Format(timeFormat),
		Candidates: stats.Candidates,
		Requeued:   requeued,
		Report:     report,
	}
	if !stats.From.IsZero() {
		result.From = formatCursor(stats.From)
	}
	return result, err
}
