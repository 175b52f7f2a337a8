package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/scanner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// RequeueInterval is how often dead letters marked for requeue are
	// claimed.
	RequeueInterval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the archival daemon",
		Long: `Start the archival daemon.

The daemon scans the hot store every scan.interval, consumes the Kafka
change feed when feed.brokers is set, retries dead letters marked for
requeue, and serves Prometheus metrics on metrics_addr when set.
It stops gracefully on SIGINT or SIGTERM, saving the checkpoint.

Example:
  coldline run --config /etc/coldline/coldline.yaml
  COLDLINE_KAFKA_BROKERS=kafka:9092 coldline run -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.RequeueInterval, "requeue-interval", 10*time.Second, "how often to claim dead letters marked for requeue")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := loadConfig(opts.RootOptions, out)
	if err != nil {
		return err
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	b, err := openBackends(ctx, cfg, need{hot: true, cold: true, state: true})
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeBackend, "failed to open stores", err)
	}
	defer b.closeAndLog()

	logger := slog.Default()
	sc := b.newScanner(false, logger)
	orch := b.newOrchestrator(sc.Tracker(), logger)

	triggers := []scanner.Trigger{
		&scanner.IntervalTrigger{Scanner: sc, Interval: cfg.Scan.Interval, Logger: logger},
		&scanner.RequeueTrigger{Source: b.state, Interval: opts.RequeueInterval, Logger: logger},
	}
	if cfg.Feed.Enabled() {
		feed := scanner.NewKafkaFeed(
			scanner.NewKafkaReader(scanner.FeedConfig{
				Brokers: cfg.Feed.Brokers,
				Topic:   cfg.Feed.Topic,
				GroupID: cfg.Feed.GroupID,
			}),
			b.hot,
			scanner.WithFeedThreshold(cfg.Threshold()),
			scanner.WithFeedLogger(logger),
		)
		defer feed.Close()
		triggers = append(triggers, feed)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	candidates := make(chan record.Candidate, cfg.ChunkSize)
	g.Go(func() error {
		return scanner.RunTriggers(gctx, candidates, triggers...)
	})
	g.Go(func() error {
		_, err := orch.Run(gctx, candidates)
		return err
	})

	slog.Info("daemon starting",
		"hot", cfg.Hot.Driver,
		"cold", cfg.Cold.Driver,
		"scan_interval", cfg.Scan.Interval,
		"feed", cfg.Feed.Enabled(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Archiver started. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	slog.Info("daemon stopped gracefully")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
