package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

// Defaults for Scanner options.
const (
	DefaultThreshold = 90 * 24 * time.Hour
	DefaultPageSize  = 1000
	DefaultName      = "default"
)

// Stats summarizes one ScanOnce call.
type Stats struct {
	Cutoff     time.Time
	From       record.Cursor
	Pages      int
	Candidates int

	// Retried counts failed candidates from earlier passes offered again.
	Retried int
}

// Scanner pages through the hot tier and emits every record older than the
// archival threshold, oldest first.
//
// The first scan resumes from the saved checkpoint. Later scans in the same
// process continue from where the previous one stopped, so each pass only
// reads records that crossed the threshold since. The checkpoint itself is
// the tracker's watermark, not the read position: it only covers candidates
// the archiver finished with. Candidates the archiver reported as failed are
// offered again at the start of the next pass.
//
// Thread-safety: ScanOnce calls are serialized.
type Scanner struct {
	hot     tier.Hot
	tracker *Tracker
	logger  *slog.Logger
	now     func() time.Time

	cp        CheckpointStore
	name      string
	threshold time.Duration
	pageSize  int
	full      bool

	mu     sync.Mutex
	loaded bool
	pos    record.Cursor
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithName sets the checkpoint name. Default "default".
func WithName(name string) Option {
	return func(s *Scanner) {
		if name != "" {
			s.name = name
		}
	}
}

// WithThreshold sets the minimum record age for eligibility.
func WithThreshold(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithPageSize sets how many records are requested per hot-tier page.
func WithPageSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock sets the clock the age cutoff is computed from.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		s.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFull starts from the oldest record regardless of any checkpoint and
// never saves one.
func WithFull(full bool) Option {
	return func(s *Scanner) {
		s.full = full
	}
}

// New creates a scanner over hot. cp may be nil, in which case scans always
// start at the oldest record.
func New(hot tier.Hot, cp CheckpointStore, opts ...Option) *Scanner {
	s := &Scanner{
		hot:       hot,
		cp:        cp,
		logger:    slog.Default(),
		now:       time.Now,
		name:      DefaultName,
		threshold: DefaultThreshold,
		pageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.full {
		s.cp = nil
	}
	s.tracker = NewTracker(s.cp, s.name)
	return s
}

// Tracker returns the watermark tracker. Pass it to the archiver as its
// acknowledger.
func (s *Scanner) Tracker() *Tracker {
	return s.tracker
}

// Cutoff returns the current eligibility cutoff.
func (s *Scanner) Cutoff() time.Time {
	return s.now().Add(-s.threshold).UTC()
}

// ScanOnce first re-emits candidates that failed in earlier passes, then
// every currently eligible record after the scan position, to out. It blocks
// while out is full, so a slow consumer slows the scan.
func (s *Scanner) ScanOnce(ctx context.Context, out chan<- record.Candidate) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if s.cp != nil {
			cur, found, err := s.cp.LoadCheckpoint(ctx, s.name)
			if err != nil {
				return Stats{}, fmt.Errorf("scan %q: %w", s.name, err)
			}
			if found {
				s.pos = cur
				s.logger.Info("resuming scan from checkpoint", "scan", s.name, "cursor_ts", cur.Timestamp, "cursor_key", cur.PartitionKey+"/"+cur.ID)
			}
		}
		s.loaded = true
	}

	stats := Stats{Cutoff: s.Cutoff(), From: s.pos}
	retry := s.tracker.TakeFailed()
	for i, c := range retry {
		select {
		case out <- c:
			stats.Retried++
			retriedCandidates.Inc()
		case <-ctx.Done():
			for _, rest := range retry[i:] {
				s.tracker.Nack(rest.Seq)
			}
			return stats, ctx.Err()
		}
	}

	for {
		page, err := s.hot.ScanOlderThan(ctx, tier.ScanRequest{
			Before: stats.Cutoff,
			After:  s.pos,
			Limit:  s.pageSize,
		})
		if err != nil {
			return stats, fmt.Errorf("scan %q page %d: %w", s.name, stats.Pages+1, err)
		}
		stats.Pages++

		for _, c := range page.Candidates {
			c.Seq = s.tracker.Emit(c.Cursor)
			select {
			case out <- c:
				stats.Candidates++
				scannedCandidates.Inc()
			case <-ctx.Done():
				return stats, ctx.Err()
			}
		}
		s.pos = page.Next

		if err := s.tracker.Flush(ctx); err != nil {
			s.logger.Warn("checkpoint save failed", "scan", s.name, "error", err)
		}
		if page.Done {
			break
		}
	}

	s.logger.Debug("scan pass finished",
		"scan", s.name,
		"cutoff", stats.Cutoff,
		"pages", stats.Pages,
		"candidates", stats.Candidates,
		"retried", stats.Retried,
	)
	return stats, nil
}

// Flush saves the watermark if it moved.
func (s *Scanner) Flush(ctx context.Context) error {
	return s.tracker.Flush(ctx)
}
