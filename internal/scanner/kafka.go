package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

// MessageReader is the subset of *kafka.Reader the feed uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FeedConfig locates the change-notification topic.
type FeedConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader opens a consumer-group reader with manual commits.
func NewKafkaReader(cfg FeedConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
}

// Notification is the change-feed message body: a record identity and its
// write timestamp.
type Notification struct {
	PartitionKey string    `json:"partition_key"`
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
}

// KafkaFeed turns change notifications into archival candidates.
//
// A notification is skipped when the record is younger than the threshold
// (the periodic scan picks it up later), when the same identity was emitted
// recently, or when the record is already gone from the hot tier. Offsets
// are committed after the candidate is handed off; a notification lost
// between handoff and archival is covered by the periodic scan.
type KafkaFeed struct {
	reader    MessageReader
	hot       tier.Hot
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger
	seen      *recentKeys
}

// FeedOption configures a KafkaFeed.
type FeedOption func(*KafkaFeed)

// WithFeedThreshold sets the minimum record age for eligibility.
func WithFeedThreshold(d time.Duration) FeedOption {
	return func(f *KafkaFeed) {
		if d > 0 {
			f.threshold = d
		}
	}
}

// WithFeedClock sets the clock ages are computed from.
func WithFeedClock(now func() time.Time) FeedOption {
	return func(f *KafkaFeed) {
		f.now = now
	}
}

// WithFeedLogger sets the logger.
func WithFeedLogger(l *slog.Logger) FeedOption {
	return func(f *KafkaFeed) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFeedDedupeWindow sets how many recent identities are remembered.
func WithFeedDedupeWindow(n int) FeedOption {
	return func(f *KafkaFeed) {
		if n > 0 {
			f.seen = newRecentKeys(n)
		}
	}
}

// NewKafkaFeed creates a feed reading from r. hot may be nil to skip the
// already-archived check.
func NewKafkaFeed(r MessageReader, hot tier.Hot, opts ...FeedOption) *KafkaFeed {
	f := &KafkaFeed{
		reader:    r,
		hot:       hot,
		threshold: DefaultThreshold,
		now:       time.Now,
		logger:    slog.Default(),
		seen:      newRecentKeys(10000),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Trigger.
func (f *KafkaFeed) Name() string { return "kafka-feed" }

// Run implements Trigger. It returns when ctx is cancelled or the reader
// fails.
func (f *KafkaFeed) Run(ctx context.Context, out chan<- record.Candidate) error {
	for {
		m, err := f.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch: %w", err)
		}

		cand, ok := f.admit(ctx, m)
		if ok {
			select {
			case out <- cand:
				feedMessages.WithLabelValues("emitted").Inc()
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := f.commit(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset %d: %w", m.Offset, err)
		}
	}
}

// admit decodes a message and decides whether it yields a candidate.
func (f *KafkaFeed) admit(ctx context.Context, m kafka.Message) (record.Candidate, bool) {
	var n Notification
	if err := json.Unmarshal(m.Value, &n); err != nil {
		f.logger.Warn("dropping malformed notification", "offset", m.Offset, "error", err)
		feedMessages.WithLabelValues("malformed").Inc()
		return record.Candidate{}, false
	}
	key := record.Key{PartitionKey: n.PartitionKey, ID: n.ID}.Normalize()
	if err := key.Validate(); err != nil || n.Timestamp.IsZero() {
		f.logger.Warn("dropping invalid notification", "offset", m.Offset, "key", key.String())
		feedMessages.WithLabelValues("malformed").Inc()
		return record.Candidate{}, false
	}

	if !n.Timestamp.Before(f.now().Add(-f.threshold)) {
		feedMessages.WithLabelValues("too_young").Inc()
		return record.Candidate{}, false
	}
	if !f.seen.Add(key) {
		feedMessages.WithLabelValues("duplicate").Inc()
		return record.Candidate{}, false
	}
	if f.hot != nil {
		exists, err := f.hot.Exists(ctx, key)
		if err == nil && !exists {
			feedMessages.WithLabelValues("already_archived").Inc()
			return record.Candidate{}, false
		}
		// On error the archiver decides.
	}
	return record.Candidate{Key: key, Timestamp: n.Timestamp.UTC()}, true
}

func (f *KafkaFeed) commit(ctx context.Context, m kafka.Message) error {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := f.reader.CommitMessages(cctx, m)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		f.logger.Warn("offset commit timed out", "offset", m.Offset)
		return nil
	}
	return err
}

// Close closes the underlying reader.
func (f *KafkaFeed) Close() error {
	return f.reader.Close()
}

// recentKeys remembers the last n identities in insertion order.
type recentKeys struct {
	set  map[record.Key]struct{}
	ring []record.Key
	next int
}

func newRecentKeys(n int) *recentKeys {
	return &recentKeys{set: make(map[record.Key]struct{}, n), ring: make([]record.Key, 0, n)}
}

// Add records key and reports whether it was new.
func (r *recentKeys) Add(key record.Key) bool {
	if _, ok := r.set[key]; ok {
		return false
	}
	if len(r.ring) < cap(r.ring) {
		r.ring = append(r.ring, key)
	} else {
		delete(r.set, r.ring[r.next])
		r.ring[r.next] = key
		r.next = (r.next + 1) % len(r.ring)
	}
	r.set[key] = struct{}{}
	return true
}
