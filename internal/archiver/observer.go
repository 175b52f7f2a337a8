package archiver

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/coldline/internal/record"
)

// Event is the structured record emitted for every record in a finished
// chunk and for every dead-letter write.
type Event struct {
	RunID     string     `json:"run_id"`
	ChunkID   int        `json:"chunk_id"`
	Key       record.Key `json:"key"`
	Outcome   Outcome    `json:"outcome"`
	Attempts  int        `json:"attempts"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Observer receives archival events. Implementations must be safe for
// concurrent use; workers call them from their own goroutines.
type Observer interface {
	DeadLettered(ev Event)
	ChunkFinished(rep ChunkReport, events []Event)
}

// LogObserver writes events through slog.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// DeadLettered logs the dead-letter event at warn level.
func (o LogObserver) DeadLettered(ev Event) {
	o.logger().Warn("record dead-lettered",
		"run", ev.RunID,
		"chunk", ev.ChunkID,
		"partition", ev.Key.PartitionKey,
		"id", ev.Key.ID,
		"attempts", ev.Attempts,
		"reason", ev.Reason,
	)
}

// ChunkFinished logs a summary and one debug line per record.
func (o LogObserver) ChunkFinished(rep ChunkReport, events []Event) {
	log := o.logger()
	level := slog.LevelInfo
	if rep.Status != ChunkCompleted {
		level = slog.LevelWarn
	}
	log.Log(context.Background(), level, "chunk finished",
		"run", rep.RunID,
		"chunk", rep.ChunkID,
		"status", rep.Status,
		"records", len(rep.Results),
		"duration", rep.Duration,
	)
	for _, ev := range events {
		log.Debug("record outcome",
			"run", ev.RunID,
			"chunk", ev.ChunkID,
			"partition", ev.Key.PartitionKey,
			"id", ev.Key.ID,
			"outcome", ev.Outcome,
			"attempts", ev.Attempts,
			"timestamp", ev.Timestamp,
		)
	}
}

// multiObserver fans events out to several observers.
type multiObserver []Observer

func (m multiObserver) DeadLettered(ev Event) {
	for _, o := range m {
		o.DeadLettered(ev)
	}
}

func (m multiObserver) ChunkFinished(rep ChunkReport, events []Event) {
	for _, o := range m {
		o.ChunkFinished(rep, events)
	}
}
