package archiver

import (
	"time"

	"github.com/roach88/coldline/internal/record"
)

// ChunkStatus is the lifecycle position of a chunk.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "PENDING"
	ChunkDispatched ChunkStatus = "DISPATCHED"

	// ChunkCompleted: every record was archived or already archived.
	ChunkCompleted ChunkStatus = "COMPLETED"

	// ChunkPartialFailure: at least one record failed or was dead-lettered.
	ChunkPartialFailure ChunkStatus = "PARTIAL_FAILURE"

	// ChunkAbandoned: the run was cancelled before every record reached a
	// terminal outcome. Unfinished records stay eligible.
	ChunkAbandoned ChunkStatus = "ABANDONED"
)

// Outcome is the terminal result for one record.
type Outcome string

const (
	OutcomeArchived        Outcome = "archived"
	OutcomeAlreadyArchived Outcome = "already-archived"

	// OutcomeDeadLettered: retries exhausted, entry written to the sink.
	OutcomeDeadLettered Outcome = "dead-lettered"

	// OutcomeFailed: retries exhausted and the dead-letter write also failed,
	// or the run was cancelled mid-record.
	OutcomeFailed Outcome = "failed"
)

// succeeded reports whether the outcome leaves the record safely in cold.
func (o Outcome) succeeded() bool {
	return o == OutcomeArchived || o == OutcomeAlreadyArchived
}

// Chunk is a bounded set of candidates dispatched to one worker.
type Chunk struct {
	RunID      string
	ID         int
	Candidates []record.Candidate
	Status     ChunkStatus
}

// RecordResult is the outcome of one record within a chunk.
type RecordResult struct {
	Key      record.Key `json:"key"`
	Outcome  Outcome    `json:"outcome"`
	Attempts int        `json:"attempts"`
	Reason   string     `json:"reason,omitempty"`
}

// ChunkReport summarizes a processed chunk.
type ChunkReport struct {
	RunID    string         `json:"run_id"`
	ChunkID  int            `json:"chunk_id"`
	Status   ChunkStatus    `json:"status"`
	Results  []RecordResult `json:"results"`
	Duration time.Duration  `json:"duration"`
}

// RunReport aggregates a whole run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Chunks         int `json:"chunks"`
	Completed      int `json:"completed"`
	PartialFailure int `json:"partial_failure"`
	Abandoned      int `json:"abandoned"`

	Archived        int `json:"archived"`
	AlreadyArchived int `json:"already_archived"`
	DeadLettered    int `json:"dead_lettered"`
	Failed          int `json:"failed"`
	Duplicates      int `json:"duplicates"`
}

func (r *RunReport) addChunk(rep ChunkReport) {
	r.Chunks++
	switch rep.Status {
	case ChunkCompleted:
		r.Completed++
	case ChunkPartialFailure:
		r.PartialFailure++
	case ChunkAbandoned:
		r.Abandoned++
	}
	for _, res := range rep.Results {
		switch res.Outcome {
		case OutcomeArchived:
			r.Archived++
		case OutcomeAlreadyArchived:
			r.AlreadyArchived++
		case OutcomeDeadLettered:
			r.DeadLettered++
		case OutcomeFailed:
			r.Failed++
		}
	}
}
