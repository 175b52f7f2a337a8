package harness

import "github.com/roach88/coldline/internal/testutil"

// Snapshot is the deterministic end state of a scenario. Every list is
// sorted so two runs of the same scenario serialize identically.
type Snapshot struct {
	Scenario    string          `json:"scenario"`
	Passes      []PassSummary   `json:"passes"`
	Outcomes    []OutcomeEntry  `json:"outcomes"`
	Hot         []string        `json:"hot"`
	Cold        []string        `json:"cold"`
	DeadLetters []DeadLetterRow `json:"dead_letters"`
	Checkpoint  string          `json:"checkpoint"`
}

// PassSummary is one archive or requeue step.
type PassSummary struct {
	Step            string `json:"step"`
	Candidates      int    `json:"candidates"`
	Chunks          int    `json:"chunks"`
	PartialChunks   int    `json:"partial_chunks"`
	Archived        int    `json:"archived"`
	AlreadyArchived int    `json:"already_archived"`
	DeadLettered    int    `json:"dead_lettered"`
	Failed          int    `json:"failed"`
}

// OutcomeEntry is the terminal outcome of one record in one pass.
type OutcomeEntry struct {
	Pass     int    `json:"pass"`
	Key      string `json:"key"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
}

// DeadLetterRow is a dead-letter entry with its reason reduced to the
// error code.
type DeadLetterRow struct {
	Key      string `json:"key"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Code     string `json:"code"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Snapshot Snapshot `json:"snapshot"`

	// Ops is the backend operation log, in completion order.
	Ops []testutil.Op `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
