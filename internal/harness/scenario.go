package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/coldline/internal/record"
)

// Scenario describes an archival run against in-memory tiers: the records
// in the hot tier, faults injected into the cold tier, the steps to run and
// the expected end state.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the wall clock reading (RFC 3339) the scenario runs at.
	// Defaults to 2025-06-01T00:00:00Z.
	Now string `yaml:"now,omitempty"`

	Settings Settings `yaml:"settings,omitempty"`

	// Records are written to the hot tier before the first step.
	Records []RecordSpec `yaml:"records"`

	// Faults configure cold-tier failures per record.
	Faults []FaultSpec `yaml:"faults,omitempty"`

	// Steps run in order. Defaults to a single "archive".
	//   - archive: scan the hot tier and archive every eligible record
	//   - requeue: requeue every open dead letter and archive them
	//   - heal: clear every injected fault
	Steps []string `yaml:"steps,omitempty"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Settings tune the engine for a scenario. Zero values take defaults.
type Settings struct {
	ThresholdDays int   `yaml:"threshold_days,omitempty"`
	ChunkSize     int   `yaml:"chunk_size,omitempty"`
	Workers       int   `yaml:"workers,omitempty"`
	MaxAttempts   int   `yaml:"max_attempts,omitempty"`
	VerifyContent *bool `yaml:"verify_content,omitempty"`
}

// RecordSpec is a hot-tier record.
type RecordSpec struct {
	// Key is "partition/id".
	Key string `yaml:"key"`

	// AgeDays is the record age at Now.
	AgeDays int `yaml:"age_days"`

	Payload string `yaml:"payload,omitempty"`
}

// FaultSpec injects cold-tier failures for one record.
type FaultSpec struct {
	Key string `yaml:"key"`

	// FailPuts fails the next n cold writes. -1 fails every write.
	FailPuts int `yaml:"fail_puts,omitempty"`

	// Throttle reports injected failures as throttling.
	Throttle bool `yaml:"throttle,omitempty"`

	// CorruptPuts damages the next n cold writes while reporting success.
	CorruptPuts int `yaml:"corrupt_puts,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of outcome, location, dead_letter, op_order, count.
	Type string `yaml:"type"`

	// Key is "partition/id" (outcome, location, dead_letter, op_order).
	Key string `yaml:"key,omitempty"`

	// Outcome is the expected last outcome of Key (outcome).
	Outcome string `yaml:"outcome,omitempty"`

	// Attempts is the expected attempt count (outcome, dead_letter).
	// Zero skips the check.
	Attempts int `yaml:"attempts,omitempty"`

	// Tier is hot, cold, both or none (location).
	Tier string `yaml:"tier,omitempty"`

	// Status is the expected status of the latest entry (dead_letter).
	Status string `yaml:"status,omitempty"`

	// Ops is the expected order of backend operations on Key (op_order).
	// Operations not listed may appear in between.
	Ops []string `yaml:"ops,omitempty"`

	// Of names what is counted: archived, already-archived, dead-lettered,
	// failed, hot, cold or dead_letters (count).
	Of string `yaml:"of,omitempty"`

	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcome    = "outcome"
	AssertLocation   = "location"
	AssertDeadLetter = "dead_letter"
	AssertOpOrder    = "op_order"
	AssertCount      = "count"
)

// Step names.
const (
	StepArchive = "archive"
	StepRequeue = "requeue"
	StepHeal    = "heal"
)

var defaultNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ParseKey parses "partition/id". The id may itself contain slashes.
func ParseKey(s string) (record.Key, error) {
	p, id, ok := strings.Cut(s, "/")
	if !ok {
		return record.Key{}, fmt.Errorf("key %q: want partition/id", s)
	}
	k := record.Key{PartitionKey: p, ID: id}.Normalize()
	if err := k.Validate(); err != nil {
		return record.Key{}, fmt.Errorf("key %q: %w", s, err)
	}
	return k, nil
}

func (s *Scenario) now() time.Time {
	if s.Now == "" {
		return defaultNow
	}
	t, _ := time.Parse(time.RFC3339, s.Now)
	return t.UTC()
}

func (s *Scenario) steps() []string {
	if len(s.Steps) == 0 {
		return []string{StepArchive}
	}
	return s.Steps
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Now != "" {
		if _, err := time.Parse(time.RFC3339, s.Now); err != nil {
			return fmt.Errorf("now: %w", err)
		}
	}
	if len(s.Records) == 0 {
		return fmt.Errorf("records list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[record.Key]bool)
	for i, r := range s.Records {
		k, err := ParseKey(r.Key)
		if err != nil {
			return fmt.Errorf("records[%d]: %w", i, err)
		}
		if seen[k] {
			return fmt.Errorf("records[%d]: duplicate key %s", i, k)
		}
		seen[k] = true
		if r.AgeDays < 0 {
			return fmt.Errorf("records[%d]: age_days must be non-negative", i)
		}
	}
	for i, f := range s.Faults {
		if _, err := ParseKey(f.Key); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
	}
	for i, step := range s.Steps {
		switch step {
		case StepArchive, StepRequeue, StepHeal:
		default:
			return fmt.Errorf("steps[%d]: unknown step %q", i, step)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needKey := func() error {
		if _, err := ParseKey(a.Key); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		return nil
	}

	switch a.Type {
	case AssertOutcome:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for outcome", index)
		}
		return needKey()
	case AssertLocation:
		switch a.Tier {
		case "hot", "cold", "both", "none":
		default:
			return fmt.Errorf("assertions[%d]: tier must be hot, cold, both or none", index)
		}
		return needKey()
	case AssertDeadLetter:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for dead_letter", index)
		}
		return needKey()
	case AssertOpOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for op_order", index)
		}
		return needKey()
	case AssertCount:
		if a.Of == "" {
			return fmt.Errorf("assertions[%d]: of is required for count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
