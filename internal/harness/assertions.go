package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Key      string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Key != "" {
		fmt.Fprintf(&buf, " [%s]", e.Key)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s\n", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	errs := []string{}
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertOutcome:
		return assertOutcome(result.Snapshot, a)
	case AssertLocation:
		return assertLocation(result.Snapshot, a)
	case AssertDeadLetter:
		return assertDeadLetter(result.Snapshot, a)
	case AssertOpOrder:
		return assertOpOrder(result.Ops, a)
	case AssertCount:
		return assertCount(result.Snapshot, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertOutcome checks the outcome of the last pass that processed the key.
func assertOutcome(s Snapshot, a Assertion) error {
	key := canonical(a.Key)
	var last *OutcomeEntry
	for i := range s.Outcomes {
		if s.Outcomes[i].Key == key {
			last = &s.Outcomes[i]
		}
	}
	if last == nil {
		return &AssertionError{Type: a.Type, Key: key, Expected: a.Outcome, Actual: "record was never processed"}
	}
	if last.Outcome != a.Outcome || (a.Attempts > 0 && last.Attempts != a.Attempts) {
		return &AssertionError{
			Type:     a.Type,
			Key:      key,
			Expected: describeOutcome(a.Outcome, a.Attempts),
			Actual:   fmt.Sprintf("%s after %d attempt(s) in pass %d", last.Outcome, last.Attempts, last.Pass),
		}
	}
	return nil
}

func describeOutcome(outcome string, attempts int) string {
	if attempts == 0 {
		return outcome
	}
	return fmt.Sprintf("%s after %d attempt(s)", outcome, attempts)
}

func assertLocation(s Snapshot, a Assertion) error {
	key := canonical(a.Key)
	inHot, inCold := contains(s.Hot, key), contains(s.Cold, key)
	actual := "none"
	switch {
	case inHot && inCold:
		actual = "both"
	case inHot:
		actual = "hot"
	case inCold:
		actual = "cold"
	}
	if actual != a.Tier {
		return &AssertionError{Type: a.Type, Key: key, Expected: a.Tier, Actual: actual}
	}
	return nil
}

// assertDeadLetter checks the most recent dead-letter entry for the key.
func assertDeadLetter(s Snapshot, a Assertion) error {
	key := canonical(a.Key)
	var last *DeadLetterRow
	for i := range s.DeadLetters {
		if s.DeadLetters[i].Key == key {
			last = &s.DeadLetters[i]
		}
	}
	if last == nil {
		return &AssertionError{Type: a.Type, Key: key, Expected: "status " + a.Status, Actual: "no dead-letter entry"}
	}
	if last.Status != a.Status || (a.Attempts > 0 && last.Attempts != a.Attempts) {
		return &AssertionError{
			Type:     a.Type,
			Key:      key,
			Expected: fmt.Sprintf("status %s, %d attempt(s)", a.Status, a.Attempts),
			Actual:   fmt.Sprintf("status %s, %d attempt(s)", last.Status, last.Attempts),
		}
	}
	return nil
}

// assertOpOrder checks that the listed operations on the key happened in
// order. Other operations may appear in between.
func assertOpOrder(ops []testutil.Op, a Assertion) error {
	k, err := ParseKey(a.Key)
	if err != nil {
		return err
	}
	names := map[string]bool{k.String(): true, record.ColdName(k): true}

	var seen []string
	next := 0
	for _, op := range ops {
		if !names[op.Name] {
			continue
		}
		seen = append(seen, op.Kind)
		if next < len(a.Ops) && op.Kind == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		return &AssertionError{
			Type:     a.Type,
			Key:      k.String(),
			Expected: strings.Join(a.Ops, " → "),
			Actual:   strings.Join(seen, " → "),
		}
	}
	return nil
}

func assertCount(s Snapshot, a Assertion) error {
	var n int
	switch a.Of {
	case "hot":
		n = len(s.Hot)
	case "cold":
		n = len(s.Cold)
	case "dead_letters":
		n = len(s.DeadLetters)
	default:
		// An outcome name: count across passes.
		for _, o := range s.Outcomes {
			if o.Outcome == a.Of {
				n++
			}
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", a.Count, a.Of),
			Actual:   fmt.Sprintf("%d %s", n, a.Of),
		}
	}
	return nil
}

// canonical normalizes a "partition/id" string the way snapshots render it.
func canonical(s string) string {
	k, err := ParseKey(s)
	if err != nil {
		return s
	}
	return k.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
