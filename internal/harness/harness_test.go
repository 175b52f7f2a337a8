package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioFiles = []string{
	"flaky_cold_write",
	"poisoned_record",
	"corrupted_cold_copy",
}

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range scenarioFiles {
		t.Run(name, func(t *testing.T) {
			scenario := loadTestScenario(t, name)
			assert.Equal(t, name, scenario.Name)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

// Running the same scenario twice produces identical snapshots.
func TestScenarios_Deterministic(t *testing.T) {
	scenario := loadTestScenario(t, "poisoned_record")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(first.Snapshot)
	require.NoError(t, err)
	b, err := MarshalSnapshot(second.Snapshot)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	scenario := loadTestScenario(t, "flaky_cold_write")
	scenario.Assertions = []Assertion{
		{Type: AssertOutcome, Key: "orders/B", Outcome: "archived", Attempts: 1},
		{Type: AssertLocation, Key: "orders/D", Tier: "cold"},
		{Type: AssertOpOrder, Key: "orders/B", Ops: []string{"hot delete", "cold put"}},
		{Type: AssertCount, Of: "archived", Count: 2},
		{Type: AssertDeadLetter, Key: "orders/A", Status: "open"},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "archived after 3 attempt(s)")
	assert.Contains(t, result.Errors[1], "Actual: hot")
	assert.Contains(t, result.Errors[2], "op_order")
	assert.Contains(t, result.Errors[3], "3 archived")
	assert.Contains(t, result.Errors[4], "no dead-letter entry")
}

func TestRun_ExistenceOnlyVerificationAcceptsDamagedCopy(t *testing.T) {
	off := false
	scenario := loadTestScenario(t, "corrupted_cold_copy")
	scenario.Settings.VerifyContent = &off
	scenario.Assertions = []Assertion{
		{Type: AssertOutcome, Key: "orders/A", Outcome: "archived", Attempts: 1},
		{Type: AssertOpOrder, Key: "orders/A", Ops: []string{"cold put", "cold exists", "hot delete"}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
}

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: minimal
description: one record
records:
  - key: p/1
    age_days: 365
assertions:
  - type: location
    key: p/1
    tier: cold
`))
	require.NoError(t, err)
	assert.Equal(t, []string{StepArchive}, s.steps())
	assert.Equal(t, defaultNow, s.now())

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "assertions failed: %v", result.Errors)
	assert.Equal(t, "p/1@2024-06-01T00:00:00Z", result.Snapshot.Checkpoint)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nrecord: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing records",
			yaml: "name: x\ndescription: d\nassertions: [{type: count, of: hot}]\n",
			want: "records list is required",
		},
		{
			name: "bad key",
			yaml: "name: x\ndescription: d\nrecords: [{key: nopartition}]\nassertions: [{type: count, of: hot}]\n",
			want: "want partition/id",
		},
		{
			name: "duplicate key",
			yaml: "name: x\ndescription: d\nrecords: [{key: p/1}, {key: p/1}]\nassertions: [{type: count, of: hot}]\n",
			want: "duplicate key",
		},
		{
			name: "unknown step",
			yaml: "name: x\ndescription: d\nrecords: [{key: p/1}]\nsteps: [purge]\nassertions: [{type: count, of: hot}]\n",
			want: `unknown step "purge"`,
		},
		{
			name: "bad tier",
			yaml: "name: x\ndescription: d\nrecords: [{key: p/1}]\nassertions: [{type: location, key: p/1, tier: warm}]\n",
			want: "tier must be",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nrecords: [{key: p/1}]\nassertions: [{type: trace_contains}]\n",
			want: "unknown assertion type",
		},
		{
			name: "bad now",
			yaml: "name: x\ndescription: d\nnow: yesterday\nrecords: [{key: p/1}]\nassertions: [{type: count, of: hot}]\n",
			want: "now:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("orders/2024/001")
	require.NoError(t, err)
	assert.Equal(t, "orders", k.PartitionKey)
	assert.Equal(t, "2024/001", k.ID)

	_, err = ParseKey("/1")
	assert.Error(t, err)
}
