// Package harness runs archival scenarios against in-memory tiers through
// the real scanner and orchestrator, and checks the end state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: flaky_cold_write
//	description: "A record whose cold write fails twice is archived on the third attempt"
//	now: 2025-06-01T00:00:00Z
//	settings:
//	  threshold_days: 90
//	  chunk_size: 10
//	  max_attempts: 3
//	records:
//	  - key: orders/A
//	    age_days: 120
//	faults:
//	  - key: orders/A
//	    fail_puts: 2
//	steps: [archive]
//	assertions:
//	  - type: outcome
//	    key: orders/A
//	    outcome: archived
//	    attempts: 3
//
// # Assertion Types
//
//   - outcome: last outcome (and optionally attempt count) of a record
//   - location: which tier holds a record: hot, cold, both or none
//   - dead_letter: status (and optionally attempts) of the latest entry
//   - op_order: backend operations on a record happened in this order
//   - count: number of records in a tier, dead letters, or outcomes
//
// # Deterministic Testing
//
// The clock is fixed at the scenario's now, the run ID is the scenario
// name, and candidates are fully buffered before each pass so chunk
// boundaries do not depend on timing. The final Snapshot sorts every list,
// so it can be compared against golden files in testdata/golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/poisoned_record.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
