// Package archiver implements the archival orchestrator: it moves records
// that crossed the age threshold from the hot tier to the cold tier.
//
// ARCHITECTURE:
//
// Candidates arrive on a channel from one or more triggers (periodic scan,
// change feed, dead-letter requeue). The dispatcher cuts them into chunks
// and hands each chunk to one of a fixed pool of workers. Dispatch halts
// while the governor is paused after a throttle signal or while the
// circuit breaker is open.
//
// Chunk lifecycle:
//
//	PENDING → DISPATCHED → COMPLETED | PARTIAL_FAILURE
//	                    ↘ ABANDONED (run cancelled)
//
// Record lifecycle within a chunk:
//
//	ELIGIBLE → WRITTEN_COLD → DELETED_HOT (archived)
//	    ↘ RETRY_QUEUED → ... → DEAD_LETTERED
//
// A record missing from the hot tier is already archived. Cold object names
// derive from the record identity, so rewriting after a partial failure is
// idempotent.
//
// CRITICAL PATTERNS:
//
// Delete after verify: the hot copy is deleted only after the cold copy has
// been read back and its payload digest matched. A reader therefore always
// finds a record in at least one tier.
//
// Containment: per-record failures are retried with jittered exponential
// backoff inside the chunk and then dead-lettered. They never abort a
// sibling record, chunk or the run.
package archiver
