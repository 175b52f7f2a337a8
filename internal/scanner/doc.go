// Package scanner finds records eligible for archival and feeds them to the
// archiver.
//
// Three triggers produce candidates:
//   - IntervalTrigger: a periodic scan of the hot tier for records older than
//     the threshold, oldest first, resuming from a saved checkpoint.
//   - KafkaFeed: change notifications for records that aged past the
//     threshold, deduplicated against recent and already archived records.
//   - RequeueTrigger: dead-lettered records an operator marked for requeue.
//
// RunTriggers merges them onto one channel.
//
// # Checkpoints
//
// Scan candidates carry a sequence number from the Tracker. The archiver
// acknowledges each one when it reaches a terminal outcome, and the tracker
// saves the cursor of the highest contiguous acknowledged candidate. Change
// feed and requeue candidates are untracked.
package scanner
