package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/store"
	"github.com/roach88/coldline/internal/tier"
)

// processChunk drives every record of ch to a terminal outcome, or until
// ctx is cancelled. A failing record is requeued with backoff and never
// holds up its siblings.
func (o *Orchestrator) processChunk(ctx context.Context, ch *Chunk) ChunkReport {
	start := time.Now()
	ch.Status = ChunkDispatched

	n := len(ch.Candidates)
	results := make([]RecordResult, n)
	q := newRetryQueue(n)
	for i, c := range ch.Candidates {
		q.Push(&work{index: i, cand: c, backoff: o.policy.newBackOff()})
	}

	var outstanding atomic.Int64
	outstanding.Store(int64(n))
	done := make(chan struct{})
	if n == 0 {
		close(done)
	}

	finish := func(w *work, res RecordResult) {
		results[w.index] = res
		o.release(w.cand, res.Outcome)
		if outstanding.Add(-1) == 0 {
			close(done)
		}
	}

	var g errgroup.Group
	for i := 0; i < o.recordConcurrency; i++ {
		g.Go(func() error {
			o.drain(ctx, ch, q, done, finish)
			return nil
		})
	}
	_ = g.Wait()

	rep := ChunkReport{RunID: ch.RunID, ChunkID: ch.ID, Results: make([]RecordResult, 0, n)}
	status := ChunkCompleted
	for i, res := range results {
		if res.Outcome == "" {
			// Cancelled before a terminal outcome; stays eligible.
			o.inflight.Release(ch.Candidates[i].Key)
			status = ChunkAbandoned
			continue
		}
		if !res.Outcome.succeeded() && status == ChunkCompleted {
			status = ChunkPartialFailure
		}
		rep.Results = append(rep.Results, res)
	}
	ch.Status = status
	rep.Status = status
	rep.Duration = time.Since(start)

	now := o.now()
	events := make([]Event, 0, len(rep.Results))
	for _, res := range rep.Results {
		recordOutcomes.WithLabelValues(string(res.Outcome)).Inc()
		events = append(events, Event{
			RunID:     ch.RunID,
			ChunkID:   ch.ID,
			Key:       res.Key,
			Outcome:   res.Outcome,
			Attempts:  res.Attempts,
			Reason:    res.Reason,
			Timestamp: now,
		})
	}
	chunkStatuses.WithLabelValues(string(status)).Inc()
	chunkDuration.Observe(rep.Duration.Seconds())
	o.observer.ChunkFinished(rep, events)
	return rep
}

// drain pulls ready records off q until every record is terminal or ctx
// is cancelled.
func (o *Orchestrator) drain(ctx context.Context, ch *Chunk, q *retryQueue, done <-chan struct{}, finish func(*work, RecordResult)) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		w, wait := q.TryPop(time.Now())
		if w != nil {
			if res, terminal := o.step(ctx, ch, w, q); terminal {
				finish(w, res)
			}
			continue
		}

		// Nothing ready: wait for a push, the earliest retry, or the end.
		var timer *time.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-done:
		case <-ctx.Done():
		case <-q.Wait():
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// step makes one attempt at w. It returns terminal=false when the record
// was requeued for retry or the attempt was cut short by cancellation.
func (o *Orchestrator) step(ctx context.Context, ch *Chunk, w *work, q *retryQueue) (RecordResult, bool) {
	if err := o.governor.Wait(ctx); err != nil {
		return RecordResult{}, false
	}

	w.attempts++
	if w.attempts == 1 {
		w.firstSeen = o.now()
	}

	actx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	outcome, err := o.archiveRecord(actx, w)
	cancel()

	if err == nil {
		o.breaker.Record(false)
		o.governor.Success()
		return RecordResult{Key: w.cand.Key, Outcome: outcome, Attempts: w.attempts}, true
	}
	if ctx.Err() != nil {
		// Cancelled, not failed: the record stays eligible.
		w.attempts--
		return RecordResult{}, false
	}

	var re *RecordError
	if !errors.As(err, &re) {
		re = newRecordError(CodeTransient, w.cand.Key, "archive", err)
	}
	re.Attempt = w.attempts

	attemptFailures.WithLabelValues(string(re.Code)).Inc()
	if re.Retryable() {
		o.breaker.Record(true)
	}

	throttled := isThrottle(re)
	if throttled {
		throttleSignals.Inc()
		o.governor.Throttle()
	}

	if re.Retryable() && w.attempts < o.policy.MaxAttempts {
		delay := o.policy.nextDelay(w.backoff, throttled)
		w.readyAt = time.Now().Add(delay)
		o.logger.Debug("record attempt failed, retrying",
			"run", ch.RunID,
			"chunk", ch.ID,
			"partition", w.cand.Key.PartitionKey,
			"id", w.cand.Key.ID,
			"attempt", w.attempts,
			"delay", delay,
			"error", re,
		)
		q.Push(w)
		return RecordResult{}, false
	}

	return o.deadLetter(ctx, ch, w, re), true
}

// archiveRecord runs one attempt of the per-record state machine:
//
//	ELIGIBLE → WRITTEN_COLD → (verified) → DELETED_HOT
//
// The hot copy is deleted only after the cold copy verifies. Any failure
// before that leaves the hot copy untouched.
func (o *Orchestrator) archiveRecord(ctx context.Context, w *work) (Outcome, error) {
	key := w.cand.Key

	rec, err := o.hot.Get(ctx, key)
	if tier.IsNotFound(err) {
		return OutcomeAlreadyArchived, nil
	}
	if err != nil {
		return "", newRecordError(CodeTransient, key, "hot get", err)
	}
	if w.cand.Timestamp.IsZero() {
		w.cand.Timestamp = rec.Timestamp
	}

	body, err := record.EncodeCold(rec)
	if err != nil {
		return "", newRecordError(CodePermanent, key, "encode", err)
	}

	name := record.ColdName(key)
	if err := o.cold.Put(ctx, name, body); err != nil {
		return "", newRecordError(CodeTransient, key, "cold put", err)
	}

	if err := o.verify(ctx, name, rec); err != nil {
		return "", err
	}

	if err := o.hot.Delete(ctx, key); err != nil && !tier.IsNotFound(err) {
		return "", newRecordError(CodeTransient, key, "hot delete", err)
	}
	return OutcomeArchived, nil
}

// verify confirms the cold object is readable and, when content
// verification is on, that it decodes to the same payload.
func (o *Orchestrator) verify(ctx context.Context, name string, rec record.Record) error {
	key := rec.Key
	if !o.verifyContent {
		ok, err := o.cold.Exists(ctx, name)
		if err != nil {
			return newRecordError(CodeTransient, key, "verify", err)
		}
		if !ok {
			return newRecordError(CodeVerificationFailed, key, "verify", errors.New("object missing after put"))
		}
		return nil
	}

	body, err := o.cold.Get(ctx, name)
	if tier.IsNotFound(err) {
		return newRecordError(CodeVerificationFailed, key, "verify", errors.New("object missing after put"))
	}
	if err != nil {
		return newRecordError(CodeTransient, key, "verify", err)
	}
	got, digest, err := record.DecodeCold(body)
	if err != nil {
		return newRecordError(CodeVerificationFailed, key, "verify", err)
	}
	if got.Key.Normalize() != key.Normalize() {
		return newRecordError(CodeVerificationFailed, key, "verify",
			fmt.Errorf("object holds %s", got.Key))
	}
	if want := record.PayloadDigest(rec.Payload); digest != want {
		return newRecordError(CodeVerificationFailed, key, "verify",
			fmt.Errorf("payload digest %s, want %s", digest, want))
	}
	return nil
}

// deadLetter records an exhausted record in the sink. The write itself is
// retried a few times; if it still fails the record ends as failed and its
// watermark sequence is not acknowledged.
func (o *Orchestrator) deadLetter(ctx context.Context, ch *Chunk, w *work, cause *RecordError) RecordResult {
	res := RecordResult{Key: w.cand.Key, Attempts: w.attempts, Reason: cause.Error()}

	if o.sink == nil {
		o.logger.Error("record failed with no dead-letter sink",
			"partition", w.cand.Key.PartitionKey, "id", w.cand.Key.ID, "error", cause)
		res.Outcome = OutcomeFailed
		return res
	}

	now := o.now()
	dl := store.DeadLetter{
		Key:             w.cand.Key,
		RecordTimestamp: w.cand.Timestamp,
		Reason:          res.Reason,
		Attempts:        w.attempts,
		FirstSeen:       w.firstSeen,
		LastSeen:        now,
	}
	if dl.RecordTimestamp.IsZero() {
		dl.RecordTimestamp = w.firstSeen
	}

	b := o.policy.newBackOff()
	var err error
	for i := 0; i < deadLetterWriteAttempts; i++ {
		if _, err = o.sink.WriteDeadLetter(ctx, dl); err == nil {
			break
		}
		if i == deadLetterWriteAttempts-1 {
			break
		}
		t := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		o.logger.Error("dead-letter write failed",
			"partition", w.cand.Key.PartitionKey,
			"id", w.cand.Key.ID,
			"attempts", w.attempts,
			"cause", cause,
			"error", err,
		)
		res.Outcome = OutcomeFailed
		return res
	}

	res.Outcome = OutcomeDeadLettered
	o.observer.DeadLettered(Event{
		RunID:     ch.RunID,
		ChunkID:   ch.ID,
		Key:       w.cand.Key,
		Outcome:   OutcomeDeadLettered,
		Attempts:  w.attempts,
		Reason:    res.Reason,
		Timestamp: now,
	})
	return res
}

// release drops the in-flight claim and reports the candidate and any
// duplicates that joined it to the acker. Failed records are nacked so a
// later pass offers them again.
func (o *Orchestrator) release(c record.Candidate, outcome Outcome) {
	joined := o.inflight.Release(c.Key)
	if o.acker == nil {
		return
	}
	report := o.acker.Ack
	if outcome == OutcomeFailed {
		report = o.acker.Nack
	}
	if c.Seq != 0 {
		report(c.Seq)
	}
	for _, seq := range joined {
		report(seq)
	}
}
