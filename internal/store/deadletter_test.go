package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coldline/internal/record"
)

func TestWriteDeadLetter_Insert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inserted, err := s.WriteDeadLetter(ctx, createTestDeadLetter("p", "x", 3))
	require.NoError(t, err)
	assert.True(t, inserted)

	entries, err := s.ListDeadLetters(ctx, DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	dl := entries[0]
	assert.Equal(t, record.Key{PartitionKey: "p", ID: "x"}, dl.Key)
	assert.Equal(t, 3, dl.Attempts)
	assert.Equal(t, StatusOpen, dl.Status)
	assert.Equal(t, "cold put: UNAVAILABLE", dl.Reason)
	assert.True(t, dl.FirstSeen.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, dl.RecordTimestamp.Equal(time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)))
}

func TestWriteDeadLetter_NoDuplicateActiveEntry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestDeadLetter("p", "x", 3)
	_, err := s.WriteDeadLetter(ctx, first)
	require.NoError(t, err)

	again := createTestDeadLetter("p", "x", 3)
	again.Reason = "verify: digest mismatch"
	again.LastSeen = first.LastSeen.Add(time.Hour)
	inserted, err := s.WriteDeadLetter(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	entries, err := s.ListDeadLetters(ctx, DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 6, entries[0].Attempts)
	assert.Equal(t, "verify: digest mismatch", entries[0].Reason)
	assert.True(t, entries[0].FirstSeen.Equal(first.FirstSeen), "first_seen must be preserved")
	assert.True(t, entries[0].LastSeen.Equal(again.LastSeen))
}

func TestWriteDeadLetter_InvalidKey(t *testing.T) {
	s := createTestStore(t)
	_, err := s.WriteDeadLetter(context.Background(), createTestDeadLetter("", "x", 1))
	assert.Error(t, err)
}

func TestListDeadLetters_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	entries, err := s.ListDeadLetters(context.Background(), DeadLetterFilter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Len(t, entries, 0)
}

func TestListDeadLetters_OrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		_, err := s.WriteDeadLetter(ctx, createTestDeadLetter("p", id, 1))
		require.NoError(t, err)
	}

	entries, err := s.ListDeadLetters(ctx, DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Append order, not key order
	assert.Equal(t, "c", entries[0].Key.ID)
	assert.Equal(t, "a", entries[1].Key.ID)
	assert.Equal(t, "b", entries[2].Key.ID)

	limited, err := s.ListDeadLetters(ctx, DeadLetterFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRequeueLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteDeadLetter(ctx, createTestDeadLetter("p", "x", 3))
	require.NoError(t, err)
	_, err = s.WriteDeadLetter(ctx, createTestDeadLetter("p", "y", 3))
	require.NoError(t, err)

	n, err := s.MarkRequeue(ctx, []record.Key{{PartitionKey: "p", ID: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Marking twice is a no-op: only open entries move.
	n, err = s.MarkRequeue(ctx, []record.Key{{PartitionKey: "p", ID: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	claimed, err := s.ClaimRequeued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "x", claimed[0].Key.ID)
	assert.Equal(t, StatusRequeued, claimed[0].Status)

	cand := claimed[0].Candidate()
	assert.Equal(t, record.Key{PartitionKey: "p", ID: "x"}, cand.Key)
	assert.Zero(t, cand.Seq)

	// Claimed exactly once
	again, err := s.ClaimRequeued(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, again, 0)

	// A new failure after requeue opens a fresh entry.
	inserted, err := s.WriteDeadLetter(ctx, createTestDeadLetter("p", "x", 3))
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.GetDeadLetter(ctx, record.Key{PartitionKey: "p", ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Equal(t, 3, got.Attempts)

	all, err := s.ListDeadLetters(ctx, DeadLetterFilter{
		Statuses: []DeadLetterStatus{StatusOpen, StatusPendingRequeue, StatusRequeued, StatusResolved},
	})
	require.NoError(t, err)
	assert.Len(t, all, 3, "rows are never deleted")
}

func TestMarkRequeue_All(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := s.WriteDeadLetter(ctx, createTestDeadLetter("p", id, 1))
		require.NoError(t, err)
	}

	n, err := s.MarkRequeue(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := s.ListDeadLetters(ctx, DeadLetterFilter{Statuses: []DeadLetterStatus{StatusPendingRequeue}})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestResolve(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := record.Key{PartitionKey: "p", ID: "x"}

	_, err := s.WriteDeadLetter(ctx, createTestDeadLetter("p", "x", 3))
	require.NoError(t, err)

	require.NoError(t, s.Resolve(ctx, key, "payload corrupt upstream, discarded"))

	got, err := s.GetDeadLetter(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, "payload corrupt upstream, discarded", got.Note)

	err = s.Resolve(ctx, key, "again")
	assert.True(t, errors.Is(err, ErrDeadLetterNotFound))
}

func TestGetDeadLetter_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetDeadLetter(context.Background(), record.Key{PartitionKey: "p", ID: "nope"})
	assert.True(t, errors.Is(err, ErrDeadLetterNotFound))
}
