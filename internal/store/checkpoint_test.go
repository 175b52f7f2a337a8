package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coldline/internal/record"
)

func TestCheckpoint_MissingIsNotAnError(t *testing.T) {
	s := createTestStore(t)

	cur, found, err := s.LoadCheckpoint(context.Background(), "default")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, cur.IsZero())
}

func TestCheckpoint_SaveLoadOverwrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := record.Cursor{
		Timestamp:    time.Date(2024, 6, 1, 0, 0, 0, 42, time.UTC),
		PartitionKey: "p",
		ID:           "a",
	}
	require.NoError(t, s.SaveCheckpoint(ctx, "default", first))

	got, found, err := s.LoadCheckpoint(ctx, "default")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, first.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "p", got.PartitionKey)
	assert.Equal(t, "a", got.ID)

	second := record.Cursor{Timestamp: first.Timestamp.Add(time.Hour), PartitionKey: "q", ID: "b", Token: "tok"}
	require.NoError(t, s.SaveCheckpoint(ctx, "default", second))

	got, _, err = s.LoadCheckpoint(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "q", got.PartitionKey)
	assert.Equal(t, "tok", got.Token)

	// Independent names
	_, found, err = s.LoadCheckpoint(ctx, "other")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckpoint_Reset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCheckpoint(ctx, "default", record.Cursor{PartitionKey: "p", ID: "a", Timestamp: time.Now()}))
	require.NoError(t, s.ResetCheckpoint(ctx, "default"))
	require.NoError(t, s.ResetCheckpoint(ctx, "never-saved"))

	_, found, err := s.LoadCheckpoint(ctx, "default")
	require.NoError(t, err)
	assert.False(t, found)
}
