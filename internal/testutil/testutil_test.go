package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualClock(t *testing.T) {
	c := NewManualClock(base)
	assert.Equal(t, base, c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, base.Add(time.Hour), c.Now())

	c.Set(base)
	assert.Equal(t, base, c.Now())
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "run-1", NewFixedIDGenerator("run-1").Generate())
	assert.Equal(t, "test-run-default", NewFixedIDGenerator("").Generate())
}

func TestMemHot_ScanPagesInOrder(t *testing.T) {
	h := NewMemHot()
	ctx := context.Background()
	for i := 9; i >= 0; i-- {
		require.NoError(t, h.Put(ctx, record.Record{
			Key:       record.Key{PartitionKey: "p", ID: fmt.Sprint(i)},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	var got []string
	var cur record.Cursor
	for {
		page, err := h.ScanOlderThan(ctx, tier.ScanRequest{Before: base.Add(8 * time.Minute), After: cur, Limit: 3})
		require.NoError(t, err)
		for _, c := range page.Candidates {
			got = append(got, c.Key.ID)
		}
		cur = page.Next
		if page.Done {
			break
		}
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7"}, got)
}

func TestMemHot_PutIsWriteOnce(t *testing.T) {
	h := NewMemHot()
	ctx := context.Background()
	key := record.Key{PartitionKey: "p", ID: "1"}

	require.NoError(t, h.Put(ctx, record.Record{Key: key, Timestamp: base, Payload: []byte("a")}))
	require.NoError(t, h.Put(ctx, record.Record{Key: key, Timestamp: base, Payload: []byte("b")}))

	got, err := h.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got.Payload)

	require.NoError(t, h.Delete(ctx, key))
	assert.True(t, tier.IsNotFound(h.Delete(ctx, key)))
}

func TestFaultyCold_FailsThenSucceeds(t *testing.T) {
	c := NewFaultyCold(NewMemCold())
	ctx := context.Background()
	c.FailPuts("b", 2)

	assert.ErrorIs(t, c.Put(ctx, "b", []byte("x")), tier.ErrUnavailable)
	assert.ErrorIs(t, c.Put(ctx, "b", []byte("x")), tier.ErrUnavailable)
	assert.NoError(t, c.Put(ctx, "b", []byte("x")))
	assert.Equal(t, 3, c.Puts("b"))

	c.FailPuts("x", -1)
	c.ThrottlePuts("x")
	for i := 0; i < 5; i++ {
		assert.True(t, tier.IsThrottled(c.Put(ctx, "x", nil)))
	}
}

func TestFaultyCold_Heal(t *testing.T) {
	c := NewFaultyCold(NewMemCold())
	ctx := context.Background()
	c.FailPuts("a", -1)
	c.FailPuts("b", -1)

	c.Heal("a")
	assert.NoError(t, c.Put(ctx, "a", nil))
	assert.Error(t, c.Put(ctx, "b", nil))

	c.Heal("")
	assert.NoError(t, c.Put(ctx, "b", nil))
}

func TestFaultyCold_Corrupt(t *testing.T) {
	c := NewFaultyCold(NewMemCold())
	ctx := context.Background()
	c.CorruptPuts("k", 1)

	require.NoError(t, c.Put(ctx, "k", []byte{1, 2, 3}))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotEqual(t, []byte{1, 2, 3}, got)

	require.NoError(t, c.Put(ctx, "k", []byte{1, 2, 3}))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestThrottlingCold(t *testing.T) {
	clock := NewManualClock(base)
	c := NewThrottlingCold(NewMemCold(), 2)
	c.now = clock.Now
	ctx := context.Background()

	assert.NoError(t, c.Put(ctx, "a", nil))
	assert.NoError(t, c.Put(ctx, "b", nil))
	assert.True(t, tier.IsThrottled(c.Put(ctx, "c", nil)))

	clock.Advance(time.Second)
	assert.NoError(t, c.Put(ctx, "c", nil))

	accepted, rejected := c.Stats()
	assert.Equal(t, 3, accepted)
	assert.Equal(t, 1, rejected)
}

func TestOpLog(t *testing.T) {
	log := NewOpLog()
	hot := LoggedHot{Hot: NewMemHot(), Log: log}
	cold := LoggedCold{Cold: NewMemCold(), Log: log}
	ctx := context.Background()
	key := record.Key{PartitionKey: "p", ID: "1"}

	require.NoError(t, hot.Put(ctx, record.Record{Key: key, Timestamp: base}))
	require.NoError(t, cold.Put(ctx, "p/1", []byte("x")))
	_, err := cold.Get(ctx, "p/1")
	require.NoError(t, err)
	require.NoError(t, hot.Delete(ctx, key))
	assert.Error(t, hot.Delete(ctx, key))

	ops := log.Ops()
	require.Len(t, ops, 3)
	assert.Equal(t, "cold put", ops[0].Kind)
	assert.Equal(t, "cold get", ops[1].Kind)
	assert.Equal(t, "hot delete", ops[2].Kind)
	assert.Equal(t, "p/1", ops[2].Name)
}
