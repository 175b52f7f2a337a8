package sqlitehot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "hot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(p, id string, ts time.Time, payload string) record.Record {
	return record.Record{Key: record.Key{PartitionKey: p, ID: id}, Timestamp: ts, Payload: []byte(payload)}
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := rec("orders", "42", base.Add(123*time.Nanosecond), `{"total":10}`)

	require.NoError(t, s.Put(ctx, r))

	got, err := s.Get(ctx, r.Key)
	require.NoError(t, err)
	assert.Equal(t, r.Key, got.Key)
	assert.True(t, r.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, r.Payload, got.Payload)

	ok, err := s.Exists(ctx, r.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, r.Key))

	_, err = s.Get(ctx, r.Key)
	assert.True(t, tier.IsNotFound(err))

	err = s.Delete(ctx, r.Key)
	assert.True(t, tier.IsNotFound(err), "second delete reports not found")

	ok, err = s.Exists(ctx, r.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecomposedKeyAddressesComposedRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	decomposed := rec("p", "cafe\u0301", base, `{"v":1}`)
	composed := record.Key{PartitionKey: "p", ID: "caf\u00e9"}

	require.NoError(t, s.Put(ctx, decomposed))

	for _, k := range []record.Key{decomposed.Key, composed} {
		got, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, composed, got.Key)

		ok, err := s.Exists(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	page, err := s.ScanOlderThan(ctx, tier.ScanRequest{Before: base.Add(time.Hour), Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Candidates, 1)
	assert.Equal(t, composed, page.Candidates[0].Key)

	require.NoError(t, s.Delete(ctx, decomposed.Key))
	_, err = s.Get(ctx, composed)
	assert.True(t, tier.IsNotFound(err))
}

func TestPut_ExistingKeyIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("p", "1", base, "first")))
	require.NoError(t, s.Put(ctx, rec("p", "1", base.Add(time.Hour), "second")))

	got, err := s.Get(ctx, record.Key{PartitionKey: "p", ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "first", string(got.Payload))
}

func TestPut_EmptyPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, record.Record{Key: record.Key{PartitionKey: "p", ID: "1"}, Timestamp: base}))
	got, err := s.Get(ctx, record.Key{PartitionKey: "p", ID: "1"})
	require.NoError(t, err)
	assert.NotNil(t, got.Payload)
	assert.Len(t, got.Payload, 0)
}

func TestPut_RejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	err := s.Put(context.Background(), rec("", "1", base, "x"))
	assert.Error(t, err)
}

func TestScanOlderThan_OrderAndCutoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("b", "2", base.Add(2*time.Hour), "")))
	require.NoError(t, s.Put(ctx, rec("a", "9", base.Add(1*time.Hour), "")))
	require.NoError(t, s.Put(ctx, rec("b", "1", base.Add(1*time.Hour), "")))
	require.NoError(t, s.Put(ctx, rec("a", "1", base.Add(10*time.Hour), ""))) // too young

	page, err := s.ScanOlderThan(ctx, tier.ScanRequest{Before: base.Add(5 * time.Hour), Limit: 10})
	require.NoError(t, err)
	assert.True(t, page.Done)

	var got []string
	for _, c := range page.Candidates {
		got = append(got, c.Key.String())
	}
	assert.Equal(t, []string{"a/9", "b/1", "b/2"}, got)
	assert.Equal(t, "b", page.Next.PartitionKey)
	assert.Equal(t, "2", page.Next.ID)
}

func TestScanOlderThan_ResumesWithoutGapsOrRepeats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Many rows share a timestamp so resumption exercises the key tiebreak.
	var want []string
	for i := 0; i < 25; i++ {
		ts := base.Add(time.Duration(i/5) * time.Minute)
		key := fmt.Sprintf("%02d", i)
		require.NoError(t, s.Put(ctx, rec("p", key, ts, "")))
		want = append(want, "p/"+key)
	}

	var got []string
	var cur record.Cursor
	for {
		page, err := s.ScanOlderThan(ctx, tier.ScanRequest{Before: base.Add(time.Hour), After: cur, Limit: 4})
		require.NoError(t, err)
		for _, c := range page.Candidates {
			got = append(got, c.Key.String())
		}
		cur = page.Next
		if page.Done {
			break
		}
	}
	assert.Equal(t, want, got)
}

func TestScanOlderThan_EmptyStore(t *testing.T) {
	s := openTestStore(t)
	page, err := s.ScanOlderThan(context.Background(), tier.ScanRequest{Before: base, Limit: 10})
	require.NoError(t, err)
	assert.True(t, page.Done)
	assert.Empty(t, page.Candidates)
	assert.True(t, page.Next.IsZero())
}

func TestCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, rec("p", fmt.Sprint(i), base, "")))
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestClassify(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	assert.True(t, tier.IsThrottled(classify("put", "p/1", busy)))

	locked := fmt.Errorf("wrapped: %w", sqlite3.Error{Code: sqlite3.ErrLocked})
	assert.True(t, tier.IsThrottled(classify("put", "p/1", locked)))

	io := errors.New("disk I/O error")
	assert.True(t, errors.Is(classify("get", "p/1", io), tier.ErrUnavailable))

	assert.ErrorIs(t, classify("scan", "", context.Canceled), context.Canceled)
}
