package dynamohot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

// fakeTable is an in-memory stand-in for a DynamoDB table. Scan pages in
// insertion order, which is deliberately not timestamp order.
type fakeTable struct {
	order []string
	items map[string]item
	err   error
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]item{}}
}

func fakeKey(av map[string]types.AttributeValue) string {
	var k struct {
		PartitionKey string `dynamodbav:"partition_key"`
		ID           string `dynamodbav:"id"`
	}
	_ = attributevalue.UnmarshalMap(av, &k)
	return k.PartitionKey + "\x00" + k.ID
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	it, ok := f.items[fakeKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	av, _ := attributevalue.MarshalMap(it)
	return &dynamodb.GetItemOutput{Item: av}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	var it item
	if err := attributevalue.UnmarshalMap(in.Item, &it); err != nil {
		return nil, err
	}
	k := it.PartitionKey + "\x00" + it.ID
	if _, ok := f.items[k]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[k] = it
	f.order = append(f.order, k)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	k := fakeKey(in.Key)
	it, ok := f.items[k]
	if !ok {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	delete(f.items, k)
	av, _ := attributevalue.MarshalMap(it)
	return &dynamodb.DeleteItemOutput{Attributes: av}, nil
}

func (f *fakeTable) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	cutoff, _ := strconv.ParseInt(in.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberN).Value, 10, 64)

	var live []string
	for _, k := range f.order {
		if _, ok := f.items[k]; ok {
			live = append(live, k)
		}
	}

	start := 0
	if in.ExclusiveStartKey != nil {
		after := fakeKey(in.ExclusiveStartKey)
		for i, k := range live {
			if k == after {
				start = i + 1
			}
		}
	}

	out := &dynamodb.ScanOutput{}
	end := start + int(aws.ToInt32(in.Limit))
	if end > len(live) {
		end = len(live)
	}
	for _, k := range live[start:end] {
		it := f.items[k]
		if it.TS < cutoff {
			av, _ := attributevalue.MarshalMap(it)
			out.Items = append(out.Items, av)
		}
	}
	if end < len(live) {
		last := f.items[live[end-1]]
		out.LastEvaluatedKey = keyAttrs(record.Key{PartitionKey: last.PartitionKey, ID: last.ID})
	}
	return out, nil
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rec(p, id string, ts time.Time) record.Record {
	return record.Record{Key: record.Key{PartitionKey: p, ID: id}, Timestamp: ts, Payload: []byte(`{"v":1}`)}
}

func TestPutGetDelete(t *testing.T) {
	s := New(newFakeTable(), "records")
	ctx := context.Background()
	r := rec("p", "1", base)

	require.NoError(t, s.Put(ctx, r))

	got, err := s.Get(ctx, r.Key)
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(base))
	assert.Equal(t, r.Payload, got.Payload)

	ok, err := s.Exists(ctx, r.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, r.Key))
	assert.True(t, tier.IsNotFound(s.Delete(ctx, r.Key)))

	_, err = s.Get(ctx, r.Key)
	assert.True(t, tier.IsNotFound(err))
}

func TestDecomposedKeyAddressesComposedRecord(t *testing.T) {
	s := New(newFakeTable(), "records")
	ctx := context.Background()
	decomposed := rec("p", "cafe\u0301", base)
	composed := record.Key{PartitionKey: "p", ID: "caf\u00e9"}

	require.NoError(t, s.Put(ctx, decomposed))

	got, err := s.Get(ctx, composed)
	require.NoError(t, err)
	assert.Equal(t, composed, got.Key)

	got, err = s.Get(ctx, decomposed.Key)
	require.NoError(t, err)
	assert.Equal(t, composed, got.Key)

	ok, err := s.Exists(ctx, composed)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, decomposed.Key))
	assert.True(t, tier.IsNotFound(s.Delete(ctx, composed)))
}

func TestPut_ExistingKeyIsNoop(t *testing.T) {
	table := newFakeTable()
	s := New(table, "records")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, rec("p", "1", base)))
	require.NoError(t, s.Put(ctx, rec("p", "1", base.Add(time.Hour))))

	got, err := s.Get(ctx, record.Key{PartitionKey: "p", ID: "1"})
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(base))
}

func TestScanOlderThan_PagesAndSorts(t *testing.T) {
	s := New(newFakeTable(), "records")
	ctx := context.Background()

	// Inserted newest first.
	for i := 9; i >= 0; i-- {
		require.NoError(t, s.Put(ctx, rec("p", fmt.Sprint(i), base.Add(time.Duration(i)*time.Hour))))
	}

	cutoff := base.Add(5 * time.Hour) // matches 0..4
	var seen []string
	var cur record.Cursor
	pages := 0
	for {
		page, err := s.ScanOlderThan(ctx, tier.ScanRequest{Before: cutoff, After: cur, Limit: 3})
		require.NoError(t, err)
		pages++
		for i := 1; i < len(page.Candidates); i++ {
			assert.False(t, page.Candidates[i].Timestamp.Before(page.Candidates[i-1].Timestamp), "page sorted oldest first")
		}
		for _, c := range page.Candidates {
			seen = append(seen, c.Key.ID)
			assert.Equal(t, cur.Token, c.Cursor.Token, "candidates resume from their page start")
		}
		if page.Done {
			assert.True(t, page.Next.IsZero(), "completed scan restarts from the beginning")
			break
		}
		assert.NotEmpty(t, page.Next.Token)
		cur = page.Next
	}
	assert.Equal(t, 4, pages)
	assert.ElementsMatch(t, []string{"0", "1", "2", "3", "4"}, seen)
}

func TestToken_Roundtrip(t *testing.T) {
	key := keyAttrs(record.Key{PartitionKey: "p/ä", ID: "x y"})
	tok, err := encodeToken(key)
	require.NoError(t, err)

	back, err := decodeToken(tok)
	require.NoError(t, err)
	assert.Equal(t, fakeKey(key), fakeKey(back))

	_, err = decodeToken("!!not-base64")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code      string
		throttled bool
	}{
		{"ProvisionedThroughputExceededException", true},
		{"RequestLimitExceeded", true},
		{"ThrottlingException", true},
		{"InternalServerError", false},
		{"ResourceNotFoundException", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classify("put", "p/1", &smithy.GenericAPIError{Code: tt.code, Message: "boom"})
			assert.Equal(t, tt.throttled, tier.IsThrottled(err))
			if !tt.throttled {
				assert.True(t, errors.Is(err, tier.ErrUnavailable))
			}
		})
	}

	assert.ErrorIs(t, classify("get", "", context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestBackendErrorsAreClassified(t *testing.T) {
	table := newFakeTable()
	table.err = &smithy.GenericAPIError{Code: "ThrottlingException"}
	s := New(table, "records")

	_, err := s.Get(context.Background(), record.Key{PartitionKey: "p", ID: "1"})
	assert.True(t, tier.IsThrottled(err))

	_, err = s.ScanOlderThan(context.Background(), tier.ScanRequest{Before: base})
	assert.True(t, tier.IsThrottled(err))
}

func TestOpen_RequiresTable(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}
