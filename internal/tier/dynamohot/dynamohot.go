// Package dynamohot implements the hot tier on a DynamoDB table.
//
// The table uses partition_key as its hash key and id as its range key,
// both stored in NFC form. Each item also carries ts (unix nanoseconds) and
// payload (binary).
//
// DynamoDB scans are unordered across pages. ScanOlderThan sorts each page
// oldest-first and resumes from the opaque LastEvaluatedKey carried in the
// cursor token. A completed scan returns a zero cursor so the next pass
// starts over.
package dynamohot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

const backend = "dynamodb"

// API is the subset of the DynamoDB client the adapter uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Options configures the DynamoDB connection.
type Options struct {
	Table    string
	Region   string
	Endpoint string // optional, for DynamoDB Local
}

// Store is a hot tier backed by DynamoDB.
type Store struct {
	db    API
	table string
}

var _ tier.Hot = (*Store)(nil)

type item struct {
	PartitionKey string `dynamodbav:"partition_key"`
	ID           string `dynamodbav:"id"`
	TS           int64  `dynamodbav:"ts"`
	Payload      []byte `dynamodbav:"payload"`
}

// Open loads the default AWS configuration and connects to the table.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return New(client, opts.Table), nil
}

// New wraps an existing client.
func New(db API, table string) *Store {
	return &Store{db: db, table: table}
}

func keyAttrs(key record.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"partition_key": &types.AttributeValueMemberS{Value: key.PartitionKey},
		"id":            &types.AttributeValueMemberS{Value: key.ID},
	}
}

// Get reads the record with a strongly consistent read.
func (s *Store) Get(ctx context.Context, key record.Key) (record.Record, error) {
	key = key.Normalize()
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttrs(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return record.Record{}, classify("get", key.String(), err)
	}
	if len(out.Item) == 0 {
		return record.Record{}, tier.NotFound(backend, "get", key.String())
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return record.Record{}, fmt.Errorf("decode item %s: %w", key, err)
	}
	payload := it.Payload
	if payload == nil {
		payload = []byte{}
	}
	return record.Record{Key: key, Timestamp: time.Unix(0, it.TS).UTC(), Payload: payload}, nil
}

// Put writes the record unless the key already exists.
func (s *Store) Put(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Key = rec.Key.Normalize()
	av, err := attributevalue.MarshalMap(item{
		PartitionKey: rec.Key.PartitionKey,
		ID:           rec.Key.ID,
		TS:           rec.Timestamp.UnixNano(),
		Payload:      rec.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode item %s: %w", rec.Key, err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(partition_key)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return classify("put", rec.Key.String(), err)
	}
	return nil
}

// Delete removes the record, reporting not-found when nothing was deleted.
func (s *Store) Delete(ctx context.Context, key record.Key) error {
	key = key.Normalize()
	out, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          keyAttrs(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return classify("delete", key.String(), err)
	}
	if len(out.Attributes) == 0 {
		return tier.NotFound(backend, "delete", key.String())
	}
	return nil
}

// Exists reports whether the record is present.
func (s *Store) Exists(ctx context.Context, key record.Key) (bool, error) {
	key = key.Normalize()
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.table),
		Key:                  keyAttrs(key),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("partition_key"),
	})
	if err != nil {
		return false, classify("exists", key.String(), err)
	}
	return len(out.Item) > 0, nil
}

// ScanOlderThan reads one scan page filtered to ts < req.Before.
func (s *Store) ScanOlderThan(ctx context.Context, req tier.ScanRequest) (tier.ScanPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}

	in := &dynamodb.ScanInput{
		TableName:            aws.String(s.table),
		Limit:                aws.Int32(int32(limit)),
		ProjectionExpression: aws.String("partition_key, id, ts"),
		FilterExpression:     aws.String("ts < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(req.Before.UnixNano(), 10)},
		},
	}
	if req.After.Token != "" {
		start, err := decodeToken(req.After.Token)
		if err != nil {
			return tier.ScanPage{}, err
		}
		in.ExclusiveStartKey = start
	}

	out, err := s.db.Scan(ctx, in)
	if err != nil {
		return tier.ScanPage{}, classify("scan", "", err)
	}

	var items []item
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return tier.ScanPage{}, fmt.Errorf("decode scan page: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.TS != b.TS {
			return a.TS < b.TS
		}
		if a.PartitionKey != b.PartitionKey {
			return a.PartitionKey < b.PartitionKey
		}
		return a.ID < b.ID
	})

	page := tier.ScanPage{Done: len(out.LastEvaluatedKey) == 0}
	token := ""
	if !page.Done {
		token, err = encodeToken(out.LastEvaluatedKey)
		if err != nil {
			return tier.ScanPage{}, err
		}
	}
	for _, it := range items {
		key := record.Key{PartitionKey: it.PartitionKey, ID: it.ID}
		when := time.Unix(0, it.TS).UTC()
		cur := record.CursorOf(key, when)
		// Resuming from a candidate rescans its page; the archiver skips
		// records already gone from hot.
		cur.Token = req.After.Token
		page.Candidates = append(page.Candidates, record.Candidate{Key: key, Timestamp: when, Cursor: cur})
	}
	if !page.Done {
		if n := len(page.Candidates); n > 0 {
			page.Next = page.Candidates[n-1].Cursor
		}
		page.Next.Token = token
	}
	return page, nil
}

// encodeToken serializes a LastEvaluatedKey. Table keys are strings only.
func encodeToken(key map[string]types.AttributeValue) (string, error) {
	var flat map[string]string
	if err := attributevalue.UnmarshalMap(key, &flat); err != nil {
		return "", fmt.Errorf("encode scan token: %w", err)
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encode scan token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeToken(token string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode scan token: %w", err)
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode scan token: %w", err)
	}
	av, err := attributevalue.MarshalMap(flat)
	if err != nil {
		return nil, fmt.Errorf("decode scan token: %w", err)
	}
	return av, nil
}

var throttleCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"ThrottlingException":                    true,
}

// classify maps DynamoDB error codes onto the tier taxonomy.
func classify(op, name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && throttleCodes[apiErr.ErrorCode()] {
		return tier.Throttled(backend, op, name, err)
	}
	return tier.Unavailable(backend, op, name, err)
}
