package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ColdSuffix is appended to every cold object name.
const ColdSuffix = ".json.zst"

// ErrDigestMismatch is returned by DecodeCold when the envelope payload does
// not hash to the recorded digest.
var ErrDigestMismatch = errors.New("cold envelope digest mismatch")

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls.
var (
	zEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// ColdName derives the cold object name for a key.
//
// The name is a pure function of the normalized key, so every archival
// attempt for the same record writes the same object and retries are
// naturally idempotent. Both parts are path-escaped so ids containing '/'
// cannot collide with other partitions.
func ColdName(k Key) string {
	n := k.Normalize()
	return url.PathEscape(n.PartitionKey) + "/" + url.PathEscape(n.ID) + ColdSuffix
}

// KeyFromColdName is the inverse of ColdName.
func KeyFromColdName(name string) (Key, error) {
	trimmed, ok := strings.CutSuffix(name, ColdSuffix)
	if !ok {
		return Key{}, fmt.Errorf("cold name %q: missing %s suffix", name, ColdSuffix)
	}
	part, id, ok := strings.Cut(trimmed, "/")
	if !ok {
		return Key{}, fmt.Errorf("cold name %q: missing partition separator", name)
	}
	p, err := url.PathUnescape(part)
	if err != nil {
		return Key{}, fmt.Errorf("cold name %q: %w", name, err)
	}
	i, err := url.PathUnescape(id)
	if err != nil {
		return Key{}, fmt.Errorf("cold name %q: %w", name, err)
	}
	return Key{PartitionKey: p, ID: i}, nil
}

// envelope is the JSON document stored (compressed) in the cold tier.
type envelope struct {
	PartitionKey string    `json:"partition_key"`
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SHA256       string    `json:"sha256"`
	Payload      []byte    `json:"payload"`
}

// EncodeCold serializes a record into its cold object body.
func EncodeCold(r Record) ([]byte, error) {
	k := r.Key.Normalize()
	doc, err := json.Marshal(envelope{
		PartitionKey: k.PartitionKey,
		ID:           k.ID,
		Timestamp:    r.Timestamp.UTC(),
		SHA256:       PayloadDigest(r.Payload),
		Payload:      r.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode cold object %s: %w", k, err)
	}
	return zEncoder.EncodeAll(doc, make([]byte, 0, len(doc)/2)), nil
}

// DecodeCold parses a cold object body and checks its digest.
// The returned record's payload is byte-identical to the archived one.
func DecodeCold(body []byte) (Record, string, error) {
	doc, err := zDecoder.DecodeAll(body, nil)
	if err != nil {
		return Record{}, "", fmt.Errorf("decode cold object: decompress: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return Record{}, "", fmt.Errorf("decode cold object: %w", err)
	}
	rec := Record{
		Key:       Key{PartitionKey: env.PartitionKey, ID: env.ID},
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	}
	if rec.Payload == nil {
		rec.Payload = []byte{}
	}
	if PayloadDigest(rec.Payload) != env.SHA256 {
		return rec, env.SHA256, fmt.Errorf("decode cold object %s: %w", rec.Key, ErrDigestMismatch)
	}
	return rec, env.SHA256, nil
}
