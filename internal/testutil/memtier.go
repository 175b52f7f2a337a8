package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

// MemHot is an in-memory hot tier. Keys are stored in NFC form.
//
// Thread-safety: all methods are safe for concurrent use.
type MemHot struct {
	mu      sync.Mutex
	records map[record.Key]record.Record
}

var _ tier.Hot = (*MemHot)(nil)

// NewMemHot creates an empty hot tier.
func NewMemHot() *MemHot {
	return &MemHot{records: make(map[record.Key]record.Record)}
}

// Get returns a copy of the stored record.
func (m *MemHot) Get(ctx context.Context, key record.Key) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	key = key.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return record.Record{}, tier.NotFound("memory", "get", key.String())
	}
	r.Payload = append([]byte{}, r.Payload...)
	return r, nil
}

// Put stores rec unless the key exists.
func (m *MemHot) Put(ctx context.Context, rec record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Key = rec.Key.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Key]; ok {
		return nil
	}
	rec.Payload = append([]byte{}, rec.Payload...)
	rec.Timestamp = rec.Timestamp.UTC()
	m.records[rec.Key] = rec
	return nil
}

// Delete removes the record.
func (m *MemHot) Delete(ctx context.Context, key record.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = key.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; !ok {
		return tier.NotFound("memory", "delete", key.String())
	}
	delete(m.records, key)
	return nil
}

// Exists reports whether key is stored.
func (m *MemHot) Exists(ctx context.Context, key record.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = key.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key]
	return ok, nil
}

// ScanOlderThan pages through records in (timestamp, partition, id) order.
func (m *MemHot) ScanOlderThan(ctx context.Context, req tier.ScanRequest) (tier.ScanPage, error) {
	if err := ctx.Err(); err != nil {
		return tier.ScanPage{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}

	m.mu.Lock()
	var matched []record.Cursor
	for k, r := range m.records {
		if !r.Timestamp.Before(req.Before) {
			continue
		}
		cur := record.CursorOf(k, r.Timestamp)
		if !req.After.IsZero() && !cursorLess(req.After, cur) {
			continue
		}
		matched = append(matched, cur)
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return cursorLess(matched[i], matched[j]) })

	page := tier.ScanPage{Next: req.After, Done: len(matched) <= limit}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	for _, cur := range matched {
		key := record.Key{PartitionKey: cur.PartitionKey, ID: cur.ID}
		page.Candidates = append(page.Candidates, record.Candidate{Key: key, Timestamp: cur.Timestamp, Cursor: cur})
		page.Next = cur
	}
	return page, nil
}

// Len returns the number of stored records.
func (m *MemHot) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Keys returns all stored keys in (partition, id) order.
func (m *MemHot) Keys() []record.Key {
	m.mu.Lock()
	keys := make([]record.Key, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sortKeys(keys)
	return keys
}

func cursorLess(a, b record.Cursor) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.PartitionKey != b.PartitionKey {
		return a.PartitionKey < b.PartitionKey
	}
	return a.ID < b.ID
}

func sortKeys(keys []record.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PartitionKey != keys[j].PartitionKey {
			return keys[i].PartitionKey < keys[j].PartitionKey
		}
		return keys[i].ID < keys[j].ID
	})
}

// MemCold is an in-memory cold tier.
//
// Thread-safety: all methods are safe for concurrent use.
type MemCold struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ tier.Cold = (*MemCold)(nil)

// NewMemCold creates an empty cold tier.
func NewMemCold() *MemCold {
	return &MemCold{objects: make(map[string][]byte)}
}

// Get returns a copy of the object body.
func (m *MemCold) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[name]
	if !ok {
		return nil, tier.NotFound("memory", "get", name)
	}
	return append([]byte{}, body...), nil
}

// Put stores the object.
func (m *MemCold) Put(ctx context.Context, name string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte{}, body...)
	return nil
}

// Exists reports whether the object is stored.
func (m *MemCold) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok, nil
}

// Delete removes the object.
func (m *MemCold) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		return tier.NotFound("memory", "delete", name)
	}
	delete(m.objects, name)
	return nil
}

// Names returns all object names, sorted.
func (m *MemCold) Names() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.objects))
	for n := range m.objects {
		names = append(names, n)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// Len returns the number of stored objects.
func (m *MemCold) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
