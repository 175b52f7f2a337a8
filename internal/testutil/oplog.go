package testutil

import (
	"context"
	"sync"

	"github.com/roach88/coldline/internal/record"
	"github.com/roach88/coldline/internal/tier"
)

// Op is one successful backend operation observed by an OpLog.
type Op struct {
	Seq  int
	Kind string // "cold put", "cold get", "cold exists", "hot delete"
	Name string // cold object name or record key
}

// OpLog records successful tier operations in the order they completed.
//
// Thread-safety: all methods are safe for concurrent use.
type OpLog struct {
	mu  sync.Mutex
	ops []Op
}

// NewOpLog creates an empty log.
func NewOpLog() *OpLog {
	return &OpLog{}
}

func (l *OpLog) add(kind, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, Op{Seq: len(l.ops) + 1, Kind: kind, Name: name})
}

// Ops returns a copy of the log.
func (l *OpLog) Ops() []Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Op(nil), l.ops...)
}

// LoggedHot wraps a hot tier and logs successful deletes.
type LoggedHot struct {
	tier.Hot
	Log *OpLog
}

// Delete delegates and logs on success.
func (h LoggedHot) Delete(ctx context.Context, key record.Key) error {
	if err := h.Hot.Delete(ctx, key); err != nil {
		return err
	}
	h.Log.add("hot delete", key.String())
	return nil
}

// LoggedCold wraps a cold tier and logs successful puts and reads.
type LoggedCold struct {
	tier.Cold
	Log *OpLog
}

// Put delegates and logs on success.
func (c LoggedCold) Put(ctx context.Context, name string, body []byte) error {
	if err := c.Cold.Put(ctx, name, body); err != nil {
		return err
	}
	c.Log.add("cold put", name)
	return nil
}

// Get delegates and logs on success.
func (c LoggedCold) Get(ctx context.Context, name string) ([]byte, error) {
	body, err := c.Cold.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	c.Log.add("cold get", name)
	return body, nil
}

// Exists delegates and logs positive answers.
func (c LoggedCold) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := c.Cold.Exists(ctx, name)
	if err == nil && ok {
		c.Log.add("cold exists", name)
	}
	return ok, err
}
