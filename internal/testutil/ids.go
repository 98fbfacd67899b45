package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator returns "<prefix>-0001", "<prefix>-0002", ... in order.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal
// mutex. Concurrent callers get distinct ids, but which caller gets which
// id depends on scheduling.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator with the given prefix. An empty
// prefix uses "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// FixedGenerator returns the same id every time. Useful when every event of
// a scenario should share one correlation id.
//
// Thread-safety: FixedGenerator is stateless and safe for concurrent use.
type FixedGenerator struct {
	id string
}

// NewFixedGenerator creates a generator that always returns id. If id is
// empty, Generate() returns "test-correlation-default".
func NewFixedGenerator(id string) *FixedGenerator {
	if id == "" {
		id = "test-correlation-default"
	}
	return &FixedGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedGenerator) Generate() string {
	return g.id
}
