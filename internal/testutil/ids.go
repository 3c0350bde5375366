package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns the same correlation id every time.
//
// Golden output that embeds a correlation id stays byte-identical across runs.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a fixed generator. An empty id becomes
// "test-correlation-id".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-correlation-id"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}

// SequenceIDGenerator returns prefix-1, prefix-2, ...
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDGenerator creates a sequence generator.
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
