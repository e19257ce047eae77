package testutil

import (
	"fmt"
	"sync"
)

// FixedIDs generates predictable identifiers: "<prefix>-0001", "<prefix>-0002", ...
//
// Golden traces embed task and session ids, so the same scenario run with a
// fresh FixedIDs produces byte-identical output.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDs creates a generator. An empty prefix becomes "id".
func NewFixedIDs(prefix string) *FixedIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &FixedIDs{prefix: prefix}
}

// NewID returns the next identifier in sequence.
//
// Implements model.IDGenerator.
func (g *FixedIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *FixedIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
