// Package testutil provides deterministic sources for scenario runs and tests.
package testutil

import (
	"fmt"
	"sync"

	"github.com/jmwren/replica/pkg/cache"
)

// SequenceSource generates correlation IDs from a fixed prefix and a counter.
//
// Unlike cache.FixedSource, which panics once its declared tokens run out,
// SequenceSource never exhausts. Scenarios do not have to know up front how
// many persistence commands they will issue; every run of the same scenario
// still produces the same IDs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceSource struct {
	mu     sync.Mutex
	prefix string
	n      int
}

var _ cache.TokenSource = (*SequenceSource)(nil)

// NewSequenceSource creates a source generating "<prefix>-0001",
// "<prefix>-0002", and so on. An empty prefix defaults to "cmd".
func NewSequenceSource(prefix string) *SequenceSource {
	if prefix == "" {
		prefix = "cmd"
	}
	return &SequenceSource{prefix: prefix}
}

// Generate returns the next correlation ID in the sequence.
func (s *SequenceSource) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}

// Reset restarts the counter so a rerun of the same scenario produces the
// same IDs again.
func (s *SequenceSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
