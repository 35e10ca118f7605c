package cache

import (
	"sync"

	"github.com/google/uuid"
)

// TokenSource generates correlation IDs for persistence commands.
// Implemented by UUIDv7Source (production) and FixedSource (tests).
type TokenSource interface {
	Generate() string
}

// UUIDv7Source generates time-sortable UUIDv7 correlation IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so IDs sort by
// command time, which helps when reading journals and traces.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Source struct{}

// Generate returns a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Source) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedSource returns predetermined correlation IDs for tests, enabling
// deterministic traces and golden comparison.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedSource struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedSource creates a source that returns tokens in order.
// Generate panics once all tokens are consumed; a test asking for more
// correlation IDs than it declared is misconfigured.
func NewFixedSource(tokens ...string) *FixedSource {
	return &FixedSource{tokens: tokens}
}

// Generate returns the next predetermined token.
func (s *FixedSource) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.tokens) {
		panic("FixedSource: all tokens exhausted")
	}
	token := s.tokens[s.idx]
	s.idx++
	return token
}
