package cache

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Source_ValidFormat(t *testing.T) {
	src := UUIDv7Source{}
	token := src.Generate()

	assert.Equal(t, 36, len(token), "token should be a hyphenated UUID")

	parsed, err := uuid.Parse(token)
	require.NoError(t, err, "token should be a valid UUID")
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Source_Uniqueness(t *testing.T) {
	src := UUIDv7Source{}
	const iterations = 1000

	tokens := make(map[string]bool, iterations)
	for i := 0; i < iterations; i++ {
		token := src.Generate()
		require.False(t, tokens[token], "token %s generated twice", token)
		tokens[token] = true
	}

	assert.Equal(t, iterations, len(tokens))
}

func TestUUIDv7Source_Concurrent(t *testing.T) {
	src := UUIDv7Source{}
	const goroutines = 100

	tokens := make(chan string, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens <- src.Generate()
		}()
	}

	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for token := range tokens {
		require.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
	assert.Equal(t, goroutines, len(seen))
}

func TestFixedSource_Sequential(t *testing.T) {
	src := NewFixedSource("c-1", "c-2", "c-3")

	assert.Equal(t, "c-1", src.Generate())
	assert.Equal(t, "c-2", src.Generate())
	assert.Equal(t, "c-3", src.Generate())
}

func TestFixedSource_PanicsWhenExhausted(t *testing.T) {
	src := NewFixedSource("c-1")

	assert.Equal(t, "c-1", src.Generate())
	assert.Panics(t, func() {
		src.Generate()
	}, "should panic when all tokens are spent")
}

func TestFixedSource_EmptyTokens(t *testing.T) {
	src := NewFixedSource()

	assert.Panics(t, func() {
		src.Generate()
	})
}
