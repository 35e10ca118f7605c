package cache

import (
	"sync"

	"github.com/jmwren/replica/pkg/entity"
)

// Selectors computes derived views of one entity type's collection, memoized
// on the collection's pointer identity.
//
// The memoization contract: called twice with the same *Collection, a
// selector must not recompute. The reducer upholds the other half by giving
// every real transition a fresh pointer and every semantic no-op the old
// one. Structurally equal but distinct pointers may recompute.
//
// Returned slices are shared with later calls; callers must not mutate them.
//
// Thread-safety: safe for concurrent use; the memo is mutex-guarded.
type Selectors struct {
	def *entity.Definition

	mu           sync.Mutex
	lastAll      *entity.Collection
	all          []entity.Doc
	lastFiltered *entity.Collection
	filtered     []entity.Doc
}

// NewSelectors creates selectors for one entity type.
func NewSelectors(def *entity.Definition) *Selectors {
	return &Selectors{def: def}
}

// All returns the collection's documents in IDs order.
func (s *Selectors) All(col *entity.Collection) []entity.Doc {
	if col == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col == s.lastAll {
		return s.all
	}

	s.all = collectDocs(col)
	s.lastAll = col
	return s.all
}

// Filtered returns the documents selected by the type's filter predicate
// under the collection's current filter pattern. Without a predicate the
// result is identical to All.
func (s *Selectors) Filtered(col *entity.Collection) []entity.Doc {
	if col == nil {
		return nil
	}
	if s.def.FilterFn == nil {
		return s.All(col)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col == s.lastFiltered {
		return s.filtered
	}

	if col != s.lastAll {
		s.all = collectDocs(col)
		s.lastAll = col
	}
	s.filtered = s.def.FilterFn(s.all, col.Filter)
	s.lastFiltered = col
	return s.filtered
}

// IDs returns the collection's ordered keys.
func IDs(col *entity.Collection) []entity.Key {
	if col == nil {
		return nil
	}
	return col.IDs
}

// Loading reports whether a query round-trip is outstanding.
func Loading(col *entity.Collection) bool {
	return col != nil && col.Loading
}

// Filter returns the collection's current filter pattern, nil when unset.
func Filter(col *entity.Collection) entity.Value {
	if col == nil {
		return nil
	}
	return col.Filter
}

// ExtraField reads one additional collection-state field. The second return
// is false when the field is not part of the collection's extra state.
func ExtraField(col *entity.Collection, field string) (entity.Value, bool) {
	if col == nil || col.Extra == nil {
		return nil, false
	}
	v, ok := col.Extra[field]
	return v, ok
}

func collectDocs(col *entity.Collection) []entity.Doc {
	docs := make([]entity.Doc, 0, len(col.IDs))
	for _, id := range col.IDs {
		if doc, ok := col.Entities[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs
}
