// Package memory provides a map-backed data service. It is the reference
// implementation of the persistence contract and the deterministic backend
// for scenario runs: reads return key-sorted clones, so no caller ever
// observes map order or shares storage with the service.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jmwren/replica/pkg/entity"
)

// Service stores documents per entity type, guarded by one RW mutex.
type Service struct {
	reg *entity.Registry

	mu     sync.RWMutex
	tables map[string]map[entity.Key]entity.Doc
}

// New returns an empty service. Definitions from reg resolve document keys;
// unregistered types fall back to id-field keys.
func New(reg *entity.Registry) *Service {
	return &Service{
		reg:    reg,
		tables: make(map[string]map[entity.Key]entity.Doc),
	}
}

// Seed loads documents for one entity type, replacing nothing that is
// already present. Returns an error if a document's key cannot be resolved.
func (s *Service) Seed(entityName string, docs ...entity.Doc) error {
	def := s.definition(entityName)

	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.table(entityName)
	for i, doc := range docs {
		if doc == nil {
			return fmt.Errorf("seed %s: document %d is nil", entityName, i)
		}
		key, err := def.SelectID(doc)
		if err != nil {
			return fmt.Errorf("seed %s: document %d: %w", entityName, i, err)
		}
		table[key] = doc.Clone()
	}
	return nil
}

// GetAll returns every document of the type in key order.
func (s *Service) GetAll(ctx context.Context, entityName string) ([]entity.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(entityName, nil), nil
}

// GetByID returns one document by key.
func (s *Service) GetByID(ctx context.Context, entityName string, key entity.Key) (entity.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.tables[entityName][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrNotFound, entityName, key)
	}
	return doc.Clone(), nil
}

// GetWithQuery returns the documents matching every field of q, in key
// order. An empty query matches everything.
func (s *Service) GetWithQuery(ctx context.Context, entityName string, q entity.Query) ([]entity.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(entityName, func(doc entity.Doc) bool { return q.Matches(doc) }), nil
}

// Add stores a new document and echoes the stored form. A key the table
// already holds is rejected.
func (s *Service) Add(ctx context.Context, entityName string, doc entity.Doc) (entity.Doc, error) {
	key, err := s.definition(entityName).SelectID(doc)
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", entityName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.table(entityName)
	if _, dup := table[key]; dup {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrExists, entityName, key)
	}
	table[key] = doc.Clone()
	return doc.Clone(), nil
}

// Update merges a partial into the stored document and echoes the merged
// form. A key the table does not hold is rejected.
func (s *Service) Update(ctx context.Context, entityName string, u entity.Update) (entity.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.table(entityName)
	existing, ok := table[u.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrNotFound, entityName, u.ID)
	}
	merged := existing.Merge(u.Changes)
	table[u.ID] = merged
	return merged.Clone(), nil
}

// Delete removes a document by key. Deleting an absent key succeeds, the
// same way the cache's remove is idempotent.
func (s *Service) Delete(ctx context.Context, entityName string, key entity.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables[entityName], key)
	return nil
}

// Docs returns the current documents of one type in key order. Intended
// for tests and scenario assertions.
func (s *Service) Docs(entityName string) []entity.Doc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(entityName, nil)
}

// Close releases nothing; it exists so every service closes the same way.
func (s *Service) Close() error {
	return nil
}

// table returns the type's map, creating it on first write.
// Callers hold the write lock.
func (s *Service) table(entityName string) map[entity.Key]entity.Doc {
	table, ok := s.tables[entityName]
	if !ok {
		table = make(map[entity.Key]entity.Doc)
		s.tables[entityName] = table
	}
	return table
}

// collect clones matching documents in key order. Callers hold a lock.
func (s *Service) collect(entityName string, match func(entity.Doc) bool) []entity.Doc {
	table := s.tables[entityName]

	keys := make([]entity.Key, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, entity.CompareKeys)

	docs := make([]entity.Doc, 0, len(keys))
	for _, key := range keys {
		doc := table[key]
		if match != nil && !match(doc) {
			continue
		}
		docs = append(docs, doc.Clone())
	}
	return docs
}

func (s *Service) definition(name string) *entity.Definition {
	if s.reg == nil {
		return entity.DefaultDefinition(name)
	}
	return s.reg.DefinitionOrDefault(name)
}
