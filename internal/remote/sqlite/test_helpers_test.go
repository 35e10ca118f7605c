package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmwren/replica/pkg/entity"
)

// createTestService opens a service backed by a fresh database file under
// a temp directory. Cleanup closes it.
func createTestService(t *testing.T) *Service {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func heroDoc(id int64, name string) entity.Doc {
	return entity.Doc{
		"id":   entity.Int(id),
		"name": entity.String(name),
	}
}

func mustAdd(t *testing.T, s *Service, entityName string, doc entity.Doc) {
	t.Helper()

	if _, err := s.Add(context.Background(), entityName, doc); err != nil {
		t.Fatalf("Add(%v) failed: %v", doc, err)
	}
}
