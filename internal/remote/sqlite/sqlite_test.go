package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmwren/replica/pkg/cache"
	"github.com/jmwren/replica/pkg/entity"
)

var _ cache.DataService = (*Service)(nil)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/directory/test.db", nil)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_SetsUserVersion(t *testing.T) {
	s := createTestService(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to read user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Service{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() with nil db failed: %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	mustAdd(t, s, "hero", heroDoc(1, "Ahsoka"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	doc, err := reopened.GetByID(ctx, "hero", entity.IntKey(1))
	if err != nil {
		t.Fatalf("GetByID() after reopen failed: %v", err)
	}
	if !entity.Equal(doc["name"], entity.String("Ahsoka")) {
		t.Errorf("name = %v, want Ahsoka", doc["name"])
	}
}

func TestKeyKindsStayDistinct(t *testing.T) {
	s := createTestService(t)
	ctx := context.Background()

	intDoc := entity.Doc{"id": entity.Int(1), "name": entity.String("by-int")}
	strDoc := entity.Doc{"id": entity.String("1"), "name": entity.String("by-string")}

	mustAdd(t, s, "hero", intDoc)
	// A string key with the same digits must not collide with the int key.
	mustAdd(t, s, "hero", strDoc)

	got, err := s.GetByID(ctx, "hero", entity.IntKey(1))
	if err != nil {
		t.Fatalf("GetByID(IntKey) failed: %v", err)
	}
	if !entity.Equal(got["name"], entity.String("by-int")) {
		t.Errorf("int-keyed doc name = %v, want by-int", got["name"])
	}

	got, err = s.GetByID(ctx, "hero", entity.StringKey("1"))
	if err != nil {
		t.Fatalf("GetByID(StringKey) failed: %v", err)
	}
	if !entity.Equal(got["name"], entity.String("by-string")) {
		t.Errorf("string-keyed doc name = %v, want by-string", got["name"])
	}
}
