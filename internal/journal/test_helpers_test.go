package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmwren/replica/pkg/cache"
	"github.com/jmwren/replica/pkg/entity"
)

// createTestJournal creates a journal backed by a temp file.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// addAction builds an applied ADD_ONE action with its sequence stamped.
func addAction(seq int64, name string, doc entity.Doc) entity.Action {
	return entity.Action{
		Entity:  name,
		Op:      entity.OpAddOne,
		Payload: entity.DocPayload(doc),
		Seq:     seq,
	}
}

// applyAll folds actions through the reducer and journals each transition
// the way a live store does. Returns the final cache.
func applyAll(t *testing.T, j *Journal, reg *entity.Registry, actions ...entity.Action) *entity.Cache {
	t.Helper()
	c := entity.NewCache()
	for _, a := range actions {
		c = cache.Reduce(c, a, reg)
		if err := j.Append(context.Background(), a, c); err != nil {
			t.Fatalf("Append(seq %d) failed: %v", a.Seq, err)
		}
	}
	return c
}
