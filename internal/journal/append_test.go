package journal

import (
	"context"
	"testing"

	"github.com/jmwren/replica/pkg/entity"
)

func TestAppend_WritesRow(t *testing.T) {
	j := createTestJournal(t)
	doc := entity.D("id", 1, "name", "A")
	after := applyAll(t, j, nil, addAction(1, "hero", doc))

	records, err := j.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, expected 1", len(records))
	}

	rec := records[0]
	if rec.Seq != 1 {
		t.Errorf("Seq = %d, expected 1", rec.Seq)
	}
	if rec.Entity != "hero" {
		t.Errorf("Entity = %q, expected %q", rec.Entity, "hero")
	}
	if rec.Action.Op != entity.OpAddOne {
		t.Errorf("Op = %s, expected %s", rec.Action.Op, entity.OpAddOne)
	}
	if rec.Action.Payload == nil || !entity.Equal(rec.Action.Payload.Doc, doc) {
		t.Errorf("payload doc did not round-trip: %+v", rec.Action.Payload)
	}
	if want := entity.MustActionID(rec.Action); rec.ID != want {
		t.Errorf("ID = %s, expected %s", rec.ID, want)
	}
	if want := entity.MustSnapshotHash(after); rec.SnapshotHash != want {
		t.Errorf("SnapshotHash = %s, expected %s", rec.SnapshotHash, want)
	}
}

func TestAppend_IdempotentOnSeq(t *testing.T) {
	j := createTestJournal(t)
	a := addAction(1, "hero", entity.D("id", 1))
	after := entity.NewCache()

	for i := 0; i < 3; i++ {
		if err := j.Append(context.Background(), a, after); err != nil {
			t.Fatalf("Append() iteration %d failed: %v", i, err)
		}
	}

	count, err := j.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d rows after duplicate appends, expected 1", count)
	}
}

func TestAppend_SeqCollisionKeepsFirstWrite(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	after := entity.NewCache()

	first := addAction(1, "hero", entity.D("id", 1, "name", "first"))
	second := addAction(1, "hero", entity.D("id", 1, "name", "second"))

	if err := j.Append(ctx, first, after); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}
	if err := j.Append(ctx, second, after); err != nil {
		t.Fatalf("conflicting Append() failed: %v", err)
	}

	records, err := j.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, expected 1", len(records))
	}
	name := records[0].Action.Payload.Doc["name"]
	if !entity.Equal(name, entity.String("first")) {
		t.Errorf("seq 1 holds %v, expected the first write to win", name)
	}
}

func TestAppend_ErrorActionRoundTrips(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	a := entity.Action{
		Entity:        "hero",
		Op:            entity.OpSaveAddError,
		Err:           &entity.ActionError{Message: "connection refused"},
		CorrelationID: "c-1",
		Seq:           1,
	}
	if err := j.Append(ctx, a, entity.NewCache()); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	records, err := j.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	rec := records[0]
	if rec.Action.Err == nil || rec.Action.Err.Message != "connection refused" {
		t.Errorf("error did not round-trip: %+v", rec.Action.Err)
	}
	if rec.Action.Payload != nil {
		t.Errorf("error action should carry no payload, got %+v", rec.Action.Payload)
	}
	if rec.CorrelationID != "c-1" {
		t.Errorf("CorrelationID = %q, expected %q", rec.CorrelationID, "c-1")
	}
}

func TestAppend_NilCacheSnapshot(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	if err := j.Append(ctx, addAction(1, "hero", entity.D("id", 1)), nil); err != nil {
		t.Fatalf("Append() with nil cache failed: %v", err)
	}

	records, err := j.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if want := entity.MustSnapshotHash(entity.NewCache()); records[0].SnapshotHash != want {
		t.Errorf("SnapshotHash = %s, expected the empty-cache hash %s", records[0].SnapshotHash, want)
	}
}

func TestAppend_StoresOpWireName(t *testing.T) {
	j := createTestJournal(t)
	a := addAction(1, "hero", entity.D("id", 1))
	if err := j.Append(context.Background(), a, entity.NewCache()); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	var opName string
	err := j.db.QueryRow("SELECT op FROM actions WHERE seq = 1").Scan(&opName)
	if err != nil {
		t.Fatalf("query op failed: %v", err)
	}
	if opName != a.Op.String() {
		t.Errorf("op column = %q, expected %q", opName, a.Op.String())
	}
}

func TestReadEntity_FiltersByType(t *testing.T) {
	j := createTestJournal(t)
	applyAll(t, j, nil,
		addAction(1, "hero", entity.D("id", 1)),
		addAction(2, "villain", entity.D("id", 9)),
		addAction(3, "hero", entity.D("id", 2)),
	)

	records, err := j.ReadEntity(context.Background(), "hero")
	if err != nil {
		t.Fatalf("ReadEntity() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d hero records, expected 2", len(records))
	}
	if records[0].Seq != 1 || records[1].Seq != 3 {
		t.Errorf("hero records out of order: seq %d, %d", records[0].Seq, records[1].Seq)
	}
}

func TestReadAll_EmptyJournal(t *testing.T) {
	j := createTestJournal(t)

	records, err := j.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if records == nil {
		t.Error("ReadAll() returned nil, expected empty slice")
	}
	if len(records) != 0 {
		t.Errorf("got %d records, expected 0", len(records))
	}
}

func TestLastSeq(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	seq, err := j.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() on empty journal failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty journal LastSeq = %d, expected 0", seq)
	}

	applyAll(t, j, nil,
		addAction(5, "hero", entity.D("id", 1)),
		addAction(9, "hero", entity.D("id", 2)),
	)

	seq, err = j.LastSeq(ctx)
	if err != nil {
		t.Fatalf("LastSeq() failed: %v", err)
	}
	if seq != 9 {
		t.Errorf("LastSeq = %d, expected 9", seq)
	}
}
