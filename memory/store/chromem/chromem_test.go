package chromem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tea-party/mnemo/memory"
	"github.com/tea-party/mnemo/memory/store/chromem"
)

func newStore(t *testing.T) *chromem.Store {
	t.Helper()
	store := chromem.New()
	if err := store.InitializeSchema(context.Background(), 3); err != nil {
		t.Fatalf("InitializeSchema failed: %v", err)
	}
	return store
}

func testBlock(id, userID, text string) *memory.MemoryBlock {
	b := &memory.MemoryBlock{Content: memory.TextContent(text)}
	b.ID = id
	b.Type = memory.BlockTypeFact
	b.UserID = userID
	b.CreatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	b.UpdatedAt = b.CreatedAt
	return b
}

func TestUninitialized(t *testing.T) {
	store := chromem.New()
	if err := store.Put(context.Background(), testBlock("b1", "u1", "x"), nil); !errors.Is(err, memory.ErrSchema) {
		t.Errorf("Put before InitializeSchema = %v, want ErrSchema", err)
	}
}

func TestInitializeSchema_DimensionPinned(t *testing.T) {
	store := newStore(t)
	if err := store.InitializeSchema(context.Background(), 3); err != nil {
		t.Fatalf("repeat InitializeSchema failed: %v", err)
	}
	if err := store.InitializeSchema(context.Background(), 4); !errors.Is(err, memory.ErrSchema) {
		t.Errorf("dimension change = %v, want ErrSchema", err)
	}
}

func TestPutDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	if err := store.Put(ctx, testBlock("dup", "u1", "first"), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, testBlock("dup", "u1", "second"), nil); !errors.Is(err, memory.ErrAlreadyExists) {
		t.Errorf("duplicate Put = %v, want ErrAlreadyExists", err)
	}
}

func TestPutSurvivesIndexFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// An empty id passes the store but is rejected by the vector index. The
	// block must still land in the live map, just without vector candidacy,
	// the same degradation an embedding failure gets.
	if err := store.Put(ctx, testBlock("", "u1", "unindexable"), []float32{1, 0, 0}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Peek(ctx, "")
	if err != nil || got == nil {
		t.Fatalf("Peek after index failure = %v, %v", got, err)
	}

	results, err := store.Query(ctx, &memory.MemoryQuery{
		Vector: &memory.VectorQuery{Vector: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("unindexed block surfaced in vector results: %v", results)
	}
}

func TestVectorQuerySkipsStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.Put(ctx, testBlock("keep", "u1", "keep"), []float32{1, 0, 0}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, testBlock("drop", "u1", "drop"), []float32{0.9, 0.1, 0}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The vector index cannot forget documents; after a delete the stale
	// entry must be filtered out of every result set.
	if _, err := store.Delete(ctx, "drop"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	results, err := store.Query(ctx, &memory.MemoryQuery{
		Vector: &memory.VectorQuery{Vector: []float32{1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "keep" {
		t.Errorf("results = %v, want only the live block", results)
	}
}

func TestStoredBlockIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	block := testBlock("iso", "u1", "before")
	block.Tags = []string{"original"}
	if err := store.Put(ctx, block, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Mutating the caller's value after Put must not leak into the store.
	block.Tags[0] = "mutated"
	block.Content.Text = "after"

	got, err := store.Peek(ctx, "iso")
	if err != nil || got == nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if got.Tags[0] != "original" || got.Content.Text != "before" {
		t.Errorf("stored block shares memory with caller: %+v", got)
	}
}

func TestRelationshipUpsert(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.Put(ctx, testBlock("a", "u1", "a"), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, testBlock("b", "u1", "b"), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	edge := memory.RelationshipEdge{From: "a", To: "b", Type: memory.RelationReferences, Strength: 0.5, CreatedAt: time.Now()}
	if err := store.CreateRelationship(ctx, edge); err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}
	edge.Strength = 0.9
	if err := store.CreateRelationship(ctx, edge); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	related, err := store.FindRelated(ctx, "a", memory.RelationReferences)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(related) != 1 {
		t.Errorf("upsert created %d edges", len(related))
	}
}
