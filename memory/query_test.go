package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tea-party/mnemo/memory"
)

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name string
		q    memory.MemoryQuery
		ok   bool
	}{
		{"empty", memory.MemoryQuery{}, true},
		{"negative limit", memory.MemoryQuery{Limit: -1}, false},
		{"unknown sort", memory.MemoryQuery{Sort: "by_vibes"}, false},
		{"bad block type", memory.MemoryQuery{BlockTypes: []memory.BlockType{"Nope"}}, false},
		{"vector without vector", memory.MemoryQuery{Vector: &memory.VectorQuery{}}, false},
		{"vector ok", memory.MemoryQuery{Vector: &memory.VectorQuery{Vector: []float32{1}}}, true},
		{"vector with relevance sort", memory.MemoryQuery{
			Sort:   memory.SortRelevance,
			Vector: &memory.VectorQuery{Vector: []float32{1}},
		}, true},
		{"vector with newest sort", memory.MemoryQuery{
			Sort:   memory.SortNewestFirst,
			Vector: &memory.VectorQuery{Vector: []float32{1}},
		}, false},
		{"vector with oldest sort", memory.MemoryQuery{
			Sort:   memory.SortOldestFirst,
			Vector: &memory.VectorQuery{Vector: []float32{1}},
		}, false},
	}
	for _, tt := range tests {
		err := tt.q.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: Validate failed: %v", tt.name, err)
		}
		if !tt.ok {
			if !errors.Is(err, memory.ErrValidation) {
				t.Errorf("%s: Validate = %v, want ErrValidation", tt.name, err)
			}
		}
	}
}

func TestEffectiveLimit(t *testing.T) {
	q := memory.MemoryQuery{}
	if got := q.EffectiveLimit(); got != memory.DefaultQueryLimit {
		t.Errorf("default limit = %d", got)
	}

	q = memory.MemoryQuery{Limit: 7}
	if got := q.EffectiveLimit(); got != 7 {
		t.Errorf("explicit limit = %d", got)
	}

	// MaxResults tightens the limit but never widens it.
	q = memory.MemoryQuery{Limit: 50, Vector: &memory.VectorQuery{MaxResults: 10}}
	if got := q.EffectiveLimit(); got != 10 {
		t.Errorf("max results clamp = %d, want 10", got)
	}
	q = memory.MemoryQuery{Limit: 5, Vector: &memory.VectorQuery{MaxResults: 10}}
	if got := q.EffectiveLimit(); got != 5 {
		t.Errorf("limit tighter than max results = %d, want 5", got)
	}

	q = memory.MemoryQuery{Limit: 5000, Vector: &memory.VectorQuery{Vector: []float32{1}}}
	if got := q.EffectiveLimit(); got != memory.MaxVectorResults {
		t.Errorf("vector cap = %d, want %d", got, memory.MaxVectorResults)
	}
}

func TestQueryMatches(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	block := &memory.MemoryBlock{Content: memory.TextContent("The Eiffel Tower is in Paris")}
	block.Type = memory.BlockTypeFact
	block.UserID = "u1"
	block.SessionID = "s1"
	block.CreatedAt = created

	match := func(q memory.MemoryQuery) bool { return q.Matches(block) }

	if !match(memory.MemoryQuery{}) {
		t.Error("empty query must match everything")
	}
	if !match(memory.MemoryQuery{UserID: "u1"}) || match(memory.MemoryQuery{UserID: "u2"}) {
		t.Error("user filter broken")
	}
	if !match(memory.MemoryQuery{SessionID: "s1"}) || match(memory.MemoryQuery{SessionID: "s2"}) {
		t.Error("session filter broken")
	}
	if !match(memory.MemoryQuery{BlockTypes: []memory.BlockType{memory.BlockTypeGoal, memory.BlockTypeFact}}) {
		t.Error("type set must match any member")
	}
	if match(memory.MemoryQuery{BlockTypes: []memory.BlockType{memory.BlockTypeGoal}}) {
		t.Error("type set must exclude non-members")
	}
	if !match(memory.MemoryQuery{ContentContains: "eiffel tower"}) {
		t.Error("contains must be case-insensitive")
	}
	if match(memory.MemoryQuery{ContentContains: "louvre"}) {
		t.Error("contains must reject missing substrings")
	}

	// Both time bounds are inclusive.
	if !match(memory.MemoryQuery{CreatedAfter: &created, CreatedBefore: &created}) {
		t.Error("bounds equal to CreatedAt must match")
	}
	later := created.Add(time.Second)
	if match(memory.MemoryQuery{CreatedAfter: &later}) {
		t.Error("CreatedAfter later than CreatedAt must not match")
	}
	earlier := created.Add(-time.Second)
	if match(memory.MemoryQuery{CreatedBefore: &earlier}) {
		t.Error("CreatedBefore earlier than CreatedAt must not match")
	}

	binary := &memory.MemoryBlock{Content: memory.BinaryContent([]byte("eiffel"), "text/plain")}
	binary.Type = memory.BlockTypeFact
	if (&memory.MemoryQuery{ContentContains: "eiffel"}).Matches(binary) {
		t.Error("binary content must never match a contains filter")
	}
}
