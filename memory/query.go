package memory

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultQueryLimit applies when a query does not set Limit.
	DefaultQueryLimit = 100

	// MaxVectorResults bounds a vector scan regardless of what the caller
	// requested, keeping worst-case latency predictable.
	MaxVectorResults = 1000
)

// SortOrder controls result ordering on the structured query path.
type SortOrder string

const (
	SortNewestFirst SortOrder = "newest_first"
	SortOldestFirst SortOrder = "oldest_first"
	SortRelevance   SortOrder = "relevance"
)

// VectorQuery requests cosine-similarity search. Exactly one of the two
// query paths runs per call: setting Vector on a MemoryQuery selects the
// vector path and the structured fields become pre-filters.
type VectorQuery struct {
	// Vector must match the schema's declared embedding dimension.
	Vector []float32

	// MinRelevance drops results whose similarity falls below it.
	MinRelevance float64

	// MaxResults caps the result count. The engine enforces
	// MaxVectorResults on top of it regardless of the caller's value.
	MaxResults int
}

// MemoryQuery selects blocks either by structured filters or, when Vector is
// set, by embedding similarity with the structured fields as pre-filters.
// Zero values mean "any".
type MemoryQuery struct {
	UserID          string
	SessionID       string
	BlockTypes      []BlockType
	ContentContains string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Limit           int
	Sort            SortOrder
	Vector          *VectorQuery
}

// Validate rejects malformed queries before they reach a backend.
func (q *MemoryQuery) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrValidation, q.Limit)
	}
	switch q.Sort {
	case "", SortNewestFirst, SortOldestFirst, SortRelevance:
	default:
		return fmt.Errorf("%w: unknown sort order %q", ErrValidation, q.Sort)
	}
	for _, bt := range q.BlockTypes {
		if _, err := ParseBlockType(string(bt)); err != nil {
			return err
		}
	}
	if q.Vector != nil {
		if len(q.Vector.Vector) == 0 {
			return fmt.Errorf("%w: vector query without a query vector", ErrValidation)
		}
		if q.Sort == SortNewestFirst || q.Sort == SortOldestFirst {
			return fmt.Errorf("%w: vector search conflicts with sort order %q", ErrValidation, q.Sort)
		}
	}
	return nil
}

// EffectiveLimit resolves the result cap for this query: the caller's limit,
// defaulted to DefaultQueryLimit, and additionally clamped to
// MaxVectorResults on the vector path.
func (q *MemoryQuery) EffectiveLimit() int {
	limit := q.Limit
	if q.Vector != nil && q.Vector.MaxResults > 0 && (limit <= 0 || q.Vector.MaxResults < limit) {
		limit = q.Vector.MaxResults
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if q.Vector != nil && limit > MaxVectorResults {
		limit = MaxVectorResults
	}
	return limit
}

// Matches applies the structured filters to a single block. Backends that
// filter in process (and the vector path's pre-filtering) share this;
// the SQLite backend pushes the same predicates into SQL instead.
func (q *MemoryQuery) Matches(b *MemoryBlock) bool {
	if q.UserID != "" && b.UserID != q.UserID {
		return false
	}
	if q.SessionID != "" && b.SessionID != q.SessionID {
		return false
	}
	if len(q.BlockTypes) > 0 {
		found := false
		for _, bt := range q.BlockTypes {
			if b.Type == bt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.ContentContains != "" {
		text, ok := b.Content.EmbeddingText()
		if !ok || !strings.Contains(strings.ToLower(text), strings.ToLower(q.ContentContains)) {
			return false
		}
	}
	if q.CreatedAfter != nil && b.CreatedAt.Before(*q.CreatedAfter) {
		return false
	}
	if q.CreatedBefore != nil && b.CreatedAt.After(*q.CreatedBefore) {
		return false
	}
	return true
}

// BlockAccessStat pairs a block id with its access count.
type BlockAccessStat struct {
	ID          string `json:"id"`
	AccessCount uint64 `json:"access_count"`
}

// MemoryStats aggregates usage for one user's blocks.
type MemoryStats struct {
	TotalBlocks        uint64               `json:"total_blocks"`
	BlocksByType       map[BlockType]uint64 `json:"blocks_by_type"`
	TotalSizeBytes     uint64               `json:"total_size_bytes"`
	AverageAccessCount float64              `json:"average_access_count"`
	MostAccessed       []BlockAccessStat    `json:"most_accessed_blocks"`
	LastUpdated        time.Time            `json:"last_updated"`
}
