package memory

import "context"

// BlockStore is the storage backend interface.
// Implementations: sqlite.Store (production), chromem.Store (local/in-process).
//
// A store instance is a single long-lived handle shared across many
// concurrent callers. Reads and writes are not isolated from each other:
// a Query racing a Put or Update may or may not observe the new row.
// Access-count increments must be backend-atomic so concurrent Gets on the
// same id never lose updates.
type BlockStore interface {
	// InitializeSchema declares tables and indexes and records the embedding
	// dimension. Idempotent; concurrent first callers race safely to a
	// single effective initialization. Re-declaring a different dimension
	// is an ErrSchema.
	InitializeSchema(ctx context.Context, dimensions int) error

	// Put inserts a new block. The embedding may be nil (no embedder
	// configured, binary content, or a soft embedding failure upstream).
	// An existing id is an ErrAlreadyExists, never a silent overwrite.
	Put(ctx context.Context, block *MemoryBlock, embedding []float32) error

	// Get returns the block as it was before this call's touch, then
	// atomically increments access_count and sets last_accessed.
	// A missing id returns (nil, nil).
	Get(ctx context.Context, id string) (*MemoryBlock, error)

	// Peek returns the block without touching its access statistics.
	// A missing id returns (nil, nil).
	Peek(ctx context.Context, id string) (*MemoryBlock, error)

	// Update replaces the block wholesale. When reembed is true the stored
	// embedding is replaced with the given one (possibly nil); otherwise
	// the existing embedding is kept. A missing id is an ErrNotFound.
	Update(ctx context.Context, block *MemoryBlock, embedding []float32, reembed bool) (*MemoryBlock, error)

	// Delete removes a block. Returns true iff a record existed;
	// deleting an absent id is not an error.
	Delete(ctx context.Context, id string) (bool, error)

	// ClearUserData deletes every block owned by userID and returns the
	// count. Relationship edges are left in place; see FindRelated.
	ClearUserData(ctx context.Context, userID string) (uint64, error)

	// Query runs either the structured path or, when q.Vector is set, the
	// vector path with the structured fields as pre-filters. Vector results
	// carry their similarity in Relevance; blocks without embeddings are
	// silently excluded from vector candidacy.
	Query(ctx context.Context, q *MemoryQuery) ([]MemoryBlock, error)

	// CreateRelationship inserts a directed, typed, weighted edge. No
	// foreign-key enforcement: the endpoints need not exist.
	CreateRelationship(ctx context.Context, edge RelationshipEdge) error

	// FindRelated resolves outbound edges of the given type from id and
	// returns the target blocks. Dangling edges (deleted targets) are
	// skipped. Inbound edges are not traversed; callers compose multi-hop
	// traversal themselves.
	FindRelated(ctx context.Context, id string, rel RelationType) ([]MemoryBlock, error)

	// Stats aggregates usage for one user.
	Stats(ctx context.Context, userID string) (*MemoryStats, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), onnx.Embedder (local production).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
