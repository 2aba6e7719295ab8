package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// Config holds Engine configuration.
type Config struct {
	// EmbedCacheSize caps the embedding cache in entries. Zero disables
	// caching; repeated stores or searches of identical text then hit the
	// provider every time.
	EmbedCacheSize int64
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	EmbedCacheSize: 4096,
}

// Engine is the single boundary consumers use: CRUD, structured and vector
// queries, the relationship graph, and usage statistics. It holds the
// Embedding Port and applies the write-time soft-fail / query-time hard-fail
// embedding policy; the store backend never talks to an embedder itself.
type Engine struct {
	store    BlockStore
	embedder Embedder // optional; nil disables write-time enrichment
	cache    *ristretto.Cache
	config   *Config
	log      *log.Logger
}

// NewEngine creates an Engine over the given store. embedder may be nil;
// blocks are then stored without embeddings and SearchText fails hard.
func NewEngine(store BlockStore, embedder Embedder, config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig
	}
	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   config,
		log:      log.WithPrefix("memory"),
	}
	if embedder != nil && config.EmbedCacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: config.EmbedCacheSize * 10,
			MaxCost:     config.EmbedCacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("embed cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// InitializeSchema sets up the backend schema for the given embedding
// dimension. Safe to call repeatedly and from concurrent first callers.
func (e *Engine) InitializeSchema(ctx context.Context, dimensions int) error {
	if e.embedder != nil && dimensions != e.embedder.Dimensions() {
		return fmt.Errorf("%w: schema dimension %d does not match embedder dimension %d",
			ErrSchema, dimensions, e.embedder.Dimensions())
	}
	return e.store.InitializeSchema(ctx, dimensions)
}

// Store persists a new block and returns its id, generating one when the
// caller did not supply it. With an embedder configured and non-binary
// content the block is embedded first; an embedding failure here is soft:
// logged, and the block persists without an embedding.
func (e *Engine) Store(ctx context.Context, block *MemoryBlock) (string, error) {
	if block == nil {
		return "", fmt.Errorf("%w: nil block", ErrValidation)
	}
	if _, err := ParseBlockType(string(block.Type)); err != nil {
		return "", err
	}
	if err := block.Content.Validate(); err != nil {
		return "", err
	}
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}
	if block.UpdatedAt.Before(block.CreatedAt) {
		block.UpdatedAt = block.CreatedAt
	}
	block.Relevance = 0

	embedding := e.embedBestEffort(ctx, block)
	if err := e.store.Put(ctx, block, embedding); err != nil {
		return "", err
	}
	return block.ID, nil
}

// Retrieve returns the block as it was before this call touched its access
// statistics, or nil when the id is unknown.
func (e *Engine) Retrieve(ctx context.Context, id string) (*MemoryBlock, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty block id", ErrValidation)
	}
	return e.store.Get(ctx, id)
}

// Peek returns the block without recording an access, or nil when the id is
// unknown. Callers that read a block only to write it back (the tool surface
// does this on update) use Peek so access statistics keep measuring recalls.
func (e *Engine) Peek(ctx context.Context, id string) (*MemoryBlock, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty block id", ErrValidation)
	}
	return e.store.Peek(ctx, id)
}

// Update replaces the block under id wholesale. The embedding is recomputed
// only when the content changed; an unchanged payload keeps the stored
// vector. Fails with ErrNotFound when id does not exist.
func (e *Engine) Update(ctx context.Context, id string, block *MemoryBlock) (*MemoryBlock, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty block id", ErrValidation)
	}
	if block == nil {
		return nil, fmt.Errorf("%w: nil block", ErrValidation)
	}
	if _, err := ParseBlockType(string(block.Type)); err != nil {
		return nil, err
	}
	if err := block.Content.Validate(); err != nil {
		return nil, err
	}
	old, err := e.store.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	block.ID = id
	block.CreatedAt = old.CreatedAt
	block.UpdatedAt = time.Now().UTC()
	if block.UpdatedAt.Before(old.UpdatedAt) {
		block.UpdatedAt = old.UpdatedAt
	}
	block.Relevance = 0

	reembed := !old.Content.Equal(block.Content)
	var embedding []float32
	if reembed {
		embedding = e.embedBestEffort(ctx, block)
	}
	return e.store.Update(ctx, block, embedding, reembed)
}

// Delete removes a block. Returns true iff a record existed; a second call
// with the same id returns false, not an error.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: empty block id", ErrValidation)
	}
	return e.store.Delete(ctx, id)
}

// ClearUserData deletes all blocks owned by userID and returns the count.
func (e *Engine) ClearUserData(ctx context.Context, userID string) (uint64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	return e.store.ClearUserData(ctx, userID)
}

// Query runs a structured or vector query, exactly one path per call.
func (e *Engine) Query(ctx context.Context, q *MemoryQuery) ([]MemoryBlock, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", ErrValidation)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return e.store.Query(ctx, q)
}

// SearchText is the semantic convenience query: it embeds the raw text and
// runs a vector query with q's structured fields as pre-filters (q may be
// nil). Unlike write-time enrichment this fails hard: without a working
// embedder a semantic search cannot silently degrade to an empty result.
func (e *Engine) SearchText(ctx context.Context, text string, q *MemoryQuery) ([]MemoryBlock, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbedding)
	}
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	query := MemoryQuery{Sort: SortRelevance}
	if q != nil {
		query = *q
		query.Sort = SortRelevance
	}
	vq := VectorQuery{Vector: vec}
	if q != nil && q.Vector != nil {
		vq = *q.Vector
		vq.Vector = vec
	}
	query.Vector = &vq
	return e.Query(ctx, &query)
}

// CreateRelationship inserts a directed, typed edge from one block to
// another. A zero strength defaults to 1.0.
func (e *Engine) CreateRelationship(ctx context.Context, from, to string, rel RelationType, strength float32) error {
	if from == "" || to == "" {
		return fmt.Errorf("%w: relationship endpoints must be set", ErrValidation)
	}
	if _, err := ParseRelationType(string(rel)); err != nil {
		return err
	}
	if strength == 0 {
		strength = 1.0
	}
	return e.store.CreateRelationship(ctx, RelationshipEdge{
		From:      from,
		To:        to,
		Type:      rel,
		Strength:  strength,
		CreatedAt: time.Now().UTC(),
	})
}

// FindRelated resolves outbound edges of one type and returns the target
// blocks. Edges whose target has been deleted are skipped.
func (e *Engine) FindRelated(ctx context.Context, id string, rel RelationType) ([]MemoryBlock, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty block id", ErrValidation)
	}
	if _, err := ParseRelationType(string(rel)); err != nil {
		return nil, err
	}
	return e.store.FindRelated(ctx, id, rel)
}

// GetStats aggregates usage statistics for one user.
func (e *Engine) GetStats(ctx context.Context, userID string) (*MemoryStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	return e.store.Stats(ctx, userID)
}

// Close releases the engine's resources, including the underlying store.
func (e *Engine) Close() error {
	if e.cache != nil {
		e.cache.Close()
	}
	return e.store.Close()
}

// embedBestEffort produces an embedding for a block or nil: no embedder,
// binary content, or a provider failure (logged, per the write-time
// soft-fail policy).
func (e *Engine) embedBestEffort(ctx context.Context, block *MemoryBlock) []float32 {
	if e.embedder == nil {
		return nil
	}
	text, ok := block.Content.EmbeddingText()
	if !ok {
		return nil
	}
	vec, err := e.embed(ctx, text)
	if err != nil {
		e.log.Warn("embedding failed, storing block without embedding",
			"id", block.ID, "user_id", block.UserID, "err", err)
		return nil
	}
	return vec
}

// embed runs the embedder through the ristretto cache, keyed by content
// hash so identical texts are embedded once.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	var key string
	if e.cache != nil {
		sum := sha256.Sum256([]byte(text))
		key = hex.EncodeToString(sum[:16])
		if v, ok := e.cache.Get(key); ok {
			if vec, ok := v.([]float32); ok {
				return vec, nil
			}
		}
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if e.cache != nil {
		e.cache.Set(key, vec, 1)
	}
	return vec, nil
}
