// Package chromem implements an in-process memory.BlockStore on chromem-go,
// a pure Go embedded vector database. Suited for local agents and tests; no
// persistence across restarts.
package chromem

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/tea-party/mnemo/memory"
)

// record is the stored form of a block. The embedding and access counters
// live here, outside the MemoryBlock itself; the similarity score has no
// place in a record at all, it exists only on query results.
type record struct {
	block        *memory.MemoryBlock
	embedding    []float32
	accessCount  uint64
	lastAccessed time.Time
}

// Store implements memory.BlockStore with a mutex-guarded block map as the
// source of truth and a chromem collection as the vector index. chromem-go
// cannot delete documents, so deleted or re-embedded blocks leave stale
// index entries behind; the query path filters every hit against the live
// map before returning it.
type Store struct {
	mu     sync.RWMutex
	blocks map[string]*record
	edges  []memory.RelationshipEdge

	db  *chromem.DB
	col *chromem.Collection
	log *log.Logger

	initMu   sync.Mutex
	initDone atomic.Bool
	dims     int
}

// New creates an empty store. InitializeSchema must run before any other
// operation.
func New() *Store {
	return &Store{
		blocks: make(map[string]*record),
		log:    log.WithPrefix("memory.chromem"),
	}
}

// InitializeSchema creates the vector collection and pins the embedding
// dimension. Idempotent; a different dimension on a later call is an
// ErrSchema.
func (s *Store) InitializeSchema(ctx context.Context, dimensions int) error {
	if s.initDone.Load() {
		return s.checkDimensions(dimensions)
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initDone.Load() {
		return s.checkDimensions(dimensions)
	}

	db := chromem.NewDB()
	// nil embedding func: callers always provide vectors. nil distance
	// func: chromem's default cosine similarity.
	col, err := db.CreateCollection("blocks", nil, nil)
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", memory.ErrSchema, err)
	}
	s.db = db
	s.col = col
	s.dims = dimensions
	s.initDone.Store(true)
	s.log.Info("schema initialized", "dimensions", dimensions)
	return nil
}

func (s *Store) checkDimensions(dimensions int) error {
	if dimensions != s.dims {
		return fmt.Errorf("%w: schema initialized with dimension %d, got %d",
			memory.ErrSchema, s.dims, dimensions)
	}
	return nil
}

func (s *Store) ready() error {
	if !s.initDone.Load() {
		return fmt.Errorf("%w: schema not initialized", memory.ErrSchema)
	}
	return nil
}

func (s *Store) checkEmbedding(embedding []float32) error {
	if embedding != nil && len(embedding) != s.dims {
		return fmt.Errorf("%w: embedding dimension %d does not match declared %d",
			memory.ErrSchema, len(embedding), s.dims)
	}
	return nil
}

func cloneBlock(b *memory.MemoryBlock) *memory.MemoryBlock {
	c := *b
	c.ReferenceIDs = slices.Clone(b.ReferenceIDs)
	c.Tags = slices.Clone(b.Tags)
	c.Properties = maps.Clone(b.Properties)
	c.Content.JSON = slices.Clone(b.Content.JSON)
	c.Content.Data = slices.Clone(b.Content.Data)
	return &c
}

// index adds or replaces the block's document in the vector collection.
// Must not hold s.mu; chromem does its own locking.
func (s *Store) index(ctx context.Context, block *memory.MemoryBlock, embedding []float32) error {
	text, _ := block.Content.EmbeddingText()
	doc := chromem.Document{
		ID:        block.ID,
		Content:   text,
		Embedding: embedding,
		Metadata:  map[string]string{"user_id": block.UserID},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: index block: %v", memory.ErrStorage, err)
	}
	return nil
}

// indexSoftFail indexes the block, degrading on failure instead of erroring:
// the block stays in the live map, the failure is logged, and the stored
// embedding is cleared so vector queries skip the block rather than serve it
// through a half-written index. Mirrors the write-time embedding policy.
func (s *Store) indexSoftFail(ctx context.Context, block *memory.MemoryBlock, embedding []float32) {
	if err := s.index(ctx, block, embedding); err != nil {
		s.log.Warn("indexing failed, block kept without vector",
			"id", block.ID, "user_id", block.UserID, "err", err)
		s.mu.Lock()
		if rec, ok := s.blocks[block.ID]; ok {
			rec.embedding = nil
		}
		s.mu.Unlock()
	}
}

// Put inserts a new block. An existing id is an ErrAlreadyExists.
func (s *Store) Put(ctx context.Context, block *memory.MemoryBlock, embedding []float32) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.checkEmbedding(embedding); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.blocks[block.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", memory.ErrAlreadyExists, block.ID)
	}
	s.blocks[block.ID] = &record{
		block:     cloneBlock(block),
		embedding: slices.Clone(embedding),
	}
	s.mu.Unlock()

	if embedding != nil {
		s.indexSoftFail(ctx, block, embedding)
	}
	return nil
}

// Get returns the block as stored before this call, then bumps its access
// statistics under the write lock.
func (s *Store) Get(ctx context.Context, id string) (*memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.blocks[id]
	if !ok {
		return nil, nil
	}
	block := cloneBlock(rec.block)
	rec.accessCount++
	rec.lastAccessed = time.Now().UTC()
	return block, nil
}

// Peek returns the block without touching access statistics.
func (s *Store) Peek(ctx context.Context, id string) (*memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.blocks[id]
	if !ok {
		return nil, nil
	}
	return cloneBlock(rec.block), nil
}

// Update replaces the block wholesale, keeping the stored embedding unless
// reembed is set. A missing id is an ErrNotFound.
func (s *Store) Update(ctx context.Context, block *memory.MemoryBlock, embedding []float32, reembed bool) (*memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.checkEmbedding(embedding); err != nil {
		return nil, err
	}

	s.mu.Lock()
	rec, ok := s.blocks[block.ID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, block.ID)
	}
	rec.block = cloneBlock(block)
	if reembed {
		rec.embedding = slices.Clone(embedding)
	}
	current := rec.embedding
	s.mu.Unlock()

	if reembed && embedding != nil {
		s.indexSoftFail(ctx, block, embedding)
	} else if !reembed && current != nil {
		// Metadata may have changed (user_id drives the index filter), so
		// refresh the document with the existing vector.
		s.indexSoftFail(ctx, block, current)
	}
	return cloneBlock(block), nil
}

// Delete removes a block from the live map. The vector index entry stays
// behind (chromem-go cannot delete) and is filtered out at query time.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[id]; !ok {
		return false, nil
	}
	delete(s.blocks, id)
	return true, nil
}

// ClearUserData deletes every block owned by userID and returns the count.
func (s *Store) ClearUserData(ctx context.Context, userID string) (uint64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for id, rec := range s.blocks {
		if rec.block.UserID == userID {
			delete(s.blocks, id)
			n++
		}
	}
	s.log.Info("cleared user data", "user_id", userID, "blocks", n)
	return n, nil
}

// CreateRelationship upserts a directed edge keyed by (from, to, type).
func (s *Store) CreateRelationship(ctx context.Context, edge memory.RelationshipEdge) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.edges {
		if e.From == edge.From && e.To == edge.To && e.Type == edge.Type {
			s.edges[i] = edge
			return nil
		}
	}
	s.edges = append(s.edges, edge)
	return nil
}

// FindRelated resolves outbound edges of one type to their target blocks,
// skipping edges whose target no longer exists.
func (s *Store) FindRelated(ctx context.Context, id string, rel memory.RelationType) ([]memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var blocks []memory.MemoryBlock
	for _, e := range s.edges {
		if e.From != id || e.Type != rel {
			continue
		}
		rec, ok := s.blocks[e.To]
		if !ok {
			continue
		}
		blocks = append(blocks, *cloneBlock(rec.block))
	}
	return blocks, nil
}

// Query dispatches to the structured or vector path.
func (s *Store) Query(ctx context.Context, q *memory.MemoryQuery) ([]memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if q.Vector != nil {
		return s.queryVector(ctx, q)
	}
	return s.queryStructured(q)
}

func (s *Store) queryStructured(q *memory.MemoryQuery) ([]memory.MemoryBlock, error) {
	s.mu.RLock()
	var blocks []memory.MemoryBlock
	for _, rec := range s.blocks {
		if q.Matches(rec.block) {
			blocks = append(blocks, *cloneBlock(rec.block))
		}
	}
	s.mu.RUnlock()

	oldest := q.Sort == memory.SortOldestFirst
	sort.Slice(blocks, func(i, j int) bool {
		if !blocks[i].CreatedAt.Equal(blocks[j].CreatedAt) {
			if oldest {
				return blocks[i].CreatedAt.Before(blocks[j].CreatedAt)
			}
			return blocks[i].CreatedAt.After(blocks[j].CreatedAt)
		}
		return blocks[i].ID < blocks[j].ID
	})
	if limit := q.EffectiveLimit(); len(blocks) > limit {
		blocks = blocks[:limit]
	}
	return blocks, nil
}

func (s *Store) queryVector(ctx context.Context, q *memory.MemoryQuery) ([]memory.MemoryBlock, error) {
	if len(q.Vector.Vector) != s.dims {
		return nil, fmt.Errorf("%w: query vector dimension %d does not match declared %d",
			memory.ErrSchema, len(q.Vector.Vector), s.dims)
	}

	// chromem rejects nResults above the collection size, and the index may
	// hold stale documents that the live-map filter below will drop, so ask
	// for everything it has.
	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	var where map[string]string
	if q.UserID != "" {
		where = map[string]string{"user_id": q.UserID}
	}
	results, err := s.col.QueryEmbedding(ctx, q.Vector.Vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: vector query: %v", memory.ErrStorage, err)
	}

	s.mu.RLock()
	var blocks []memory.MemoryBlock
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < q.Vector.MinRelevance {
			continue
		}
		rec, ok := s.blocks[res.ID]
		if !ok || rec.embedding == nil {
			continue // stale index entry
		}
		if !q.Matches(rec.block) {
			continue
		}
		b := cloneBlock(rec.block)
		b.Relevance = sim
		blocks = append(blocks, *b)
	}
	s.mu.RUnlock()

	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Relevance != blocks[j].Relevance {
			return blocks[i].Relevance > blocks[j].Relevance
		}
		if !blocks[i].CreatedAt.Equal(blocks[j].CreatedAt) {
			return blocks[i].CreatedAt.After(blocks[j].CreatedAt)
		}
		return blocks[i].ID < blocks[j].ID
	})
	if limit := q.EffectiveLimit(); len(blocks) > limit {
		blocks = blocks[:limit]
	}
	return blocks, nil
}

// Stats aggregates usage for one user.
func (s *Store) Stats(ctx context.Context, userID string) (*memory.MemoryStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &memory.MemoryStats{
		BlocksByType: make(map[memory.BlockType]uint64),
		LastUpdated:  time.Now().UTC(),
	}
	var totalAccess uint64
	var top []memory.BlockAccessStat
	for _, rec := range s.blocks {
		if rec.block.UserID != userID {
			continue
		}
		stats.TotalBlocks++
		stats.BlocksByType[rec.block.Type]++
		totalAccess += rec.accessCount
		if text, ok := rec.block.Content.EmbeddingText(); ok {
			stats.TotalSizeBytes += uint64(len(text))
		} else {
			stats.TotalSizeBytes += uint64(len(rec.block.Content.Data))
		}
		top = append(top, memory.BlockAccessStat{ID: rec.block.ID, AccessCount: rec.accessCount})
	}
	if stats.TotalBlocks > 0 {
		stats.AverageAccessCount = float64(totalAccess) / float64(stats.TotalBlocks)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].AccessCount != top[j].AccessCount {
			return top[i].AccessCount > top[j].AccessCount
		}
		return top[i].ID < top[j].ID
	})
	if len(top) > 10 {
		top = top[:10]
	}
	stats.MostAccessed = top
	return stats, nil
}

// Close releases resources. chromem keeps everything in memory.
func (s *Store) Close() error {
	return nil
}
