package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tea-party/mnemo/memory"
)

// blockColumns is the canonical select list; scanBlock expects exactly this
// order.
const blockColumns = `id, block_type, user_id, session_id, content, reference_ids,
	tags, properties, embedding, created_at, updated_at`

func prefixColumns(alias string) string {
	cols := strings.Split(blockColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type blockRow struct {
	id, blockType, userID, sessionID string
	content, contentText             string
	refIDs, tags, props              string
	embedding                        sql.NullString
	createdAt, updatedAt             string
}

func encodeBlock(block *memory.MemoryBlock, embedding []float32) (*blockRow, error) {
	content, err := json.Marshal(block.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal content: %v", memory.ErrSerialization, err)
	}
	row := &blockRow{
		id:        block.ID,
		blockType: string(block.Type),
		userID:    block.UserID,
		sessionID: block.SessionID,
		content:   string(content),
		refIDs:    "[]",
		tags:      "[]",
		props:     "{}",
		createdAt: memory.FormatTime(block.CreatedAt),
		updatedAt: memory.FormatTime(block.UpdatedAt),
	}
	// content_text mirrors the embeddable text, folded to lower case in Go
	// rather than in SQL (SQLite's lower() only folds ASCII) so substring
	// filters agree with MemoryQuery.Matches on non-ASCII text. Binary
	// payloads leave it empty and never match ContentContains.
	if text, ok := block.Content.EmbeddingText(); ok {
		row.contentText = strings.ToLower(text)
	}
	if block.ReferenceIDs != nil {
		raw, err := json.Marshal(block.ReferenceIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal reference ids: %v", memory.ErrSerialization, err)
		}
		row.refIDs = string(raw)
	}
	if block.Tags != nil {
		raw, err := json.Marshal(block.Tags)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal tags: %v", memory.ErrSerialization, err)
		}
		row.tags = string(raw)
	}
	if block.Properties != nil {
		raw, err := json.Marshal(block.Properties)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal properties: %v", memory.ErrSerialization, err)
		}
		row.props = string(raw)
	}
	if embedding != nil {
		raw, err := json.Marshal(embedding)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal embedding: %v", memory.ErrSerialization, err)
		}
		row.embedding = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanBlock decodes one row selected with blockColumns. The embedding is
// returned separately; it is never part of a MemoryBlock.
func scanBlock(row rowScanner) (*memory.MemoryBlock, []float32, error) {
	var r blockRow
	err := row.Scan(&r.id, &r.blockType, &r.userID, &r.sessionID, &r.content,
		&r.refIDs, &r.tags, &r.props, &r.embedding, &r.createdAt, &r.updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: scan block: %v", memory.ErrStorage, err)
	}

	bt, err := memory.ParseBlockType(r.blockType)
	if err != nil {
		return nil, nil, err
	}
	block := &memory.MemoryBlock{}
	block.ID = r.id
	block.Type = bt
	block.UserID = r.userID
	block.SessionID = r.sessionID
	if err := json.Unmarshal([]byte(r.content), &block.Content); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal content for %s: %v", memory.ErrSerialization, r.id, err)
	}
	if err := block.Content.Validate(); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal([]byte(r.refIDs), &block.ReferenceIDs); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal reference ids for %s: %v", memory.ErrSerialization, r.id, err)
	}
	if err := json.Unmarshal([]byte(r.tags), &block.Tags); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal tags for %s: %v", memory.ErrSerialization, r.id, err)
	}
	if err := json.Unmarshal([]byte(r.props), &block.Properties); err != nil {
		return nil, nil, fmt.Errorf("%w: unmarshal properties for %s: %v", memory.ErrSerialization, r.id, err)
	}
	if block.CreatedAt, err = memory.ParseTime(r.createdAt); err != nil {
		return nil, nil, err
	}
	if block.UpdatedAt, err = memory.ParseTime(r.updatedAt); err != nil {
		return nil, nil, err
	}

	var embedding []float32
	if r.embedding.Valid {
		if err := json.Unmarshal([]byte(r.embedding.String), &embedding); err != nil {
			return nil, nil, fmt.Errorf("%w: unmarshal embedding for %s: %v", memory.ErrSerialization, r.id, err)
		}
	}
	return block, embedding, nil
}

// Query dispatches to the structured or vector path. Both push the structured
// filters into SQL; the vector path then scores the surviving candidates in
// process, SQLite having no vector index of its own.
func (s *Store) Query(ctx context.Context, q *memory.MemoryQuery) ([]memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if q.Vector != nil {
		return s.queryVector(ctx, q)
	}
	return s.queryStructured(ctx, q)
}

// buildFilter renders the structured predicates as a WHERE clause.
func buildFilter(q *memory.MemoryQuery) (string, []any) {
	conds := []string{"1=1"}
	var args []any
	if q.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if len(q.BlockTypes) > 0 {
		marks := make([]string, len(q.BlockTypes))
		for i, bt := range q.BlockTypes {
			marks[i] = "?"
			args = append(args, string(bt))
		}
		conds = append(conds, "block_type IN ("+strings.Join(marks, ", ")+")")
	}
	if q.ContentContains != "" {
		// content_text is stored lowercased, so the needle is folded here.
		conds = append(conds, "instr(content_text, ?) > 0")
		args = append(args, strings.ToLower(q.ContentContains))
	}
	// Timestamps are stored fixed-width, so string comparison is time
	// comparison. Both bounds are inclusive.
	if q.CreatedAfter != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, memory.FormatTime(*q.CreatedAfter))
	}
	if q.CreatedBefore != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, memory.FormatTime(*q.CreatedBefore))
	}
	return strings.Join(conds, " AND "), args
}

func (s *Store) queryStructured(ctx context.Context, q *memory.MemoryQuery) ([]memory.MemoryBlock, error) {
	where, args := buildFilter(q)

	// Relevance ordering has no meaning without a query vector; fall back to
	// newest first rather than failing a caller that reuses one sort knob
	// across both paths.
	order := "created_at DESC, id ASC"
	if q.Sort == memory.SortOldestFirst {
		order = "created_at ASC, id ASC"
	}
	args = append(args, q.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE `+where+` ORDER BY `+order+` LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query blocks: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	var blocks []memory.MemoryBlock
	for rows.Next() {
		block, _, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query blocks: %v", memory.ErrStorage, err)
	}
	return blocks, nil
}

type scored struct {
	block memory.MemoryBlock
	sim   float64
}

func (s *Store) queryVector(ctx context.Context, q *memory.MemoryQuery) ([]memory.MemoryBlock, error) {
	if s.dims > 0 && len(q.Vector.Vector) != s.dims {
		return nil, fmt.Errorf("%w: query vector dimension %d does not match declared %d",
			memory.ErrSchema, len(q.Vector.Vector), s.dims)
	}
	where, args := buildFilter(q)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE `+where+` AND embedding IS NOT NULL`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query candidates: %v", memory.ErrStorage, err)
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		block, embedding, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		sim := memory.CosineSimilarity(q.Vector.Vector, embedding)
		if sim < q.Vector.MinRelevance {
			continue
		}
		candidates = append(candidates, scored{block: *block, sim: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query candidates: %v", memory.ErrStorage, err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		// Ties: newer first, then id for a stable order.
		if !candidates[i].block.CreatedAt.Equal(candidates[j].block.CreatedAt) {
			return candidates[i].block.CreatedAt.After(candidates[j].block.CreatedAt)
		}
		return candidates[i].block.ID < candidates[j].block.ID
	})

	limit := q.EffectiveLimit()
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	blocks := make([]memory.MemoryBlock, len(candidates))
	for i, c := range candidates {
		blocks[i] = c.block
		blocks[i].Relevance = c.sim
	}
	return blocks, nil
}
