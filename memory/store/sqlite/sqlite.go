// Package sqlite implements the production memory.BlockStore on SQLite.
//
// Blocks live in a single table with JSON-encoded content and metadata,
// RFC3339 UTC timestamps (fixed-width nanoseconds, so lexical order is
// chronological order), and the embedding stored as a JSON float array.
// SQLite has no native approximate-nearest-neighbor index, so the vector
// path pre-filters in SQL and scores candidates in process under the
// engine-wide result cap.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tea-party/mnemo/memory"
)

// Store implements memory.BlockStore backed by a SQLite database.
type Store struct {
	db  *sql.DB
	log *log.Logger

	initMu   sync.Mutex
	initDone atomic.Bool
	dims     int // declared embedding dimension, set by InitializeSchema
}

// Open opens (or creates) the database at path. The schema is declared by
// InitializeSchema, not here.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", memory.ErrStorage, err)
	}
	return &Store{
		db:  db,
		log: log.WithPrefix("memory.sqlite"),
	}, nil
}

// InitializeSchema declares the block and relationship tables, their
// indexes, and the embedding dimension. Idempotent: repeat calls are no-ops
// on the cheap atomic fast path, and concurrent first callers serialize on
// the init mutex. Re-declaring a different dimension is an ErrSchema.
func (s *Store) InitializeSchema(ctx context.Context, dimensions int) error {
	if s.initDone.Load() {
		return s.checkDimensions(dimensions)
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initDone.Load() {
		return s.checkDimensions(dimensions)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			id TEXT PRIMARY KEY,
			block_type TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_text TEXT NOT NULL DEFAULT '',
			reference_ids TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			properties TEXT NOT NULL DEFAULT '{}',
			embedding TEXT,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_accessed TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_user_type ON blocks(user_id, block_type)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_session_created ON blocks(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_tags ON blocks(tags)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			strength REAL NOT NULL DEFAULT 1.0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, relation_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_id, relation_type)`,
		`CREATE TABLE IF NOT EXISTS schema_info (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: exec %q: %v", memory.ErrSchema, stmt[:min(len(stmt), 60)], err)
		}
	}

	// The declared dimension is part of the schema: a database initialized
	// at one dimension refuses a different one instead of truncating or
	// padding vectors.
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM schema_info WHERE key = 'embedding_dimensions'`).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_info (key, value) VALUES ('embedding_dimensions', ?)`,
			strconv.Itoa(dimensions)); err != nil {
			return fmt.Errorf("%w: record dimensions: %v", memory.ErrSchema, err)
		}
	case err != nil:
		return fmt.Errorf("%w: read schema info: %v", memory.ErrStorage, err)
	default:
		declared, convErr := strconv.Atoi(existing)
		if convErr != nil || declared != dimensions {
			return fmt.Errorf("%w: database declares embedding dimension %s, got %d",
				memory.ErrSchema, existing, dimensions)
		}
	}

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
	if embedding != nil && s.dims > 0 && len(embedding) != s.dims {
		return fmt.Errorf("%w: embedding dimension %d does not match declared %d",
			memory.ErrSchema, len(embedding), s.dims)
	}
	return nil
}

// Put inserts a new block. An existing id is an ErrAlreadyExists; replacing
// a block is the Update path only.
func (s *Store) Put(ctx context.Context, block *memory.MemoryBlock, embedding []float32) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.checkEmbedding(embedding); err != nil {
		return err
	}
	row, err := encodeBlock(block, embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blocks (id, block_type, user_id, session_id, content, content_text,
			reference_ids, tags, properties, embedding, access_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		row.id, row.blockType, row.userID, row.sessionID, row.content, row.contentText,
		row.refIDs, row.tags, row.props, row.embedding, row.createdAt, row.updatedAt)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: %s", memory.ErrAlreadyExists, block.ID)
		}
		return fmt.Errorf("%w: insert block: %v", memory.ErrStorage, err)
	}
	return nil
}

// isConstraintErr reports whether err is a primary-key or unique-index
// violation, which on the blocks table means the id is already taken.
func isConstraintErr(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

// Get returns the block as stored before this call, then bumps its access
// statistics. The increment runs in the database (`access_count =
// access_count + 1`), so concurrent Gets on one id never lose updates.
func (s *Store) Get(ctx context.Context, id string) (*memory.MemoryBlock, error) {
	block, err := s.Peek(ctx, id)
	if block == nil || err != nil {
		return block, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE blocks SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		memory.FormatTime(time.Now()), id); err != nil {
		return nil, fmt.Errorf("%w: touch block: %v", memory.ErrStorage, err)
	}
	return block, nil
}

// Peek returns the block without touching access statistics.
func (s *Store) Peek(ctx context.Context, id string) (*memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id)
	block, _, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

// Update replaces the block wholesale. The stored embedding is replaced only
// when reembed is set; an unchanged payload keeps its vector.
func (s *Store) Update(ctx context.Context, block *memory.MemoryBlock, embedding []float32, reembed bool) (*memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.checkEmbedding(embedding); err != nil {
		return nil, err
	}
	row, err := encodeBlock(block, embedding)
	if err != nil {
		return nil, err
	}

	var res sql.Result
	if reembed {
		res, err = s.db.ExecContext(ctx,
			`UPDATE blocks SET block_type = ?, user_id = ?, session_id = ?, content = ?,
				content_text = ?, reference_ids = ?, tags = ?, properties = ?,
				embedding = ?, updated_at = ?
			 WHERE id = ?`,
			row.blockType, row.userID, row.sessionID, row.content, row.contentText,
			row.refIDs, row.tags, row.props, row.embedding, row.updatedAt, row.id)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE blocks SET block_type = ?, user_id = ?, session_id = ?, content = ?,
				content_text = ?, reference_ids = ?, tags = ?, properties = ?, updated_at = ?
			 WHERE id = ?`,
			row.blockType, row.userID, row.sessionID, row.content, row.contentText,
			row.refIDs, row.tags, row.props, row.updatedAt, row.id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update block: %v", memory.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: update block: %v", memory.ErrStorage, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, block.ID)
	}
	updated := *block
	return &updated, nil
}

// Delete removes a block. Absent ids return false, not an error.
// Relationship edges are deliberately left alone; FindRelated skips them.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("%w: delete block: %v", memory.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete block: %v", memory.ErrStorage, err)
	}
	return n > 0, nil
}

// ClearUserData deletes every block owned by userID and returns the count.
func (s *Store) ClearUserData(ctx context.Context, userID string) (uint64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: clear user data: %v", memory.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: clear user data: %v", memory.ErrStorage, err)
	}
	s.log.Info("cleared user data", "user_id", userID, "blocks", n)
	return uint64(n), nil
}

// CreateRelationship upserts a directed edge. Endpoints are not checked
// against the block table; edges may dangle after a delete.
func (s *Store) CreateRelationship(ctx context.Context, edge memory.RelationshipEdge) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO relationships (from_id, to_id, relation_type, strength, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		edge.From, edge.To, string(edge.Type), edge.Strength, memory.FormatTime(edge.CreatedAt))
	if err != nil {
		return fmt.Errorf("%w: insert relationship: %v", memory.ErrStorage, err)
	}
	return nil
}

// FindRelated resolves outbound edges of one type to their target blocks.
// The join drops dangling edges; inbound edges are never traversed.
func (s *Store) FindRelated(ctx context.Context, id string, rel memory.RelationType) ([]memory.MemoryBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("b")+`
		 FROM relationships r JOIN blocks b ON b.id = r.to_id
		 WHERE r.from_id = ? AND r.relation_type = ?
		 ORDER BY r.created_at, b.id`,
		id, string(rel))
	if err != nil {
		return nil, fmt.Errorf("%w: find related: %v", memory.ErrStorage, err)
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
		return nil, fmt.Errorf("%w: find related: %v", memory.ErrStorage, err)
	}
	return blocks, nil
}

// Stats aggregates usage for one user. TotalSizeBytes sums serialized
// content sizes; top ties break on block id for determinism.
func (s *Store) Stats(ctx context.Context, userID string) (*memory.MemoryStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	stats := &memory.MemoryStats{
		BlocksByType: make(map[memory.BlockType]uint64),
		LastUpdated:  time.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(access_count), 0), COALESCE(SUM(LENGTH(content)), 0)
		 FROM blocks WHERE user_id = ?`, userID).
		Scan(&stats.TotalBlocks, &stats.AverageAccessCount, &stats.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: stats totals: %v", memory.ErrStorage, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT block_type, COUNT(*) FROM blocks WHERE user_id = ? GROUP BY block_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: stats by type: %v", memory.ErrStorage, err)
	}
	for rows.Next() {
		var tag string
		var count uint64
		if err := rows.Scan(&tag, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: stats by type: %v", memory.ErrStorage, err)
		}
		bt, err := memory.ParseBlockType(tag)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stats.BlocksByType[bt] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stats by type: %v", memory.ErrStorage, err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, access_count FROM blocks WHERE user_id = ?
		 ORDER BY access_count DESC, id ASC LIMIT 10`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: stats top blocks: %v", memory.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var top memory.BlockAccessStat
		if err := rows.Scan(&top.ID, &top.AccessCount); err != nil {
			return nil, fmt.Errorf("%w: stats top blocks: %v", memory.ErrStorage, err)
		}
		stats.MostAccessed = append(stats.MostAccessed, top)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stats top blocks: %v", memory.ErrStorage, err)
	}
	return stats, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
