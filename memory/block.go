package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BlockType classifies a memory block. The string form of each constant is
// the stable storage tag; persisted data is read back through ParseBlockType,
// which rejects unknown tags instead of guessing.
type BlockType string

const (
	BlockTypeMessage      BlockType = "Message"
	BlockTypeSummary      BlockType = "Summary"
	BlockTypeFact         BlockType = "Fact"
	BlockTypePreference   BlockType = "Preference"
	BlockTypePersonalInfo BlockType = "PersonalInfo"
	BlockTypeGoal         BlockType = "Goal"
	BlockTypeTask         BlockType = "Task"
)

// CustomBlockType returns the extension type with the given discriminant.
// CustomBlockType(3) serializes as "Custom(3)".
func CustomBlockType(n uint8) BlockType {
	return BlockType("Custom(" + strconv.Itoa(int(n)) + ")")
}

// ParseBlockType validates a storage tag and returns the corresponding
// BlockType. An unknown tag is a hard ErrValidation, never a silent default.
func ParseBlockType(tag string) (BlockType, error) {
	switch bt := BlockType(tag); bt {
	case BlockTypeMessage, BlockTypeSummary, BlockTypeFact, BlockTypePreference,
		BlockTypePersonalInfo, BlockTypeGoal, BlockTypeTask:
		return bt, nil
	}
	if n, ok := parseCustomTag(tag); ok {
		return CustomBlockType(n), nil
	}
	return "", fmt.Errorf("%w: unknown block type tag %q", ErrValidation, tag)
}

func parseCustomTag(tag string) (uint8, bool) {
	inner, ok := strings.CutPrefix(tag, "Custom(")
	if !ok {
		return 0, false
	}
	inner, ok = strings.CutSuffix(inner, ")")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(inner, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}

// ContentKind discriminates the MemoryContent union.
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentJSON   ContentKind = "json"
	ContentBinary ContentKind = "binary"
)

// MemoryContent is the tagged payload of a block: plain text, structured
// JSON, or opaque bytes with a mime type.
type MemoryContent struct {
	Kind     ContentKind     `json:"kind"`
	Text     string          `json:"text,omitempty"`
	JSON     json.RawMessage `json:"json,omitempty"`
	Data     []byte          `json:"data,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
}

// TextContent wraps plain text.
func TextContent(text string) MemoryContent {
	return MemoryContent{Kind: ContentText, Text: text}
}

// JSONContent marshals v into a JSON payload.
func JSONContent(v any) (MemoryContent, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return MemoryContent{}, fmt.Errorf("%w: marshal content: %v", ErrSerialization, err)
	}
	return MemoryContent{Kind: ContentJSON, JSON: raw}, nil
}

// BinaryContent wraps opaque bytes. Binary content is never embedded.
func BinaryContent(data []byte, mimeType string) MemoryContent {
	return MemoryContent{Kind: ContentBinary, Data: data, MimeType: mimeType}
}

// EmbeddingText returns the text an embedder should see for this content:
// text as-is, JSON stringified. The second return is false for binary
// content, which is excluded from embedding entirely.
func (c MemoryContent) EmbeddingText() (string, bool) {
	switch c.Kind {
	case ContentText:
		return c.Text, true
	case ContentJSON:
		return string(c.JSON), true
	}
	return "", false
}

// Validate checks that the content kind is one of the known tags.
func (c MemoryContent) Validate() error {
	switch c.Kind {
	case ContentText, ContentJSON, ContentBinary:
		return nil
	}
	return fmt.Errorf("%w: unknown content kind %q", ErrValidation, c.Kind)
}

// Equal reports whether two payloads are identical. The engine uses this to
// decide whether an update needs re-embedding.
func (c MemoryContent) Equal(other MemoryContent) bool {
	return c.Kind == other.Kind &&
		c.Text == other.Text &&
		bytes.Equal(c.JSON, other.JSON) &&
		bytes.Equal(c.Data, other.Data) &&
		c.MimeType == other.MimeType
}

// BlockMetadata describes a block independent of its payload.
type BlockMetadata struct {
	ID           string            `json:"id"`
	Type         BlockType         `json:"block_type"`
	UserID       string            `json:"user_id"`
	SessionID    string            `json:"session_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ReferenceIDs []string          `json:"reference_ids,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// MemoryBlock is an immutable metadata+content value. Mutation means
// replacing the whole block through Engine.Update.
type MemoryBlock struct {
	BlockMetadata
	Content MemoryContent `json:"content"`

	// Relevance is the similarity score attached to vector query results.
	// It is recomputed fresh on every query and never persisted; the store
	// backends keep it out of their record types entirely.
	Relevance float64 `json:"relevance,omitempty"`
}

// RelationType labels a relationship edge.
type RelationType string

const (
	RelationReferences  RelationType = "References"
	RelationContradicts RelationType = "Contradicts"
	RelationSupports    RelationType = "Supports"
	RelationFollowsFrom RelationType = "FollowsFrom"
	RelationGeneralizes RelationType = "Generalizes"
	RelationSpecializes RelationType = "Specializes"
	RelationTemporal    RelationType = "Temporal"
	RelationSimilarity  RelationType = "Similarity"
)

// ParseRelationType validates a relation tag read back from storage.
func ParseRelationType(tag string) (RelationType, error) {
	switch rt := RelationType(tag); rt {
	case RelationReferences, RelationContradicts, RelationSupports,
		RelationFollowsFrom, RelationGeneralizes, RelationSpecializes,
		RelationTemporal, RelationSimilarity:
		return rt, nil
	}
	return "", fmt.Errorf("%w: unknown relation type tag %q", ErrValidation, tag)
}

// RelationshipEdge is a directed, typed, weighted link between two blocks.
// Edges live independently of the block table: deleting a block does not
// cascade, so an edge may reference an id that no longer exists.
type RelationshipEdge struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Type      RelationType `json:"relation_type"`
	Strength  float32      `json:"strength"`
	CreatedAt time.Time    `json:"created_at"`
}

// TimeLayout is the persisted timestamp encoding: RFC3339 UTC with
// fixed-width nanoseconds, so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a stored timestamp. Plain RFC3339 values written by
// earlier tooling parse as well.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse timestamp %q: %v", ErrSerialization, s, err)
	}
	return t, nil
}
