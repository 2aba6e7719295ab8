// Package tools exposes the memory engine to agents as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tea-party/mnemo/memory"
)

// RegisterMemoryTools attaches the memory tools to an MCP server backed by
// the given engine.
func RegisterMemoryTools(srv *server.MCPServer, engine *memory.Engine) {
	h := &handlers{engine: engine}
	srv.AddTool(buildStoreTool(), h.store)
	srv.AddTool(buildRetrieveTool(), h.retrieve)
	srv.AddTool(buildUpdateTool(), h.update)
	srv.AddTool(buildDeleteTool(), h.delete)
	srv.AddTool(buildQueryTool(), h.query)
	srv.AddTool(buildSearchTool(), h.search)
	srv.AddTool(buildRelateTool(), h.relate)
	srv.AddTool(buildRelatedTool(), h.related)
	srv.AddTool(buildStatsTool(), h.stats)
}

type handlers struct {
	engine *memory.Engine
}

func buildStoreTool() mcp.Tool {
	return mcp.NewTool(
		"memory_store",
		mcp.WithDescription("Stores a memory block and returns its ID. The block is embedded automatically for later semantic search."),
		mcp.WithString("content",
			mcp.Description("Textual content to remember"),
			mcp.Required(),
		),
		mcp.WithString("type",
			mcp.Description("Block type"),
			mcp.Enum("Message", "Summary", "Fact", "Preference", "PersonalInfo", "Goal", "Task"),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner of the memory"),
			mcp.Required(),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation this memory belongs to"),
		),
		mcp.WithArray("tags",
			mcp.Description("Free-form tags"),
		),
		mcp.WithObject("properties",
			mcp.Description("String key-value properties to attach"),
		),
	)
}

func (h *handlers) store(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("user_id parameter is required")
	}
	blockType, _ := args["type"].(string)
	if blockType == "" {
		blockType = string(memory.BlockTypeFact)
	}
	bt, err := memory.ParseBlockType(blockType)
	if err != nil {
		return nil, err
	}
	sessionID, _ := args["session_id"].(string)

	block := &memory.MemoryBlock{Content: memory.TextContent(content)}
	block.Type = bt
	block.UserID = userID
	block.SessionID = sessionID
	block.Tags = parseStringArray(args["tags"])
	block.Properties = parseStringMap(args["properties"])

	id, err := h.engine.Store(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("failed to store memory: %v", err)
	}
	result, _ := json.Marshal(map[string]string{"id": id, "status": "success"})
	return mcp.NewToolResultText(string(result)), nil
}

func buildRetrieveTool() mcp.Tool {
	return mcp.NewTool(
		"memory_retrieve",
		mcp.WithDescription("Retrieves a memory block by ID and records the access."),
		mcp.WithString("id",
			mcp.Description("Block ID returned by memory_store"),
			mcp.Required(),
		),
	)
}

func (h *handlers) retrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("id parameter is required")
	}
	block, err := h.engine.Retrieve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve memory: %v", err)
	}
	if block == nil {
		return nil, fmt.Errorf("memory not found: %s", id)
	}
	result, _ := json.MarshalIndent(block, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func buildUpdateTool() mcp.Tool {
	return mcp.NewTool(
		"memory_update",
		mcp.WithDescription("Replaces the content of an existing memory block. Changed content is re-embedded."),
		mcp.WithString("id",
			mcp.Description("Block ID to update"),
			mcp.Required(),
		),
		mcp.WithString("content",
			mcp.Description("New textual content"),
			mcp.Required(),
		),
		mcp.WithString("type",
			mcp.Description("New block type (keeps the current one when omitted)"),
			mcp.Enum("Message", "Summary", "Fact", "Preference", "PersonalInfo", "Goal", "Task"),
		),
		mcp.WithArray("tags",
			mcp.Description("Replacement tags"),
		),
	)
}

func (h *handlers) update(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	id, _ := args["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("id parameter is required")
	}
	content, _ := args["content"].(string)
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}

	// Peek, not Retrieve: loading the block to rewrite it is not a recall
	// and must not inflate its access count.
	current, err := h.engine.Peek(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %v", err)
	}
	if current == nil {
		return nil, fmt.Errorf("memory not found: %s", id)
	}

	block := *current
	block.Content = memory.TextContent(content)
	if blockType, _ := args["type"].(string); blockType != "" {
		bt, err := memory.ParseBlockType(blockType)
		if err != nil {
			return nil, err
		}
		block.Type = bt
	}
	if tags := parseStringArray(args["tags"]); tags != nil {
		block.Tags = tags
	}

	updated, err := h.engine.Update(ctx, id, &block)
	if err != nil {
		return nil, fmt.Errorf("failed to update memory: %v", err)
	}
	result, _ := json.MarshalIndent(updated, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func buildDeleteTool() mcp.Tool {
	return mcp.NewTool(
		"memory_delete",
		mcp.WithDescription("Deletes a memory block. Deleting an unknown ID is not an error."),
		mcp.WithString("id",
			mcp.Description("Block ID to delete"),
			mcp.Required(),
		),
	)
}

func (h *handlers) delete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("id parameter is required")
	}
	existed, err := h.engine.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete memory: %v", err)
	}
	result, _ := json.Marshal(map[string]bool{"deleted": existed})
	return mcp.NewToolResultText(string(result)), nil
}

func buildQueryTool() mcp.Tool {
	return mcp.NewTool(
		"memory_query",
		mcp.WithDescription("Lists memory blocks matching structured filters, newest first by default."),
		mcp.WithString("user_id",
			mcp.Description("Filter by owner"),
		),
		mcp.WithString("session_id",
			mcp.Description("Filter by conversation"),
		),
		mcp.WithArray("types",
			mcp.Description("Filter by block types"),
		),
		mcp.WithString("contains",
			mcp.Description("Case-insensitive substring the content must contain"),
		),
		mcp.WithString("created_after",
			mcp.Description("RFC3339 lower bound on creation time, inclusive"),
		),
		mcp.WithString("created_before",
			mcp.Description("RFC3339 upper bound on creation time, inclusive"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 100)"),
		),
		mcp.WithString("sort",
			mcp.Description("Result order"),
			mcp.Enum("newest_first", "oldest_first"),
		),
	)
}

func (h *handlers) query(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	q := &memory.MemoryQuery{}
	q.UserID, _ = args["user_id"].(string)
	q.SessionID, _ = args["session_id"].(string)
	q.ContentContains, _ = args["contains"].(string)
	q.Limit = parseLimit(args["limit"])
	if sortOrder, _ := args["sort"].(string); sortOrder != "" {
		q.Sort = memory.SortOrder(sortOrder)
	}
	for _, tag := range parseStringArray(args["types"]) {
		bt, err := memory.ParseBlockType(tag)
		if err != nil {
			return nil, err
		}
		q.BlockTypes = append(q.BlockTypes, bt)
	}
	var err error
	if q.CreatedAfter, err = parseTimeArg(args["created_after"]); err != nil {
		return nil, err
	}
	if q.CreatedBefore, err = parseTimeArg(args["created_before"]); err != nil {
		return nil, err
	}

	blocks, err := h.engine.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %v", err)
	}
	result, _ := json.MarshalIndent(blocks, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func buildSearchTool() mcp.Tool {
	return mcp.NewTool(
		"memory_search",
		mcp.WithDescription("Searches memories by semantic similarity to a natural language query."),
		mcp.WithString("query",
			mcp.Description("Natural language query"),
			mcp.Required(),
		),
		mcp.WithString("user_id",
			mcp.Description("Restrict the search to one owner"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results"),
		),
		mcp.WithNumber("min_relevance",
			mcp.Description("Drop results whose similarity falls below this value"),
		),
	)
}

func (h *handlers) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}

	q := &memory.MemoryQuery{Vector: &memory.VectorQuery{}}
	q.UserID, _ = args["user_id"].(string)
	q.Limit = parseLimit(args["limit"])
	if minRel, ok := args["min_relevance"].(float64); ok {
		q.Vector.MinRelevance = minRel
	}

	blocks, err := h.engine.SearchText(ctx, query, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %v", err)
	}
	result, _ := json.MarshalIndent(blocks, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func buildRelateTool() mcp.Tool {
	return mcp.NewTool(
		"memory_relate",
		mcp.WithDescription("Creates a directed, typed relationship between two memory blocks."),
		mcp.WithString("from_id",
			mcp.Description("Source block ID"),
			mcp.Required(),
		),
		mcp.WithString("to_id",
			mcp.Description("Target block ID"),
			mcp.Required(),
		),
		mcp.WithString("relation_type",
			mcp.Description("Relationship type"),
			mcp.Enum("References", "Contradicts", "Supports", "FollowsFrom",
				"Generalizes", "Specializes", "Temporal", "Similarity"),
			mcp.Required(),
		),
		mcp.WithNumber("strength",
			mcp.Description("Edge weight (default 1.0)"),
		),
	)
}

func (h *handlers) relate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	from, _ := args["from_id"].(string)
	to, _ := args["to_id"].(string)
	relTag, _ := args["relation_type"].(string)
	if from == "" || to == "" || relTag == "" {
		return nil, fmt.Errorf("from_id, to_id and relation_type parameters are required")
	}
	rel, err := memory.ParseRelationType(relTag)
	if err != nil {
		return nil, err
	}
	var strength float32
	if v, ok := args["strength"].(float64); ok {
		strength = float32(v)
	}

	if err := h.engine.CreateRelationship(ctx, from, to, rel, strength); err != nil {
		return nil, fmt.Errorf("failed to create relationship: %v", err)
	}
	result, _ := json.Marshal(map[string]string{"status": "success"})
	return mcp.NewToolResultText(string(result)), nil
}

func buildRelatedTool() mcp.Tool {
	return mcp.NewTool(
		"memory_related",
		mcp.WithDescription("Finds blocks connected to a memory through outbound relationships of one type."),
		mcp.WithString("id",
			mcp.Description("Block ID to start from"),
			mcp.Required(),
		),
		mcp.WithString("relation_type",
			mcp.Description("Relationship type to traverse"),
			mcp.Enum("References", "Contradicts", "Supports", "FollowsFrom",
				"Generalizes", "Specializes", "Temporal", "Similarity"),
			mcp.Required(),
		),
	)
}

func (h *handlers) related(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	id, _ := args["id"].(string)
	relTag, _ := args["relation_type"].(string)
	if id == "" || relTag == "" {
		return nil, fmt.Errorf("id and relation_type parameters are required")
	}
	rel, err := memory.ParseRelationType(relTag)
	if err != nil {
		return nil, err
	}
	blocks, err := h.engine.FindRelated(ctx, id, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to find related memories: %v", err)
	}
	result, _ := json.MarshalIndent(blocks, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func buildStatsTool() mcp.Tool {
	return mcp.NewTool(
		"memory_stats",
		mcp.WithDescription("Returns usage statistics for one user's memories: counts by type, size, most accessed blocks."),
		mcp.WithString("user_id",
			mcp.Description("User to aggregate"),
			mcp.Required(),
		),
	)
}

func (h *handlers) stats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, _ := req.GetArguments()["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("user_id parameter is required")
	}
	stats, err := h.engine.GetStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory stats: %v", err)
	}
	result, _ := json.MarshalIndent(stats, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

// parseLimit accepts a limit as float64 (JSON numbers) or string.
func parseLimit(raw any) int {
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return 0
}

// parseStringArray accepts []any of strings or a JSON-encoded string array.
func parseStringArray(raw any) []string {
	switch v := raw.(type) {
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return nil
}

// parseStringMap accepts a map of strings or a JSON-encoded object.
func parseStringMap(raw any) map[string]string {
	switch v := raw.(type) {
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	case string:
		var out map[string]string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	return nil
}

func parseTimeArg(raw any) (*time.Time, error) {
	s, _ := raw.(string)
	if s == "" {
		return nil, nil
	}
	t, err := memory.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
