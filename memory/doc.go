// Package memory is the block storage and retrieval engine for agent memory.
//
// Agents persist memory blocks (facts, preferences, summaries, goals) and
// recall them later by structured filtering or cosine-similarity vector
// search to build conversation context.
//
// Architecture:
//   - BlockStore: storage backend (SQLite for production, chromem-go for
//     local/in-process use)
//   - Embedder: text-to-vector conversion (deterministic mock for tests,
//     ONNX all-MiniLM-L6-v2 behind the `onnx` build tag for offline use)
//   - Engine: orchestrates embedding, validation, query dispatch, the
//     relationship graph, and usage statistics
//
// Writes enrich blocks with embeddings on a best-effort basis: an embedding
// failure at store time is logged and the block persists without one. A
// semantic search, by contrast, fails hard when no embedding can be
// produced for the query text.
//
// Consumers (agent tools, export/auto-save subsystems, the HTTP layer) use
// the Engine only; none of them reach into a store backend directly.
package memory
