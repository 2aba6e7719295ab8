package memory

import "errors"

// Error kinds, distinguished with errors.Is. Store and embedder failures are
// wrapped so the original cause stays on the chain.
var (
	// ErrSerialization indicates content or metadata failed to encode or decode.
	ErrSerialization = errors.New("memory: serialization failed")

	// ErrStorage indicates a backend I/O or query execution failure.
	ErrStorage = errors.New("memory: storage failure")

	// ErrSchema indicates schema setup failed or an embedding did not match
	// the declared dimension. Typically fatal at startup.
	ErrSchema = errors.New("memory: schema error")

	// ErrNotFound is returned by Update when the target block does not exist.
	// Retrieve returns nil instead, and Delete returns false.
	ErrNotFound = errors.New("memory: block not found")

	// ErrAlreadyExists is returned by Store when the caller-supplied id is
	// already taken by another block. Replacing a block is the explicit
	// Update path, never a silent overwrite.
	ErrAlreadyExists = errors.New("memory: block already exists")

	// ErrValidation indicates a malformed block, query, or unknown tag.
	ErrValidation = errors.New("memory: validation failed")

	// ErrEmbedding indicates the embedding provider failed. At store and
	// update time this is soft: the failure is logged and the block persists
	// without an embedding. At query time it is hard: a semantic search
	// cannot silently degrade to an empty result set.
	ErrEmbedding = errors.New("memory: embedding failed")
)
