package knowledge

import "errors"

// Sentinel errors for knowledge operations. They are part of the Store's
// public API and should be checked with errors.Is().
//
// Example:
//
//	kb, err := store.GetKnowledgeBase(ctx, id)
//	if errors.Is(err, knowledge.ErrKnowledgeBaseNotFound) {
//	    // Handle missing knowledge base
//	}
var (
	// ErrKnowledgeBaseNotFound indicates the requested knowledge base does
	// not exist.
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")

	// ErrDocumentNotFound indicates the requested document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDuplicateDocument indicates a document with the same content hash
	// already exists in the knowledge base.
	ErrDuplicateDocument = errors.New("duplicate document")

	// ErrInvalidChunking indicates a chunk size and overlap combination
	// that cannot produce chunks.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidIndexStatus indicates a status outside the known pipeline
	// states.
	ErrInvalidIndexStatus = errors.New("invalid index status")

	// ErrEmptyEmbedding indicates the embedder returned no vector.
	ErrEmptyEmbedding = errors.New("empty embedding")
)
