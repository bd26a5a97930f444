// Package knowledge manages knowledge bases: collections of documents that
// are chunked, embedded and stored in PostgreSQL + pgvector for semantic
// retrieval.
//
// # Overview
//
// A KnowledgeBase owns Documents; each Document owns an ordered list of
// Chunks carrying 768-dimension embeddings. Indexing runs per document:
//
//	Document content
//	     |
//	     v
//	Chunker (recursive character splitting, size/overlap from the KB)
//	     |
//	     v
//	EmbedTexts (Genkit ai.Embedder)
//	     |
//	     v
//	Store.ReplaceChunks (PostgreSQL + pgvector)
//
// Progress is tracked per document through IndexStatus:
//
//	not_started -> pending -> running -> completed
//	                                 \-> failed (IndexError holds the cause)
//
// # Retrieval
//
// Search ranks a knowledge base's chunks by cosine similarity to a query
// vector and joins each hit with its document metadata. Only documents in
// status completed participate:
//
//	vec, err := knowledge.EmbedQuery(ctx, embedder, "how do tides work?")
//	if err != nil { ... }
//	hits, err := store.Search(ctx, kbID, vec, 5)
//
// # Deduplication
//
// A document's identity within its knowledge base is the SHA-256 of its
// content. CreateDocument rejects an import whose hash already exists in
// the same knowledge base with ErrDuplicateDocument, which makes ingestion
// handlers safe to replay.
package knowledge
