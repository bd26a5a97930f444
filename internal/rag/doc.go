// Package rag produces chat answer streams: given a user message it loads or
// creates the chat, persists the user/assistant exchange, retrieves context
// chunks from the knowledge bases and streams a grounded answer as an ordered
// sequence of stream parts.
//
// The pipeline behind Engine.Stream:
//
//	load or create chat
//	persist user message + assistant placeholder
//	data part (identifiers for the client)
//	REFINE_QUESTION      when the chat has history, condense the follow-up
//	SEARCH_RELATED_DOCUMENTS
//	embed query + vector search across knowledge bases
//	SOURCE_NODES         source count + document list
//	GENERATE_ANSWER
//	text parts           one per model chunk
//	persist final answer
//	FINISHED
//	data part            final persisted state
//
// Failures after the first data part surface as an error part with a generic
// message; whatever text accumulated is persisted so the exchange is never
// lost. Failures before it are returned through the iterator's error value so
// the HTTP layer can respond with a plain JSON error instead of a stream.
package rag
