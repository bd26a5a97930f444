// Package ingest runs the asynchronous content pipeline behind knowledge
// bases.
//
// API handlers publish tasks through [Queue]; a [Worker] consumes them:
//
//	datasource.import  -> load content (file, page or sitemap fan-out),
//	                      create the document, enqueue document.index
//	document.index     -> chunk, embed, store vectors, flip index status
//	datasource.purge   -> drop every document of a soft-deleted source
//
// Delivery is at least once. Import replays are absorbed by the
// document content-hash dedupe, and indexing replaces a document's
// chunks wholesale, so every handler is safe to re-run. Tasks that keep
// failing are parked on the ingest.poison topic for inspection.
//
// The transport is pluggable: an in-process channel for single-binary
// deployments, or redis streams when the worker runs separately.
package ingest
