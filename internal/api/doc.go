// Package api provides the JSON-and-SSE HTTP server for tidegraph.
//
// # Architecture
//
// The server uses Go 1.22+ method routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → Routes
//
// Health probes (/healthz, /readyz) bypass the middleware stack via a
// top-level mux, ensuring they remain fast and never rate-limited.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /healthz — liveness, returns {"status":"ok"}
//   - GET /readyz  — readiness, pings the database and reports pool stats
//
// Chats:
//   - POST   /api/v1/chats      — post a message; responds with the SSE
//     part stream (a nil chat_id creates the chat)
//   - GET    /api/v1/chats      — list chats, most recently active first
//   - GET    /api/v1/chats/{id} — chat with its messages in ordinal order
//   - PATCH  /api/v1/chats/{id} — rename
//   - DELETE /api/v1/chats/{id} — delete chat and messages
//
// Knowledge bases and documents:
//   - POST   /api/v1/knowledge-bases                — create
//   - GET    /api/v1/knowledge-bases                — list with counters
//   - GET    /api/v1/knowledge-bases/{id}           — overview with counters
//   - DELETE /api/v1/knowledge-bases/{id}           — delete with contents
//   - GET    /api/v1/knowledge-bases/{id}/documents — list (+ ?status=)
//   - POST   /api/v1/knowledge-bases/{id}/documents/{docID}/reindex
//
// Data sources:
//   - POST   /api/v1/knowledge-bases/{id}/data-sources — create and queue
//     the first import
//   - GET    /api/v1/knowledge-bases/{id}/data-sources — list live sources
//   - DELETE /api/v1/knowledge-bases/{id}/data-sources/{sid} — soft-delete
//     and queue the document purge
//
// Uploads and retrieval:
//   - POST /api/v1/uploads  — stage a multipart file for file data sources
//   - POST /api/v1/retrieve — raw vector search without answer generation
//
// # Error Handling
//
// Non-2xx responses use the envelope {"error":{"code":"...","message":"..."}}.
// Failures after an SSE stream has started are sent as error events instead,
// since the response headers are already committed.
//
// # SSE Streaming
//
// POST /api/v1/chats answers with typed events carrying the part protocol
// from internal/stream: data (chat snapshots), message_annotations
// (pipeline progress), text (answer deltas) and error.
package api
