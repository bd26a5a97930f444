package api

import (
	"errors"
	"net/http"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
)

// ServerConfig wires the API server's dependencies.
type ServerConfig struct {
	Logger      log.Logger
	Engine      AnswerStreamer  // required
	Chats       ChatStore       // required
	Knowledge   KnowledgeStore  // required
	DataSources DataSourceStore // required
	Uploads     UploadStore     // required
	Queue       TaskQueue       // required
	Embedder    ai.Embedder     // required: powers /api/v1/retrieve
	Retriever   Retriever       // optional: defaults to Knowledge when it implements Retriever
	Pool        *pgxpool.Pool   // optional: nil reduces /readyz to a static check

	RetrievalTopK  int32    // default hit count for /api/v1/retrieve (0 = knowledge default)
	MaxUploadBytes int64    // upload size cap (0 = datasource default)
	CORSOrigins    []string // origins allowed to call the API from a browser
	TrustProxy     bool     // trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst      int      // rate limiter burst size per IP (0 = default 60)
	IsDev          bool     // skips HSTS so plain HTTP works locally
}

// Server is the JSON-and-SSE HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("api: answer engine is required")
	case cfg.Chats == nil:
		return nil, errors.New("api: chat store is required")
	case cfg.Knowledge == nil:
		return nil, errors.New("api: knowledge store is required")
	case cfg.DataSources == nil:
		return nil, errors.New("api: data source store is required")
	case cfg.Uploads == nil:
		return nil, errors.New("api: upload store is required")
	case cfg.Queue == nil:
		return nil, errors.New("api: task queue is required")
	case cfg.Embedder == nil:
		return nil, errors.New("api: embedder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Config{})
	}

	retriever := cfg.Retriever
	if retriever == nil {
		r, ok := cfg.Knowledge.(Retriever)
		if !ok {
			return nil, errors.New("api: retriever is required when the knowledge store cannot search")
		}
		retriever = r
	}

	topK := cfg.RetrievalTopK
	if topK <= 0 {
		topK = knowledge.DefaultTopK
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = datasource.DefaultMaxUploadSize
	}

	ch := &chatHandler{engine: cfg.Engine, chats: cfg.Chats, logger: logger}
	kh := &knowledgeHandler{store: cfg.Knowledge, queue: cfg.Queue, logger: logger}
	dh := &dataSourceHandler{store: cfg.DataSources, queue: cfg.Queue, logger: logger}
	uh := &uploadHandler{uploads: cfg.Uploads, maxBytes: maxUpload, logger: logger}
	rh := &retrieveHandler{embedder: cfg.Embedder, search: retriever, topK: topK, logger: logger}

	mux := http.NewServeMux()

	// Chats: CRUD plus the SSE answer stream on POST.
	mux.HandleFunc("POST /api/v1/chats", ch.post)
	mux.HandleFunc("GET /api/v1/chats", ch.list)
	mux.HandleFunc("GET /api/v1/chats/{id}", ch.get)
	mux.HandleFunc("PATCH /api/v1/chats/{id}", ch.rename)
	mux.HandleFunc("DELETE /api/v1/chats/{id}", ch.remove)

	// Knowledge bases and their documents.
	mux.HandleFunc("POST /api/v1/knowledge-bases", kh.create)
	mux.HandleFunc("GET /api/v1/knowledge-bases", kh.list)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{id}", kh.get)
	mux.HandleFunc("DELETE /api/v1/knowledge-bases/{id}", kh.remove)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{id}/documents", kh.listDocuments)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/documents/{docID}/reindex", kh.reindex)

	// Data sources feed the ingestion pipeline.
	mux.HandleFunc("POST /api/v1/knowledge-bases/{id}/data-sources", dh.create)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{id}/data-sources", dh.list)
	mux.HandleFunc("DELETE /api/v1/knowledge-bases/{id}/data-sources/{sid}", dh.remove)

	// Uploads and retrieval debugging.
	mux.HandleFunc("POST /api/v1/uploads", uh.create)
	mux.HandleFunc("POST /api/v1/retrieve", rh.retrieve)

	// Rate limiter: per-IP token bucket (1 token/sec refill).
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes sit outside the middleware stack so they stay cheap
	// and never rate-limit the orchestrator.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", health(logger))
	topMux.Handle("GET /readyz", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
