// Package app assembles the application from its parts: configuration,
// tracing, the database pool, the AI provider, the stores, the answer
// engine and the ingest task bus.
//
// Setup acquires every shared dependency in order and returns an App;
// Close releases them in reverse. Entry points (serve, worker, chat)
// take what they need off the App instead of wiring providers
// themselves.
package app

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/internal/api"
	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/ingest"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/rag"
)

// App is the application container. Exported fields are the shared
// services entry points build on.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Chats       *chat.Store
	Knowledge   *knowledge.Store
	DataSources *datasource.Store
	Uploads     *datasource.Uploads

	Engine *rag.Engine
	Queue  *ingest.Queue

	// Task bus endpoints. NewWorker hands them to the consumer; the API
	// side only publishes, through Queue.
	publisher  message.Publisher
	subscriber message.Subscriber

	logger log.Logger

	// Cleanups in acquisition order; Close runs them in reverse.
	otelCleanup  func()
	dbCleanup    func()
	queueCleanup func()
}

// Close releases every resource Setup acquired, newest first. Safe on a
// partially built App: Setup calls it when a later provider fails.
func (a *App) Close() error {
	if a.logger != nil {
		a.logger.Info("shutting down application")
	}

	if a.queueCleanup != nil {
		a.queueCleanup()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// NewWorker builds an ingest worker consuming this App's task bus. Each
// call returns an independent worker; the caller owns its lifecycle.
func (a *App) NewWorker() (*ingest.Worker, error) {
	crawl := datasource.CrawlerConfig{
		UserAgent:   a.Config.Crawler.UserAgent,
		Delay:       time.Duration(a.Config.Crawler.DelayMs) * time.Millisecond,
		Parallelism: a.Config.Crawler.Parallelism,
		Timeout:     time.Duration(a.Config.Crawler.TimeoutMs) * time.Millisecond,
	}

	return ingest.NewWorker(ingest.WorkerConfig{
		Knowledge:   a.Knowledge,
		DataSources: a.DataSources,
		Files:       datasource.NewFileLoader(a.Uploads, a.logger),
		Pages:       datasource.NewPageLoader(crawl, a.logger),
		Sitemaps:    datasource.NewSitemapLoader(crawl, nil, a.logger),
		Embedder:    a.Embedder,
		Publisher:   a.publisher,
		Subscriber:  a.subscriber,
		Logger:      a.logger,
		MaxPages:    a.Config.Crawler.MaxPages,
	})
}

// NewAPIServer builds the HTTP API server on this App's services.
func (a *App) NewAPIServer() (*api.Server, error) {
	return api.NewServer(api.ServerConfig{
		Logger:         a.logger,
		Engine:         a.Engine,
		Chats:          a.Chats,
		Knowledge:      a.Knowledge,
		DataSources:    a.DataSources,
		Uploads:        a.Uploads,
		Queue:          a.Queue,
		Embedder:       a.Embedder,
		Pool:           a.DBPool,
		RetrievalTopK:  int32(a.Config.RetrievalTopK),
		MaxUploadBytes: int64(a.Config.Uploads.MaxSizeMB) << 20,
		CORSOrigins:    a.Config.CORSOrigins,
		TrustProxy:     a.Config.TrustProxy,
		RateBurst:      a.Config.RateBurst,
		// The deployment environment tag doubles as the dev-mode switch:
		// anything other than "dev" gets HSTS.
		IsDev: a.Config.Otel.Environment == "dev",
	})
}
