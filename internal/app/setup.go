package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidegraph/tidegraph/db"
	"github.com/tidegraph/tidegraph/internal/chat"
	"github.com/tidegraph/tidegraph/internal/config"
	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/ingest"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/observability"
	"github.com/tidegraph/tidegraph/internal/rag"
)

// Setup creates and initializes the application. Call Close on the
// returned App to release its resources.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, logger: logger}

	// On error, release everything acquired so far.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first so Genkit's TracerProvider is ready when plugins
	// register. Disabled in config means this is a no-op.
	a.otelCleanup = observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Otel.Endpoint,
		Environment: cfg.Otel.Environment,
		ServiceName: cfg.Otel.ServiceName,
		Enabled:     cfg.Otel.Enabled,
	}, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	a.dbCleanup = dbCleanup

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Chats = chat.NewStore(pool, logger)
	a.Knowledge = knowledge.NewStore(pool, logger)
	a.DataSources = datasource.NewStore(pool, logger)

	uploads, err := datasource.NewUploads(pool, cfg.Uploads.Dir, int64(cfg.Uploads.MaxSizeMB)<<20, logger)
	if err != nil {
		return nil, fmt.Errorf("creating upload store: %w", err)
	}
	a.Uploads = uploads

	engine, err := rag.NewEngine(rag.EngineConfig{
		Genkit:     g,
		Model:      cfg.FullModelName(),
		Embedder:   embedder,
		Chats:      a.Chats,
		Knowledge:  a.Knowledge,
		TopK:       int32(cfg.RetrievalTopK),
		MaxHistory: cfg.MaxHistoryMessages,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating answer engine: %w", err)
	}
	a.Engine = engine

	if err := provideTaskBus(a, cfg, logger); err != nil {
		return nil, err
	}

	return a, nil
}

// provideDBPool runs migrations, then opens and pings a connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no model auto-discovery; register explicitly.
		plugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit",
			"provider", config.ProviderOllama, "model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit",
			"provider", config.ProviderOpenAI, "model", cfg.ModelName)

	default: // googleai
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized genkit",
			"provider", config.ProviderGoogleAI, "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. Each provider keys embedders differently: ollama by server
// address (registered in provideGenkit), openai and googleai by model
// name. Returns nil when the lookup misses.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName(config.ProviderOpenAI, cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideTaskBus opens the ingest transport and hangs the queue, the
// bus endpoints and their cleanup off the App.
func provideTaskBus(a *App, cfg *config.Config, logger log.Logger) error {
	pub, sub, err := ingest.NewPubSub(ingest.PubSubConfig{
		Driver:   cfg.Broker.Kind,
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Group:    cfg.Broker.ConsumerGroup,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating task bus: %w", err)
	}

	a.publisher = pub
	a.subscriber = sub
	// The channel driver returns one object as both endpoints; its
	// Close is idempotent, so closing each side is still safe.
	a.queueCleanup = func() {
		if err := pub.Close(); err != nil {
			logger.Warn("closing task publisher", "error", err)
		}
		if err := sub.Close(); err != nil {
			logger.Warn("closing task subscriber", "error", err)
		}
	}
	a.Queue = ingest.NewQueue(pub, logger)

	return nil
}
