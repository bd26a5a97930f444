package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
)

// KnowledgeStore is the part of the knowledge store the worker writes to.
type KnowledgeStore interface {
	CreateDocument(ctx context.Context, params knowledge.CreateDocumentParams) (*knowledge.Document, error)
	GetDocument(ctx context.Context, id int64) (*knowledge.Document, error)
	GetKnowledgeBase(ctx context.Context, id int64) (*knowledge.KnowledgeBase, error)
	SetIndexStatus(ctx context.Context, docID int64, status knowledge.IndexStatus, indexErr string) error
	ReplaceChunks(ctx context.Context, docID int64, chunks []knowledge.Chunk) error
	PurgeDataSourceDocuments(ctx context.Context, dataSourceID int64) (int64, error)
}

// DataSourceStore resolves data sources for import tasks.
type DataSourceStore interface {
	Get(ctx context.Context, id int64) (*datasource.DataSource, error)
}

// FileLoader loads staged uploads.
type FileLoader interface {
	Load(ctx context.Context, cfg datasource.FileConfig) (*datasource.LoadedDoc, error)
}

// PageLoader loads single web pages.
type PageLoader interface {
	Load(ctx context.Context, pageURL string) (*datasource.LoadedDoc, error)
}

// SitemapLoader expands sitemaps into page URLs.
type SitemapLoader interface {
	Load(ctx context.Context, sitemapURL string) ([]string, error)
}

// WorkerConfig wires the worker's dependencies.
type WorkerConfig struct {
	Knowledge   KnowledgeStore
	DataSources DataSourceStore
	Files       FileLoader
	Pages       PageLoader
	Sitemaps    SitemapLoader
	Embedder    ai.Embedder
	Publisher   message.Publisher
	Subscriber  message.Subscriber
	Logger      log.Logger

	// MaxPages caps how many page tasks one sitemap import fans out.
	// Zero selects the default.
	MaxPages int
}

// Worker consumes ingest tasks: importing data sources, indexing
// documents and purging documents of soft-deleted sources. Handler
// errors are retried a few times and then parked on TopicPoison; domain
// failures are absorbed by marking the document failed instead.
type Worker struct {
	router      *message.Router
	queue       *Queue
	knowledge   KnowledgeStore
	dataSources DataSourceStore
	files       FileLoader
	pages       PageLoader
	sitemaps    SitemapLoader
	embedder    ai.Embedder
	maxPages    int
	logger      log.Logger
}

// defaultMaxPages bounds a single sitemap fan-out.
const defaultMaxPages = 200

// NewWorker creates a Worker and registers its handlers. Run must be
// called to start consuming.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	switch {
	case cfg.Knowledge == nil:
		return nil, fmt.Errorf("knowledge store is required")
	case cfg.DataSources == nil:
		return nil, fmt.Errorf("data source store is required")
	case cfg.Files == nil || cfg.Pages == nil || cfg.Sitemaps == nil:
		return nil, fmt.Errorf("all three loaders are required")
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	case cfg.Publisher == nil || cfg.Subscriber == nil:
		return nil, fmt.Errorf("publisher and subscriber are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Config{})
	}

	wmLogger := watermill.NewSlogLogger(logger)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating task router: %w", err)
	}

	poison, err := middleware.PoisonQueue(cfg.Publisher, TopicPoison)
	if err != nil {
		return nil, fmt.Errorf("creating poison queue: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: time.Second,
		Logger:          wmLogger,
	}
	router.AddMiddleware(poison, retry.Middleware, middleware.Recoverer)

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	w := &Worker{
		router:      router,
		queue:       NewQueue(cfg.Publisher, logger),
		knowledge:   cfg.Knowledge,
		dataSources: cfg.DataSources,
		files:       cfg.Files,
		pages:       cfg.Pages,
		sitemaps:    cfg.Sitemaps,
		embedder:    cfg.Embedder,
		maxPages:    maxPages,
		logger:      logger,
	}

	router.AddNoPublisherHandler("import-data-source", TopicImportDataSource, cfg.Subscriber, w.handleImport)
	router.AddNoPublisherHandler("index-document", TopicIndexDocument, cfg.Subscriber, w.handleIndex)
	router.AddNoPublisherHandler("purge-data-source", TopicPurgeDataSource, cfg.Subscriber, w.handlePurge)
	return w, nil
}

// Run consumes tasks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("ingest worker starting")
	return w.router.Run(ctx)
}

// Running is closed once all handlers consume.
func (w *Worker) Running() <-chan struct{} {
	return w.router.Running()
}

// Close stops the router.
func (w *Worker) Close() error {
	return w.router.Close()
}

func (w *Worker) handleImport(msg *message.Message) error {
	var task ImportTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		w.logger.Warn("dropping undecodable import task", "error", err)
		return nil
	}
	ctx := msg.Context()

	ds, err := w.dataSources.Get(ctx, task.DataSourceID)
	if errors.Is(err, datasource.ErrDataSourceNotFound) {
		w.logger.Info("skipping import of removed data source", "data_source_id", task.DataSourceID)
		return nil
	}
	if err != nil {
		return err
	}

	switch ds.Kind {
	case datasource.KindFile:
		cfg, err := datasource.ParseFileConfig(ds.Config)
		if err != nil {
			w.logger.Warn("dropping import with bad config", "data_source_id", ds.ID, "error", err)
			return nil
		}
		loaded, err := w.files.Load(ctx, cfg)
		if err != nil {
			return w.absorbPermanent(err, ds.ID)
		}
		return w.createAndEnqueue(ctx, ds, loaded)

	case datasource.KindWebSinglePage:
		cfg, err := datasource.ParsePageConfig(ds.Config)
		if err != nil {
			w.logger.Warn("dropping import with bad config", "data_source_id", ds.ID, "error", err)
			return nil
		}
		loaded, err := w.pages.Load(ctx, cfg.URL)
		if err != nil {
			return w.absorbPermanent(err, ds.ID)
		}
		return w.createAndEnqueue(ctx, ds, loaded)

	case datasource.KindWebSitemap:
		// A fanned-out task carries the page to fetch; the initial task
		// expands the sitemap instead.
		if task.PageURL != "" {
			loaded, err := w.pages.Load(ctx, task.PageURL)
			if err != nil {
				return w.absorbPermanent(err, ds.ID)
			}
			return w.createAndEnqueue(ctx, ds, loaded)
		}
		cfg, err := datasource.ParseSitemapConfig(ds.Config)
		if err != nil {
			w.logger.Warn("dropping import with bad config", "data_source_id", ds.ID, "error", err)
			return nil
		}
		pages, err := w.sitemaps.Load(ctx, cfg.URL)
		if err != nil {
			return err
		}
		if len(pages) > w.maxPages {
			w.logger.Warn("sitemap exceeds page cap, truncating",
				"data_source_id", ds.ID, "pages", len(pages), "max_pages", w.maxPages)
			pages = pages[:w.maxPages]
		}
		w.logger.Info("expanding sitemap import", "data_source_id", ds.ID, "pages", len(pages))
		for _, page := range pages {
			if err := w.queue.PublishImport(ctx, ImportTask{DataSourceID: ds.ID, PageURL: page}); err != nil {
				return err
			}
		}
		return nil

	default:
		w.logger.Warn("dropping import of unknown kind", "data_source_id", ds.ID, "kind", ds.Kind)
		return nil
	}
}

// absorbPermanent drops tasks that can never succeed and keeps transient
// failures on the retry path.
func (w *Worker) absorbPermanent(err error, dataSourceID int64) error {
	if errors.Is(err, datasource.ErrUploadNotFound) ||
		errors.Is(err, datasource.ErrInvalidConfig) ||
		errors.Is(err, datasource.ErrUnsupportedContent) ||
		errors.Is(err, datasource.ErrUnsupportedMimeType) {
		w.logger.Warn("dropping unloadable import", "data_source_id", dataSourceID, "error", err)
		return nil
	}
	return err
}

func (w *Worker) createAndEnqueue(ctx context.Context, ds *datasource.DataSource, loaded *datasource.LoadedDoc) error {
	dsID := ds.ID
	doc, err := w.knowledge.CreateDocument(ctx, knowledge.CreateDocumentParams{
		KBID:         ds.KBID,
		DataSourceID: &dsID,
		Name:         loaded.Name,
		MimeType:     loaded.MimeType,
		SourceURI:    loaded.SourceURI,
		Content:      loaded.Content,
	})
	if errors.Is(err, knowledge.ErrDuplicateDocument) {
		w.logger.Debug("document already ingested", "data_source_id", ds.ID, "source_uri", loaded.SourceURI)
		return nil
	}
	if err != nil {
		return err
	}

	w.logger.Info("created document", "document_id", doc.ID, "data_source_id", ds.ID, "name", doc.Name)
	return w.queue.PublishIndex(ctx, IndexTask{DocumentID: doc.ID})
}

func (w *Worker) handleIndex(msg *message.Message) error {
	var task IndexTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		w.logger.Warn("dropping undecodable index task", "error", err)
		return nil
	}
	ctx := msg.Context()

	doc, err := w.knowledge.GetDocument(ctx, task.DocumentID)
	if errors.Is(err, knowledge.ErrDocumentNotFound) {
		w.logger.Info("skipping index of removed document", "document_id", task.DocumentID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := w.knowledge.SetIndexStatus(ctx, doc.ID, knowledge.IndexRunning, ""); err != nil {
		return err
	}

	chunks, err := w.indexDocument(ctx, doc)
	if err != nil {
		w.logger.Warn("indexing failed", "document_id", doc.ID, "error", err)
		if setErr := w.knowledge.SetIndexStatus(ctx, doc.ID, knowledge.IndexFailed, err.Error()); setErr != nil {
			return setErr
		}
		return nil
	}

	if err := w.knowledge.SetIndexStatus(ctx, doc.ID, knowledge.IndexCompleted, ""); err != nil {
		return err
	}
	w.logger.Info("indexed document", "document_id", doc.ID, "chunks", chunks)
	return nil
}

// indexDocument runs the chunk -> embed -> store pipeline and returns the
// stored chunk count.
func (w *Worker) indexDocument(ctx context.Context, doc *knowledge.Document) (int, error) {
	kb, err := w.knowledge.GetKnowledgeBase(ctx, doc.KBID)
	if err != nil {
		return 0, err
	}
	chunker, err := knowledge.NewChunker(kb)
	if err != nil {
		return 0, err
	}
	texts, err := chunker.Split(doc.Content, doc.MimeType)
	if err != nil {
		return 0, err
	}
	if len(texts) == 0 {
		return 0, fmt.Errorf("document %d produced no chunks", doc.ID)
	}

	embeddings, err := knowledge.EmbedTexts(ctx, w.embedder, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]knowledge.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = knowledge.Chunk{Text: text, Embedding: pgvector.NewVector(embeddings[i])}
	}
	if err := w.knowledge.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (w *Worker) handlePurge(msg *message.Message) error {
	var task PurgeTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		w.logger.Warn("dropping undecodable purge task", "error", err)
		return nil
	}
	ctx := msg.Context()

	n, err := w.knowledge.PurgeDataSourceDocuments(ctx, task.DataSourceID)
	if err != nil {
		return err
	}
	w.logger.Info("purged documents", "data_source_id", task.DataSourceID, "documents", n)
	return nil
}
