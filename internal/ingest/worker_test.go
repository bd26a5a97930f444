package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"go.uber.org/goleak"

	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
)

type fakeKnowledge struct {
	mu          sync.Mutex
	kbs         map[int64]*knowledge.KnowledgeBase
	docs        map[int64]*knowledge.Document
	chunks      map[int64][]knowledge.Chunk
	hashes      map[string]int64
	nextDocID   int64
	createCalls int
}

func newFakeKnowledge(kbs ...*knowledge.KnowledgeBase) *fakeKnowledge {
	f := &fakeKnowledge{
		kbs:    make(map[int64]*knowledge.KnowledgeBase),
		docs:   make(map[int64]*knowledge.Document),
		chunks: make(map[int64][]knowledge.Chunk),
		hashes: make(map[string]int64),
	}
	for _, kb := range kbs {
		f.kbs[kb.ID] = kb
	}
	return f
}

func (f *fakeKnowledge) CreateDocument(_ context.Context, params knowledge.CreateDocumentParams) (*knowledge.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if _, ok := f.kbs[params.KBID]; !ok {
		return nil, knowledge.ErrKnowledgeBaseNotFound
	}
	hash := knowledge.ContentHash(params.Content)
	key := fmt.Sprintf("%d/%s", params.KBID, hash)
	if _, ok := f.hashes[key]; ok {
		return nil, knowledge.ErrDuplicateDocument
	}
	f.nextDocID++
	doc := &knowledge.Document{
		ID:           f.nextDocID,
		KBID:         params.KBID,
		DataSourceID: params.DataSourceID,
		Name:         params.Name,
		Hash:         hash,
		MimeType:     params.MimeType,
		SourceURI:    params.SourceURI,
		Content:      params.Content,
		IndexStatus:  knowledge.IndexPending,
	}
	f.docs[doc.ID] = doc
	f.hashes[key] = doc.ID
	cp := *doc
	return &cp, nil
}

func (f *fakeKnowledge) GetDocument(_ context.Context, id int64) (*knowledge.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, knowledge.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeKnowledge) GetKnowledgeBase(_ context.Context, id int64) (*knowledge.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kb, ok := f.kbs[id]
	if !ok {
		return nil, knowledge.ErrKnowledgeBaseNotFound
	}
	cp := *kb
	return &cp, nil
}

func (f *fakeKnowledge) SetIndexStatus(_ context.Context, docID int64, status knowledge.IndexStatus, indexErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docID]
	if !ok {
		return knowledge.ErrDocumentNotFound
	}
	doc.IndexStatus = status
	if status == knowledge.IndexFailed {
		doc.IndexError = indexErr
	} else {
		doc.IndexError = ""
	}
	return nil
}

func (f *fakeKnowledge) ReplaceChunks(_ context.Context, docID int64, chunks []knowledge.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[docID]; !ok {
		return knowledge.ErrDocumentNotFound
	}
	stored := make([]knowledge.Chunk, len(chunks))
	copy(stored, chunks)
	for i := range stored {
		stored[i].DocumentID = docID
		stored[i].Ordinal = int32(i + 1)
	}
	f.chunks[docID] = stored
	return nil
}

func (f *fakeKnowledge) PurgeDataSourceDocuments(_ context.Context, dataSourceID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, doc := range f.docs {
		if doc.DataSourceID != nil && *doc.DataSourceID == dataSourceID {
			delete(f.docs, id)
			delete(f.chunks, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeKnowledge) snapshotDocs() []knowledge.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]knowledge.Document, 0, len(f.docs))
	for _, doc := range f.docs {
		out = append(out, *doc)
	}
	return out
}

func (f *fakeKnowledge) chunkCount(docID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[docID])
}

func (f *fakeKnowledge) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type fakeDataSources struct {
	mu      sync.Mutex
	sources map[int64]*datasource.DataSource
}

func (f *fakeDataSources) Get(_ context.Context, id int64) (*datasource.DataSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.sources[id]
	if !ok || ds.DeletedAt != nil {
		return nil, datasource.ErrDataSourceNotFound
	}
	cp := *ds
	return &cp, nil
}

type stubFileLoader struct {
	docs map[int64]*datasource.LoadedDoc
}

func (s *stubFileLoader) Load(_ context.Context, cfg datasource.FileConfig) (*datasource.LoadedDoc, error) {
	doc, ok := s.docs[cfg.UploadID]
	if !ok {
		return nil, datasource.ErrUploadNotFound
	}
	cp := *doc
	return &cp, nil
}

type stubPageLoader struct {
	mu    sync.Mutex
	pages map[string]*datasource.LoadedDoc
	err   error
	calls int
}

func (s *stubPageLoader) Load(_ context.Context, pageURL string) (*datasource.LoadedDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	doc, ok := s.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("no stub page for %s", pageURL)
	}
	cp := *doc
	return &cp, nil
}

func (s *stubPageLoader) loadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSitemapLoader struct {
	pages []string
	err   error
}

func (s *stubSitemapLoader) Load(context.Context, string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pages, nil
}

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Name() string { return "stub-embedder" }

func (e *stubEmbedder) Register(_ api.Registry) {}

func (e *stubEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if e.err != nil {
		return nil, e.err
	}
	resp := &ai.EmbedResponse{}
	for i := range req.Input {
		vec := make([]float32, knowledge.EmbedDim)
		vec[i%knowledge.EmbedDim] = 1
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: vec})
	}
	return resp, nil
}

// startWorker runs a worker over an in-process channel and returns the
// queue feeding it. Shutdown and goroutine checks run via t.Cleanup.
func startWorker(t *testing.T, cfg WorkerConfig) *Queue {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })

	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	cfg.Publisher = pubsub
	cfg.Subscriber = pubsub
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	w, err := NewWorker(cfg)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("worker run: %v", err)
		}
		if err := pubsub.Close(); err != nil {
			t.Errorf("pubsub close: %v", err)
		}
	})

	select {
	case <-w.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start")
	}
	return NewQueue(pubsub, log.NewNop())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testKB() *knowledge.KnowledgeBase {
	return &knowledge.KnowledgeBase{ID: 10, Name: "tides", ChunkSize: 200, ChunkOverlap: 20}
}

func TestWorkerImportsFileDataSource(t *testing.T) {
	fk := newFakeKnowledge(testKB())
	fds := &fakeDataSources{sources: map[int64]*datasource.DataSource{
		1: {ID: 1, KBID: 10, Name: "handbook", Kind: datasource.KindFile, Config: []byte(`{"upload_id": 5}`)},
	}}
	files := &stubFileLoader{docs: map[int64]*datasource.LoadedDoc{
		5: {
			Name:      "handbook.txt",
			MimeType:  "text/plain",
			SourceURI: "upload://aa.txt",
			Content:   strings.Repeat("Tide tables describe the rhythm of coastal water. ", 12),
		},
	}}

	queue := startWorker(t, WorkerConfig{
		Knowledge:   fk,
		DataSources: fds,
		Files:       files,
		Pages:       &stubPageLoader{},
		Sitemaps:    &stubSitemapLoader{},
		Embedder:    &stubEmbedder{},
	})

	if err := queue.PublishImport(context.Background(), ImportTask{DataSourceID: 1}); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}

	waitFor(t, "document to finish indexing", func() bool {
		docs := fk.snapshotDocs()
		return len(docs) == 1 && docs[0].IndexStatus == knowledge.IndexCompleted
	})

	doc := fk.snapshotDocs()[0]
	if doc.Name != "handbook.txt" {
		t.Errorf("Name = %q, want %q", doc.Name, "handbook.txt")
	}
	if doc.DataSourceID == nil || *doc.DataSourceID != 1 {
		t.Errorf("DataSourceID = %v, want 1", doc.DataSourceID)
	}
	if n := fk.chunkCount(doc.ID); n == 0 {
		t.Error("no chunks stored")
	}
}

func TestWorkerExpandsSitemap(t *testing.T) {
	fk := newFakeKnowledge(testKB())
	fds := &fakeDataSources{sources: map[int64]*datasource.DataSource{
		2: {ID: 2, KBID: 10, Name: "docs site", Kind: datasource.KindWebSitemap, Config: []byte(`{"url": "https://example.com/sitemap.xml"}`)},
	}}
	pages := &stubPageLoader{pages: map[string]*datasource.LoadedDoc{
		"https://example.com/a": {
			Name: "Page A", MimeType: "text/plain", SourceURI: "https://example.com/a",
			Content: strings.Repeat("Spring tides follow the new moon. ", 12),
		},
		"https://example.com/b": {
			Name: "Page B", MimeType: "text/plain", SourceURI: "https://example.com/b",
			Content: strings.Repeat("Neap tides follow the quarter moon. ", 12),
		},
	}}
	sitemaps := &stubSitemapLoader{pages: []string{"https://example.com/a", "https://example.com/b"}}

	queue := startWorker(t, WorkerConfig{
		Knowledge:   fk,
		DataSources: fds,
		Files:       &stubFileLoader{},
		Pages:       pages,
		Sitemaps:    sitemaps,
		Embedder:    &stubEmbedder{},
	})

	if err := queue.PublishImport(context.Background(), ImportTask{DataSourceID: 2}); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}

	waitFor(t, "both pages to finish indexing", func() bool {
		docs := fk.snapshotDocs()
		if len(docs) != 2 {
			return false
		}
		for _, doc := range docs {
			if doc.IndexStatus != knowledge.IndexCompleted {
				return false
			}
		}
		return true
	})

	names := map[string]bool{}
	for _, doc := range fk.snapshotDocs() {
		names[doc.Name] = true
	}
	if !names["Page A"] || !names["Page B"] {
		t.Errorf("documents = %v, want Page A and Page B", names)
	}
}

func TestWorkerCapsSitemapFanOut(t *testing.T) {
	fk := newFakeKnowledge(testKB())
	fds := &fakeDataSources{sources: map[int64]*datasource.DataSource{
		2: {ID: 2, KBID: 10, Name: "docs site", Kind: datasource.KindWebSitemap, Config: []byte(`{"url": "https://example.com/sitemap.xml"}`)},
	}}
	pages := &stubPageLoader{pages: map[string]*datasource.LoadedDoc{
		"https://example.com/a": {
			Name: "Page A", MimeType: "text/plain", SourceURI: "https://example.com/a",
			Content: strings.Repeat("Spring tides follow the new moon. ", 12),
		},
		"https://example.com/b": {
			Name: "Page B", MimeType: "text/plain", SourceURI: "https://example.com/b",
			Content: strings.Repeat("Neap tides follow the quarter moon. ", 12),
		},
	}}
	sitemaps := &stubSitemapLoader{pages: []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
		"https://example.com/e",
	}}

	queue := startWorker(t, WorkerConfig{
		Knowledge:   fk,
		DataSources: fds,
		Files:       &stubFileLoader{},
		Pages:       pages,
		Sitemaps:    sitemaps,
		Embedder:    &stubEmbedder{},
		MaxPages:    2,
	})

	if err := queue.PublishImport(context.Background(), ImportTask{DataSourceID: 2}); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}

	// Only the first two sitemap URLs survive the cap; the rest are never
	// fetched, so the page loader sees exactly two calls.
	waitFor(t, "the capped pages to finish indexing", func() bool {
		docs := fk.snapshotDocs()
		if len(docs) != 2 {
			return false
		}
		for _, doc := range docs {
			if doc.IndexStatus != knowledge.IndexCompleted {
				return false
			}
		}
		return true
	})

	if n := pages.loadCalls(); n != 2 {
		t.Errorf("page loads = %d, want 2", n)
	}
}

func TestWorkerSkipsDuplicateImport(t *testing.T) {
	fk := newFakeKnowledge(testKB())
	fds := &fakeDataSources{sources: map[int64]*datasource.DataSource{
		1: {ID: 1, KBID: 10, Name: "handbook", Kind: datasource.KindFile, Config: []byte(`{"upload_id": 5}`)},
	}}
	files := &stubFileLoader{docs: map[int64]*datasource.LoadedDoc{
		5: {
			Name: "handbook.txt", MimeType: "text/plain", SourceURI: "upload://aa.txt",
			Content: strings.Repeat("Ebb currents drain the estuary. ", 12),
		},
	}}

	queue := startWorker(t, WorkerConfig{
		Knowledge:   fk,
		DataSources: fds,
		Files:       files,
		Pages:       &stubPageLoader{},
		Sitemaps:    &stubSitemapLoader{},
		Embedder:    &stubEmbedder{},
	})

	ctx := context.Background()
	if err := queue.PublishImport(ctx, ImportTask{DataSourceID: 1}); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}
	if err := queue.PublishImport(ctx, ImportTask{DataSourceID: 1}); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}

	waitFor(t, "both imports to be handled", func() bool { return fk.creates() == 2 })
	waitFor(t, "document to finish indexing", func() bool {
		docs := fk.snapshotDocs()
		return len(docs) == 1 && docs[0].IndexStatus == knowledge.IndexCompleted
	})

	if n := len(fk.snapshotDocs()); n != 1 {
		t.Errorf("documents = %d, want 1", n)
	}
}

func TestWorkerMarksDocumentFailed(t *testing.T) {
	fk := newFakeKnowledge(testKB())
	fds := &fakeDataSources{sources: map[int64]*datasource.DataSource{
		1: {ID: 1, KBID: 10, Name: "handbook", Kind: datasource.KindFile, Config: []byte(`{"upload_id": 5}`)},
	}}
	files := &stubFileLoader{docs: map[int64]*datasource.LoadedDoc{
		5: {
			Name: "handbook.txt", MimeType: "text/plain", SourceURI: "upload://aa.txt",
			Content: strings.Repeat("Slack water sits between tides. ", 12),
		},
	}}

	queue := startWorker(t, WorkerConfig{
		Knowledge:   fk,
		DataSources: fds,
		Files:       files,
		Pages:       &stubPageLoader{},
		Sitemaps:    &stubSitemapLoader{},
		Embedder:    &stubEmbedder{err: errors.New("model offline")},
	})

	if err := queue.PublishImport(context.Background(), ImportTask{DataSourceID: 1}); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}

	waitFor(t, "document to be marked failed", func() bool {
		docs := fk.snapshotDocs()
		return len(docs) == 1 && docs[0].IndexStatus == knowledge.IndexFailed
	})

	doc := fk.snapshotDocs()[0]
	if !strings.Contains(doc.IndexError, "model offline") {
		t.Errorf("IndexError = %q, want the embedder failure", doc.IndexError)
	}
	if n := fk.chunkCount(doc.ID); n != 0 {
		t.Errorf("chunks stored for failed document: %d", n)
	}
}

func TestWorkerPurgesDataSourceDocuments(t *testing.T) {
	fk := newFakeKnowledge(testKB())
	ctx := context.Background()

	dsID := int64(7)
	for i, content := range []string{"first body", "second body"} {
		_, err := fk.CreateDocument(ctx, knowledge.CreateDocumentParams{
			KBID: 10, DataSourceID: &dsID, Name: fmt.Sprintf("doc-%d", i), Content: content,
		})
		if err != nil {
			t.Fatalf("seeding document: %v", err)
		}
	}
	if _, err := fk.CreateDocument(ctx, knowledge.CreateDocumentParams{
		KBID: 10, Name: "kept", Content: "unrelated body",
	}); err != nil {
		t.Fatalf("seeding document: %v", err)
	}

	queue := startWorker(t, WorkerConfig{
		Knowledge:   fk,
		DataSources: &fakeDataSources{},
		Files:       &stubFileLoader{},
		Pages:       &stubPageLoader{},
		Sitemaps:    &stubSitemapLoader{},
		Embedder:    &stubEmbedder{},
	})

	if err := queue.PublishPurge(ctx, PurgeTask{DataSourceID: dsID}); err != nil {
		t.Fatalf("PublishPurge() error = %v", err)
	}

	waitFor(t, "purge to remove the source's documents", func() bool {
		return len(fk.snapshotDocs()) == 1
	})
	if got := fk.snapshotDocs()[0].Name; got != "kept" {
		t.Errorf("surviving document = %q, want %q", got, "kept")
	}
}

func TestWorkerDropsUnloadableImport(t *testing.T) {
	fk := newFakeKnowledge(testKB())
	fds := &fakeDataSources{sources: map[int64]*datasource.DataSource{
		3: {ID: 3, KBID: 10, Name: "binary page", Kind: datasource.KindWebSinglePage, Config: []byte(`{"url": "https://example.com/blob"}`)},
	}}
	pages := &stubPageLoader{err: fmt.Errorf("%w: application/zip", datasource.ErrUnsupportedContent)}

	queue := startWorker(t, WorkerConfig{
		Knowledge:   fk,
		DataSources: fds,
		Files:       &stubFileLoader{},
		Pages:       pages,
		Sitemaps:    &stubSitemapLoader{},
		Embedder:    &stubEmbedder{},
	})

	if err := queue.PublishImport(context.Background(), ImportTask{DataSourceID: 3}); err != nil {
		t.Fatalf("PublishImport() error = %v", err)
	}

	waitFor(t, "loader to be called", func() bool { return pages.loadCalls() >= 1 })
	time.Sleep(100 * time.Millisecond)
	if n := len(fk.snapshotDocs()); n != 0 {
		t.Errorf("documents = %d, want none", n)
	}
}

func TestNewWorkerRequiresDependencies(t *testing.T) {
	fk := newFakeKnowledge()
	base := WorkerConfig{
		Knowledge:   fk,
		DataSources: &fakeDataSources{},
		Files:       &stubFileLoader{},
		Pages:       &stubPageLoader{},
		Sitemaps:    &stubSitemapLoader{},
		Embedder:    &stubEmbedder{},
		Publisher:   gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
		Subscriber:  gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
	}

	tests := []struct {
		name   string
		mutate func(*WorkerConfig)
	}{
		{"missing knowledge", func(c *WorkerConfig) { c.Knowledge = nil }},
		{"missing data sources", func(c *WorkerConfig) { c.DataSources = nil }},
		{"missing loader", func(c *WorkerConfig) { c.Pages = nil }},
		{"missing embedder", func(c *WorkerConfig) { c.Embedder = nil }},
		{"missing transport", func(c *WorkerConfig) { c.Subscriber = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewWorker(cfg); err == nil {
				t.Error("NewWorker() succeeded, want error")
			}
		})
	}
}
