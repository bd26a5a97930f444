package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/tidegraph/tidegraph/internal/log"
)

// LoadedDoc is one unit of content produced by a loader before it is
// persisted as a knowledge document.
type LoadedDoc struct {
	Name      string
	MimeType  string
	SourceURI string
	Content   string
}

// Crawler defaults.
const (
	defaultUserAgent    = "tidegraph-bot/1.0"
	defaultFetchDelay   = time.Second
	defaultMaxBodySize  = 4 << 20
	defaultFetchTimeout = 30 * time.Second
	defaultParallelism  = 2
)

// CrawlerConfig tunes the web loaders. Zero fields select the defaults.
type CrawlerConfig struct {
	UserAgent   string
	Delay       time.Duration // minimum interval between fetches
	Parallelism int           // fetches allowed to burst before Delay paces them
	MaxBodySize int
	Timeout     time.Duration
}

func (c CrawlerConfig) withDefaults() CrawlerConfig {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Delay <= 0 {
		c.Delay = defaultFetchDelay
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = defaultMaxBodySize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultFetchTimeout
	}
	return c
}

// UploadStore is the part of Uploads the FileLoader depends on.
type UploadStore interface {
	Get(ctx context.Context, id int64) (*Upload, error)
	Open(up *Upload) (io.ReadCloser, error)
}

// FileLoader turns a staged upload into document content.
type FileLoader struct {
	uploads UploadStore
	logger  log.Logger
}

// NewFileLoader creates a FileLoader reading from uploads.
func NewFileLoader(uploads UploadStore, logger log.Logger) *FileLoader {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	return &FileLoader{uploads: uploads, logger: logger}
}

// Load reads the upload referenced by cfg and extracts its text. HTML
// uploads go through readability; plain text and markdown pass through
// unchanged.
func (l *FileLoader) Load(ctx context.Context, cfg FileConfig) (*LoadedDoc, error) {
	up, err := l.uploads.Get(ctx, cfg.UploadID)
	if err != nil {
		return nil, err
	}

	f, err := l.uploads.Open(up)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading upload %d: %w", up.ID, err)
	}

	doc := &LoadedDoc{
		Name:      up.Name,
		MimeType:  up.MimeType,
		SourceURI: "upload://" + up.Path,
		Content:   string(raw),
	}
	if up.MimeType == "text/html" {
		article, err := readability.FromReader(bytes.NewReader(raw),
			&url.URL{Scheme: "upload", Host: "local", Path: "/" + up.Path})
		if err != nil {
			return nil, fmt.Errorf("extracting text from upload %d: %w", up.ID, err)
		}
		doc.Content = article.TextContent
		doc.MimeType = "text/plain"
		if title := strings.TrimSpace(article.Title); title != "" {
			doc.Name = title
		}
	}

	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("upload %d: no text content", up.ID)
	}

	l.logger.Debug("loaded upload", "upload_id", up.ID, "content_length", len(doc.Content))
	return doc, nil
}

// PageLoader fetches a single web page and extracts its readable text.
// One limiter paces every fetch through the same loader, so a sitemap
// fan-out cannot hammer the target host.
type PageLoader struct {
	cfg     CrawlerConfig
	limiter *rate.Limiter
	logger  log.Logger
}

// NewPageLoader creates a PageLoader with the given crawler configuration.
func NewPageLoader(cfg CrawlerConfig, logger log.Logger) *PageLoader {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	cfg = cfg.withDefaults()
	return &PageLoader{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), cfg.Parallelism),
		logger:  logger,
	}
}

// Load fetches pageURL and extracts the page title (first <title>, then
// the readability title) and readable text.
func (l *PageLoader) Load(ctx context.Context, pageURL string) (*LoadedDoc, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for fetch slot: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(l.cfg.UserAgent),
		colly.MaxBodySize(l.cfg.MaxBodySize),
	)
	c.SetRequestTimeout(l.cfg.Timeout)

	var (
		body        []byte
		contentType string
		fetchErr    error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		contentType = r.Headers.Get("Content-Type")
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, fetchErr)
	}

	switch mt := normalizeMime(contentType); mt {
	case "text/html", "application/xhtml+xml", "":
	case "text/plain":
		content := strings.TrimSpace(string(body))
		if content == "" {
			return nil, fmt.Errorf("%s: no text content", pageURL)
		}
		return &LoadedDoc{Name: pageURL, MimeType: "text/plain", SourceURI: pageURL, Content: content}, nil
	default:
		return nil, fmt.Errorf("%w: %s returned %q", ErrUnsupportedContent, pageURL, contentType)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", pageURL, err)
	}

	var title string
	if doc, qErr := goquery.NewDocumentFromReader(bytes.NewReader(body)); qErr == nil {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(article.Title)
	}
	if title == "" {
		title = pageURL
	}

	content := strings.TrimSpace(article.TextContent)
	if content == "" {
		return nil, fmt.Errorf("%s: no readable text", pageURL)
	}

	l.logger.Debug("loaded page", "url", pageURL, "title", title, "content_length", len(content))
	return &LoadedDoc{
		Name:      title,
		MimeType:  "text/plain",
		SourceURI: pageURL,
		Content:   content,
	}, nil
}
