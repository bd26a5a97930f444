package datasource

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/tidegraph/tidegraph/internal/log"
)

// sitemapMaxDepth caps nested <sitemapindex> recursion.
const sitemapMaxDepth = 3

// sitemapDocument matches both <urlset> and <sitemapindex> roots; the
// decoder fills whichever element list the document carries.
type sitemapDocument struct {
	XMLName  xml.Name
	Sitemaps []sitemapLoc `xml:"sitemap"`
	URLs     []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// SitemapLoader expands a sitemap URL into the page URLs it lists.
// Nested sitemap indexes are followed up to sitemapMaxDepth levels.
type SitemapLoader struct {
	cfg     CrawlerConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// NewSitemapLoader creates a SitemapLoader. A nil client gets a default
// one with the configured timeout.
func NewSitemapLoader(cfg CrawlerConfig, client *http.Client, logger log.Logger) *SitemapLoader {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &SitemapLoader{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), cfg.Parallelism),
		logger:  logger,
	}
}

// Load fetches sitemapURL and returns the page URLs it lists, in document
// order with duplicates dropped.
func (l *SitemapLoader) Load(ctx context.Context, sitemapURL string) ([]string, error) {
	seen := make(map[string]struct{})
	var pages []string
	if err := l.walk(ctx, sitemapURL, 0, seen, &pages); err != nil {
		return nil, err
	}
	l.logger.Debug("expanded sitemap", "url", sitemapURL, "pages", len(pages))
	return pages, nil
}

func (l *SitemapLoader) walk(ctx context.Context, sitemapURL string, depth int, seen map[string]struct{}, pages *[]string) error {
	if depth > sitemapMaxDepth {
		return fmt.Errorf("sitemap %s: nested deeper than %d levels", sitemapURL, sitemapMaxDepth)
	}
	if _, ok := seen[sitemapURL]; ok {
		return nil
	}
	seen[sitemapURL] = struct{}{}

	data, err := l.fetch(ctx, sitemapURL)
	if err != nil {
		return err
	}

	var root sitemapDocument
	if err := xml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parsing sitemap %s: %w", sitemapURL, err)
	}

	switch root.XMLName.Local {
	case "sitemapindex":
		for _, sm := range root.Sitemaps {
			loc := strings.TrimSpace(sm.Loc)
			if loc == "" {
				continue
			}
			if err := l.walk(ctx, loc, depth+1, seen, pages); err != nil {
				return err
			}
		}
	case "urlset":
		for _, u := range root.URLs {
			loc := strings.TrimSpace(u.Loc)
			if loc == "" {
				continue
			}
			if _, ok := seen[loc]; ok {
				continue
			}
			seen[loc] = struct{}{}
			*pages = append(*pages, loc)
		}
	default:
		return fmt.Errorf("sitemap %s: unexpected root element <%s>", sitemapURL, root.XMLName.Local)
	}
	return nil
}

func (l *SitemapLoader) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for fetch slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching sitemap %s: %w", sitemapURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching sitemap %s: status %d", sitemapURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(l.cfg.MaxBodySize)))
	if err != nil {
		return nil, fmt.Errorf("reading sitemap %s: %w", sitemapURL, err)
	}
	return data, nil
}
