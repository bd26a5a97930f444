// Package datasource manages the inputs of a knowledge base: uploaded
// files, single web pages and sitemaps. A DataSource records where content
// comes from; the loaders in this package turn one source into document
// content for indexing.
//
// Deleting a data source is a soft delete. The documents it produced are
// purged separately by the ingestion worker so a slow purge never blocks
// the API request.
package datasource

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Kind identifies how a data source's content is obtained.
type Kind string

const (
	// KindFile imports one staged upload.
	KindFile Kind = "file"

	// KindWebSinglePage fetches one web page.
	KindWebSinglePage Kind = "web_single_page"

	// KindWebSitemap walks a sitemap and imports every page it lists.
	KindWebSitemap Kind = "web_sitemap"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindFile || k == KindWebSinglePage || k == KindWebSitemap
}

// DataSource is one configured input of a knowledge base. Config holds the
// kind-specific payload; DeletedAt marks a soft-deleted source that is kept
// for the audit trail but excluded from listings and imports.
type DataSource struct {
	ID        int64           `json:"id"`
	KBID      int64           `json:"knowledge_base_id"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"kind"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// FileConfig is the Config payload of KindFile.
type FileConfig struct {
	UploadID int64 `json:"upload_id"`
}

// PageConfig is the Config payload of KindWebSinglePage.
type PageConfig struct {
	URL string `json:"url"`
}

// SitemapConfig is the Config payload of KindWebSitemap.
type SitemapConfig struct {
	URL string `json:"url"`
}

// ValidateConfig checks that raw is a well-formed payload for the kind.
// Unknown JSON fields are tolerated.
func ValidateConfig(kind Kind, raw json.RawMessage) error {
	switch kind {
	case KindFile:
		cfg, err := ParseFileConfig(raw)
		if err != nil {
			return err
		}
		if cfg.UploadID <= 0 {
			return fmt.Errorf("%w: upload_id must be a positive upload reference", ErrInvalidConfig)
		}
	case KindWebSinglePage:
		cfg, err := ParsePageConfig(raw)
		if err != nil {
			return err
		}
		return validateURL(cfg.URL)
	case KindWebSitemap:
		cfg, err := ParseSitemapConfig(raw)
		if err != nil {
			return err
		}
		return validateURL(cfg.URL)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, kind)
	}
	return nil
}

// ParseFileConfig decodes a KindFile payload.
func ParseFileConfig(raw json.RawMessage) (FileConfig, error) {
	var cfg FileConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ParsePageConfig decodes a KindWebSinglePage payload.
func ParsePageConfig(raw json.RawMessage) (PageConfig, error) {
	var cfg PageConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return PageConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ParseSitemapConfig decodes a KindWebSitemap payload.
func ParseSitemapConfig(raw json.RawMessage) (SitemapConfig, error) {
	var cfg SitemapConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return SitemapConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: url must not be empty", ErrInvalidConfig)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q must be absolute http(s)", ErrInvalidConfig, rawURL)
	}
	return nil
}
