package config

import (
	"encoding/json"
	"fmt"
)

// Broker kinds accepted in BrokerConfig.Kind.
const (
	// BrokerChannel runs the task bus in-process. Tasks die with the process;
	// suitable for single-binary deployments and tests.
	BrokerChannel = "channel"

	// BrokerRedis runs the task bus on Redis Streams so `tidegraph worker`
	// processes can consume ingestion tasks independently of the API server.
	BrokerRedis = "redis"
)

// BrokerConfig selects the ingestion task bus.
type BrokerConfig struct {
	Kind          string `mapstructure:"kind" json:"kind"`                     // "channel" (default) or "redis"
	ConsumerGroup string `mapstructure:"consumer_group" json:"consumer_group"` // Redis Streams consumer group (default: tidegraph)
}

// RedisConfig holds the Redis connection used by the redis broker.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"` // SENSITIVE: masked in MarshalJSON
	DB       int    `mapstructure:"db" json:"db"`
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (r RedisConfig) MarshalJSON() ([]byte, error) {
	type alias RedisConfig
	a := alias(r)
	a.Password = maskSecret(a.Password)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal redis config: %w", err)
	}
	return data, nil
}

// CrawlerConfig holds politeness settings for web data source loading.
type CrawlerConfig struct {
	// Parallelism is max concurrent requests per domain (default: 2)
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is delay between requests in milliseconds (default: 1000)
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// MaxPages caps how many sitemap URLs a single import will fetch (default: 200)
	MaxPages int `mapstructure:"max_pages" json:"max_pages"`
	// UserAgent identifies the crawler to origin servers
	UserAgent string `mapstructure:"user_agent" json:"user_agent"`
}

// UploadsConfig holds file upload staging settings.
type UploadsConfig struct {
	// Dir is the staging directory (default: ~/.tidegraph/uploads)
	Dir string `mapstructure:"dir" json:"dir"`
	// MaxSizeMB is the per-file upload limit in megabytes (default: 50)
	MaxSizeMB int `mapstructure:"max_size_mb" json:"max_size_mb"`
}

// RerankerConfig holds reranker settings. The retrieval path does not invoke
// a reranker; the section exists so deployments that set it keep working
// when one lands.
type RerankerConfig struct {
	Provider string `mapstructure:"provider" json:"provider"`
	Model    string `mapstructure:"model" json:"model"`
	TopN     int    `mapstructure:"top_n" json:"top_n"`
}
