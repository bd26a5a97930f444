package config

// OtelConfig holds OTLP trace export configuration.
//
// Traces are exported over OTLP/HTTP to a local collector or agent.
// See internal/observability for the exporter setup.
type OtelConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318)
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the reported service name (default: tidegraph)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	// Enabled turns trace export on. Off by default so local development
	// does not require a collector.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}
