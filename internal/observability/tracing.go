// Package observability wires OpenTelemetry trace export into the process.
//
// Genkit owns the global TracerProvider and already spans every model and
// embedder call; this package only attaches an OTLP/HTTP exporter to it so
// those spans (and ours) leave the process. The export target is any OTLP/HTTP
// collector — an otel-collector sidecar, a vendor agent listening on
// localhost:4318, or nothing at all: export is off unless otel.enabled is set.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tidegraph/tidegraph/internal/log"
)

// DefaultEndpoint is the conventional local OTLP/HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// shutdownTimeout bounds the final span flush during teardown.
const shutdownTimeout = 5 * time.Second

// Config for trace export.
type Config struct {
	// Endpoint is the OTLP/HTTP collector endpoint (host:port, no scheme).
	Endpoint string
	// Environment tags spans with deployment.environment.
	Environment string
	// ServiceName is the reported service name.
	ServiceName string
	// Enabled turns export on; when false Setup is a no-op.
	Enabled bool
}

// Setup registers an OTLP/HTTP span exporter with Genkit's TracerProvider.
// Must run before genkit.Init so the provider is ready when plugins register.
//
// Returns a shutdown function that flushes pending spans; it is always
// non-nil and safe to call. Exporter construction failures disable tracing
// with a warning instead of failing startup — traces are never worth a
// refused boot.
func Setup(ctx context.Context, cfg Config, logger log.Logger) func() {
	if !cfg.Enabled {
		return func() {}
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads service identity from the OTEL
	// environment. Setup runs once during startup before any goroutines,
	// so the os.Setenv race does not apply.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// The collector terminates TLS where needed; the app-to-collector hop
	// is plaintext OTLP/HTTP.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown

	//nolint:contextcheck // Independent context: shutdown runs during teardown when the parent is canceled.
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
