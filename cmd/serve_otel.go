//go:build otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/tracing/otelexport"
)

// initTracing installs the OTLP trace exporter when an endpoint is
// configured. Only compiled with -tags otel.
func initTracing(ctx context.Context, cfg *config.Config) func() {
	if cfg.OTelEndpoint == "" {
		slog.Debug("OTel export available but not enabled (set AGENTGATE_OTEL_ENDPOINT)")
		return func() {}
	}

	shutdown, err := otelexport.Init(ctx, otelexport.Config{
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    true,
		ServiceName: "agentgate",
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return func() {}
	}

	slog.Info("OpenTelemetry OTLP export enabled", "endpoint", cfg.OTelEndpoint)
	return func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("OTel shutdown failed", "error", err)
		}
	}
}
