//go:build !otel

package cmd

import (
	"context"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

// initTracing is a no-op without the otel build tag.
func initTracing(_ context.Context, _ *config.Config) func() {
	return func() {}
}
