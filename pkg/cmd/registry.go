package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowline/pkg/credentials"
	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// NewRegistry builds the registry of every built-in node type.
func NewRegistry(deps protocol.Dependencies) (*registry.Registry, error) {
	return registry.RegisterDefaultNodes(registry.NewBuilder(deps.Logger)).Build(deps)
}

// NewCredentialResolver decrypts credentials stored in p with the hex-encoded AES-256 key.
func NewCredentialResolver(p persistence.Persistence, encryptionKey string, logger *slog.Logger) (*credentials.Resolver, error) {
	cipher, err := credentials.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}

	return credentials.NewResolver(p.CredentialRepository(), cipher, logger), nil
}

// NewTracer exports spans over OTLP/HTTP when enabled, otherwise it returns
// the tracer of the global (no-op) provider.
//
//nolint:ireturn // trace.Tracer is the OpenTelemetry interface
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, error) {
	if !enabled {
		return otel.Tracer(serviceName), nil
	}

	return otelhelper.NewTracer(ctx, serviceName)
}
