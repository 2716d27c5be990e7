package nodes

import (
	"context"

	"github.com/dukex/flowline/pkg/otelhelper"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CredentialStep is the durable step of a credential lookup.
const CredentialStep = "get-credential"

// ResolveCredential returns the plaintext credential owned by the request's
// user. The lookup is the durable step "<nodeID>/get-credential" and records
// the sealed value only; decryption runs on every call.
//
// Call it from inside the step that uses the credential, so a replayed step
// never reads the credential store.
func ResolveCredential(ctx context.Context, tracer trace.Tracer, resolver protocol.CredentialResolver, req protocol.Request, credentialID string) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, Tracer(tracer), CredentialStep,
		attribute.String(otelhelper.NodeIDKey, req.NodeID),
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
	)
	defer span.End()

	if resolver == nil {
		err := &protocol.CredentialNotFoundError{CredentialID: credentialID, UserID: req.UserID}
		otelhelper.SetError(span, err)

		return "", err
	}

	sealed, err := steps.Do(ctx, req.Steps, steps.Name(req.NodeID, CredentialStep), func(ctx context.Context) (string, error) {
		return resolver.Lookup(ctx, credentialID, req.UserID)
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	value, err := resolver.Open(ctx, sealed)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	return value, nil
}
