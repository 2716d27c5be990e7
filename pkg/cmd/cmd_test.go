package cmd

import (
	"path/filepath"
	"testing"

	"github.com/dukex/flowline/pkg/persistence/file"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	dir := t.TempDir()

	for _, url := range []string{"file://" + dir, filepath.Join(dir, "plain")} {
		p, err := NewPersistence(t.Context(), testutil.NopLogger(), url)
		require.NoError(t, err, url)
		assert.IsType(t, &file.Persistence{}, p)
	}

	_, err := NewPersistence(t.Context(), testutil.NopLogger(), "mongodb://localhost")
	assert.ErrorContains(t, err, "unsupported persistence provider")

	_, err = NewPersistence(t.Context(), testutil.NopLogger(), "file://")
	assert.Error(t, err)
}

func TestNewTransport(t *testing.T) {
	transport, err := NewTransport("gochannel", "flowline", "", testutil.NopLogger())
	require.NoError(t, err)
	assert.NotNil(t, NewEventBus(transport, testutil.NopLogger()))
	assert.NotNil(t, NewStatusPublisher(transport, testutil.NopLogger()))
	assert.NotSame(t, transport.Publisher, transport.StatusPublisher, "status events use their own ordered channel")
	assert.NoError(t, transport.CloseStatus())

	_, err = NewTransport("kafka", "flowline", " , ", testutil.NopLogger())
	assert.Error(t, err)

	_, err = NewTransport("nats", "flowline", "", testutil.NopLogger())
	assert.ErrorContains(t, err, "unsupported event bus provider")
}

func TestNewStepStore(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	ctx := t.Context()

	store, closeStore, err := NewStepStore(ctx, "", p, testutil.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, p.StepRepository(), store)
	require.NoError(t, closeStore())

	store, _, err = NewStepStore(ctx, "memory", p, testutil.NopLogger())
	require.NoError(t, err)
	assert.IsType(t, &steps.MemoryStore{}, store)

	_, _, err = NewStepStore(ctx, "redis://127.0.0.1:1/2", p, testutil.NopLogger())
	assert.ErrorContains(t, err, "failed to reach step store")

	_, _, err = NewStepStore(ctx, "redis://localhost:6379/not-a-db", p, testutil.NopLogger())
	assert.Error(t, err)

	_, _, err = NewStepStore(ctx, "s3://bucket", p, testutil.NopLogger())
	assert.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(protocol.Dependencies{Logger: testutil.NopLogger()})
	require.NoError(t, err)
	assert.Len(t, reg.Types(), 13)
}

func TestNewCredentialResolver(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	_, err := NewCredentialResolver(p, "short", testutil.NopLogger())
	assert.Error(t, err)

	resolver, err := NewCredentialResolver(p, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", testutil.NopLogger())
	require.NoError(t, err)
	assert.NotNil(t, resolver)
}

func TestNewTracer(t *testing.T) {
	tracer, err := NewTracer(t.Context(), false, "flowline-test")
	require.NoError(t, err)
	assert.NotNil(t, tracer)
}
