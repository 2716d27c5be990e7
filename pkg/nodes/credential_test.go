package nodes

import (
	"context"
	"testing"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCredential_RecordsSealedValue(t *testing.T) {
	ctx := context.Background()
	store := steps.NewMemoryStore()
	credentials := testutil.NewStaticCredentials(map[string]string{"cred-1": "sk-live"})

	req, _ := testutil.NewRequest("llm-1", nil, models.SharedContext{})
	req.Steps = steps.NewRunner(store, req.ExecutionID, testutil.NopLogger())

	value, err := ResolveCredential(ctx, nil, credentials, req, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-live", value)

	recorded, err := store.GetStep(ctx, req.ExecutionID, "llm-1/get-credential")
	require.NoError(t, err)
	assert.JSONEq(t, `"sealed:sk-live"`, string(recorded))

	// A re-run replays the recorded lookup even once the credential is gone.
	value, err = ResolveCredential(ctx, nil, testutil.NewStaticCredentials(nil), req, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-live", value)
	assert.Equal(t, 1, credentials.Calls())
}

func TestResolveCredential_NotFoundIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	store := steps.NewMemoryStore()

	req, _ := testutil.NewRequest("llm-1", nil, models.SharedContext{})
	req.Steps = steps.NewRunner(store, req.ExecutionID, testutil.NopLogger())

	_, err := ResolveCredential(ctx, nil, testutil.NewStaticCredentials(nil), req, "cred-1")
	assert.True(t, protocol.IsCredentialNotFound(err))

	_, err = store.GetStep(ctx, req.ExecutionID, "llm-1/get-credential")
	assert.ErrorIs(t, err, steps.ErrStepNotFound)

	_, err = ResolveCredential(ctx, nil, nil, req, "cred-1")
	assert.True(t, protocol.IsCredentialNotFound(err))
}
