package rowinsert

import (
	"context"
	"testing"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T, credentials protocol.CredentialResolver) protocol.NodeExecutor {
	t.Helper()

	executor, err := NewFactory().Create(protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: credentials,
	})
	require.NoError(t, err)

	return executor
}

func TestParseCredential(t *testing.T) {
	endpoint, key, err := ParseCredential("n", `{"endpointUrl":"https://db.example.com","apiKey":"k1"}`)
	require.NoError(t, err)
	assert.Equal(t, "https://db.example.com", endpoint)
	assert.Equal(t, "k1", key)

	endpoint, key, err = ParseCredential("n", `{"url":"https://old.example.com","key":"k2"}`)
	require.NoError(t, err)
	assert.Equal(t, "https://old.example.com", endpoint)
	assert.Equal(t, "k2", key)

	_, _, err = ParseCredential("n", "plain-key")
	assert.True(t, protocol.IsConfigurationError(err))

	_, _, err = ParseCredential("n", `{"endpointUrl":"https://db.example.com"}`)
	assert.True(t, protocol.IsConfigurationError(err))
}

func TestBuildRow(t *testing.T) {
	sc := models.NewSharedContext(map[string]any{
		"form": map[string]any{"email": "ada@example.com", "age": 36, "tags": []any{"a"}},
	})

	row, err := BuildRow("n", []ColumnMapping{
		{Column: "email", Value: "{{ .form.email }}"},
		{Column: "age", Value: "{{ .form.age }}"},
		{Column: "tags", Value: "{{ json .form.tags }}"},
		{Column: "active", Value: "true"},
		{Column: "id", Value: ""},
		{Column: "nickname", Value: "{{ .form.nickname }}"},
		{Column: "note", Value: "   "},
	}, sc)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"email":  "ada@example.com",
		"age":    36.0,
		"tags":   []any{"a"},
		"active": true,
	}, row)
}

func TestBuildRow_InvalidJSON(t *testing.T) {
	_, err := BuildRow("n", []ColumnMapping{
		{Column: "payload", Value: "{not json}"},
	}, models.SharedContext{})

	require.Error(t, err)
	assert.True(t, protocol.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "payload")
}

func TestRowInsert_Execute(t *testing.T) {
	store := testutil.NewRowStore(t, "service-key")
	credentials := testutil.NewStaticCredentials(map[string]string{"cred-1": store.Credential()})

	sc := models.NewSharedContext(map[string]any{"form": map[string]any{"email": "ada@example.com"}})
	req, recorder := testutil.NewRequest("insert-1", map[string]any{
		"credentialId": "cred-1",
		"table":        "leads",
		"variableName": "lead",
		"mapping": []any{
			map[string]any{"column": "email", "value": "{{ .form.email }}"},
		},
	}, sc)

	executor := newExecutor(t, credentials)

	out, err := executor.Execute(context.Background(), req)
	require.NoError(t, err)

	lead, ok := out.Get("lead")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": 1.0, "email": "ada@example.com"}, lead)
	assert.Equal(t, []models.NodeStatus{models.NodeStatusLoading, models.NodeStatusSuccess}, recorder.StatusesFor("insert-1"))

	// A second run of the same execution replays the recorded row.
	again, err := executor.Execute(context.Background(), req)
	require.NoError(t, err)

	replayed, _ := again.Get("lead")
	assert.Equal(t, lead, replayed)
	assert.Len(t, store.Rows("leads"), 1)
}

func TestRowInsert_AllColumnsEmpty(t *testing.T) {
	store := testutil.NewRowStore(t, "service-key")
	credentials := testutil.NewStaticCredentials(map[string]string{"cred-1": store.Credential()})

	req, _ := testutil.NewRequest("insert-1", map[string]any{
		"credentialId": "cred-1",
		"table":        "events",
		"mapping": []any{
			map[string]any{"column": "id", "value": ""},
			map[string]any{"column": "name", "value": "{{ .missing }}"},
			map[string]any{"column": "count", "value": "  "},
		},
	}, models.SharedContext{})

	out, err := newExecutor(t, credentials).Execute(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, store.Bodies(), 1)
	assert.Equal(t, []map[string]any{{}}, store.Bodies()[0])

	legacy, ok := out.Get(LegacyOutputKey)
	require.True(t, ok)
	assert.Equal(t, []map[string]any{{"id": 1.0}}, legacy)
}

func TestRowInsert_Errors(t *testing.T) {
	store := testutil.NewRowStore(t, "service-key")

	t.Run("missing credential", func(t *testing.T) {
		req, recorder := testutil.NewRequest("insert-1", map[string]any{
			"credentialId": "absent",
			"table":        "leads",
			"mapping":      []any{},
		}, models.SharedContext{})

		_, err := newExecutor(t, testutil.NewStaticCredentials(nil)).Execute(context.Background(), req)
		assert.True(t, protocol.IsCredentialNotFound(err))
		assert.Equal(t, 1, recorder.Count("insert-1", models.NodeStatusError))
		assert.Empty(t, store.Bodies())
	})

	t.Run("missing mapping", func(t *testing.T) {
		req, _ := testutil.NewRequest("insert-1", map[string]any{
			"credentialId": "cred-1",
			"table":        "leads",
		}, models.SharedContext{})

		_, err := newExecutor(t, testutil.NewStaticCredentials(nil)).Execute(context.Background(), req)
		assert.True(t, protocol.IsConfigurationError(err))
	})

	t.Run("store rejects key", func(t *testing.T) {
		credentials := testutil.NewStaticCredentials(map[string]string{
			"cred-1": `{"endpointUrl":"` + store.URL + `","apiKey":"wrong"}`,
		})

		req, _ := testutil.NewRequest("insert-1", map[string]any{
			"credentialId": "cred-1",
			"table":        "leads",
			"mapping":      []any{},
		}, models.SharedContext{})

		_, err := newExecutor(t, credentials).Execute(context.Background(), req)

		var extErr *protocol.ExternalServiceError
		require.ErrorAs(t, err, &extErr)
		assert.Equal(t, 401, extErr.StatusCode)
		assert.Contains(t, err.Error(), "Invalid API key")
	})
}
