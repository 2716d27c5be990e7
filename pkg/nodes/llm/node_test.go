package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/steps"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedCall struct {
	path    string
	headers http.Header
	body    map[string]any
}

func newProviderServer(t *testing.T, response string, calls *atomic.Int32, captured *capturedCall) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&captured.body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)

	return server
}

func TestLLMNodes_Generate(t *testing.T) {
	tests := []struct {
		name      string
		factory   *Factory
		response  string
		wantPath  string
		authKey   string
		authValue string
	}{
		{
			name:      "anthropic",
			factory:   NewAnthropicFactory(),
			response:  `{"content":[{"type":"tool_use","id":"x"},{"type":"text","text":"Hello there"}]}`,
			wantPath:  "/v1/messages",
			authKey:   "X-Api-Key",
			authValue: "sk-test",
		},
		{
			name:      "openai",
			factory:   NewOpenAIFactory(),
			response:  `{"choices":[{"message":{"role":"assistant","content":"Hello there"}}]}`,
			wantPath:  "/v1/chat/completions",
			authKey:   "Authorization",
			authValue: "Bearer sk-test",
		},
		{
			name:      "gemini",
			factory:   NewGeminiFactory(),
			response:  `{"candidates":[{"content":{"parts":[{"text":"Hello there"}]}}]}`,
			wantPath:  "/v1beta/models/" + DefaultGeminiModel + ":generateContent",
			authKey:   "X-Goog-Api-Key",
			authValue: "sk-test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				calls    atomic.Int32
				captured capturedCall
			)

			server := newProviderServer(t, tt.response, &calls, &captured)

			executor, err := tt.factory.Create(protocol.Dependencies{
				Logger:      testutil.NopLogger(),
				Credentials: testutil.NewStaticCredentials(map[string]string{"cred-1": "sk-test"}),
				Endpoints: protocol.Endpoints{
					Anthropic: server.URL,
					OpenAI:    server.URL,
					Gemini:    server.URL,
				},
				Telemetry: true,
			})
			require.NoError(t, err)

			sc := models.NewSharedContext(map[string]any{"page": map[string]any{"title": "Go"}})
			req, recorder := testutil.NewRequest("llm-1", map[string]any{
				"variableName": "summary",
				"credentialId": "cred-1",
				"userPrompt":   "Summarize {{ .page.title }}",
			}, sc)

			out, err := executor.Execute(context.Background(), req)
			require.NoError(t, err)

			result, ok := out.Get("summary")
			require.True(t, ok)
			assert.Equal(t, map[string]any{"aiResponse": "Hello there"}, result)

			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, tt.wantPath, captured.path)
			assert.Equal(t, tt.authValue, captured.headers.Get(tt.authKey))
			assert.Contains(t, mustJSON(t, captured.body), "Summarize Go")
			assert.Contains(t, mustJSON(t, captured.body), DefaultSystemPrompt)
			assert.Equal(t, []models.NodeStatus{models.NodeStatusLoading, models.NodeStatusSuccess}, recorder.StatusesFor("llm-1"))
			assert.Equal(t, tt.factory.Channel(), recorder.Events()[0].Channel)
		})
	}
}

func TestLLMNode_MissingCredential(t *testing.T) {
	var (
		calls    atomic.Int32
		captured capturedCall
	)

	server := newProviderServer(t, `{}`, &calls, &captured)
	credentials := testutil.NewStaticCredentials(map[string]string{})

	executor, err := NewAnthropicFactory().Create(protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: credentials,
		Endpoints:   protocol.Endpoints{Anthropic: server.URL},
	})
	require.NoError(t, err)

	req, recorder := testutil.NewRequest("llm-1", map[string]any{
		"variableName": "summary",
		"credentialId": "does-not-exist",
		"userPrompt":   "hi",
	}, models.SharedContext{})

	_, err = executor.Execute(context.Background(), req)
	require.Error(t, err)

	assert.True(t, protocol.IsCredentialNotFound(err))
	assert.True(t, protocol.IsNonRetriable(err))
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, credentials.Calls())
	assert.Equal(t, 1, recorder.Count("llm-1", models.NodeStatusError))
	assert.Equal(t, []models.NodeStatus{models.NodeStatusLoading, models.NodeStatusError}, recorder.StatusesFor("llm-1"))
}

func TestLLMNode_ConfigurationErrors(t *testing.T) {
	executor, err := NewOpenAIFactory().Create(protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: testutil.NewStaticCredentials(map[string]string{"cred-1": "k"}),
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		data map[string]any
	}{
		{name: "missing prompt", data: map[string]any{"variableName": "v", "credentialId": "cred-1"}},
		{name: "missing credential", data: map[string]any{"variableName": "v", "userPrompt": "hi"}},
		{name: "missing variable", data: map[string]any{"credentialId": "cred-1", "userPrompt": "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, recorder := testutil.NewRequest("llm-1", tt.data, models.SharedContext{})

			_, err := executor.Execute(context.Background(), req)
			require.Error(t, err)
			assert.True(t, protocol.IsConfigurationError(err))
			assert.Equal(t, 1, recorder.Count("llm-1", models.NodeStatusError))
		})
	}
}

func TestLLMNode_ProviderErrorIsExternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	executor, err := NewAnthropicFactory().Create(protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: testutil.NewStaticCredentials(map[string]string{"cred-1": "bad"}),
		Endpoints:   protocol.Endpoints{Anthropic: server.URL},
	})
	require.NoError(t, err)

	req, _ := testutil.NewRequest("llm-1", map[string]any{
		"variableName": "v",
		"credentialId": "cred-1",
		"userPrompt":   "hi",
	}, models.SharedContext{})

	_, err = executor.Execute(context.Background(), req)

	var extErr *protocol.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, http.StatusUnauthorized, extErr.StatusCode)
	assert.Contains(t, err.Error(), "invalid x-api-key")
}

func TestLLMNode_ReplaysGeneration(t *testing.T) {
	var (
		calls    atomic.Int32
		captured capturedCall
	)

	server := newProviderServer(t, `{"choices":[{"message":{"content":"once"}}]}`, &calls, &captured)

	executor, err := NewOpenAIFactory().Create(protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: testutil.NewStaticCredentials(map[string]string{"cred-1": "k"}),
		Endpoints:   protocol.Endpoints{OpenAI: server.URL},
	})
	require.NoError(t, err)

	req, _ := testutil.NewRequest("llm-1", map[string]any{
		"variableName": "v",
		"credentialId": "cred-1",
		"userPrompt":   "hi",
		"model":        "gpt-4o",
	}, models.SharedContext{})

	for range 2 {
		_, err = executor.Execute(context.Background(), req)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "gpt-4o", captured.body["model"])
}

func TestLLMNode_ReplayNeedsNoCredential(t *testing.T) {
	var (
		calls    atomic.Int32
		captured capturedCall
	)

	server := newProviderServer(t, `{}`, &calls, &captured)
	credentials := testutil.NewStaticCredentials(nil)

	executor, err := NewAnthropicFactory().Create(protocol.Dependencies{
		Logger:      testutil.NopLogger(),
		Credentials: credentials,
		Endpoints:   protocol.Endpoints{Anthropic: server.URL},
	})
	require.NoError(t, err)

	req, _ := testutil.NewRequest("claude", map[string]any{
		"variableName": "v",
		"credentialId": "deleted",
		"userPrompt":   "hi",
	}, models.SharedContext{})

	store := steps.NewMemoryStore()
	require.NoError(t, store.SaveStep(context.Background(), req.ExecutionID, "claude/anthropic-generate-text", []byte(`"recorded answer"`)))
	req.Steps = steps.NewRunner(store, req.ExecutionID, testutil.NopLogger())

	out, err := executor.Execute(context.Background(), req)
	require.NoError(t, err)

	result, _ := out.Get("v")
	assert.Equal(t, map[string]any{"aiResponse": "recorded answer"}, result)
	assert.Zero(t, calls.Load())
	assert.Zero(t, credentials.Calls())
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return string(b)
}
