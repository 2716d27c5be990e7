package screenshot

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/protocol"
	"github.com/dukex/flowline/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newExecutor(baseURL string, credentials protocol.CredentialResolver) *nodes.Lifecycle {
	node := &Node{
		client:      http.DefaultClient,
		baseURL:     baseURL,
		credentials: credentials,
		tracer:      nodes.Tracer(nil),
		logger:      testutil.NopLogger(),
		now:         func() time.Time { return fixedNow },
	}

	return nodes.NewLifecycle(NewFactory().Channel(), node.Execute)
}

func TestCaptureURL(t *testing.T) {
	got := CaptureURL("https://capture.example.com/", "key 1", Capture{
		URL:      "https://example.com/?q=a&b=c",
		Format:   "webp",
		Width:    800,
		Height:   600,
		FullPage: false,
	})

	assert.Equal(t,
		"https://capture.example.com/v1/urltoimage?access_key=key+1&format=webp&full_page=false&height=600&url=https%3A%2F%2Fexample.com%2F%3Fq%3Da%26b%3Dc&width=800",
		got)
}

func TestScreenshot_Execute(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		q := r.URL.Query()
		assert.Equal(t, "/v1/urltoimage", r.URL.Path)
		assert.Equal(t, "capture-key", q.Get("access_key"))
		assert.Equal(t, "https://example.com/products", q.Get("url"))
		assert.Equal(t, "png", q.Get("format"))
		assert.Equal(t, "true", q.Get("full_page"))
		assert.Equal(t, "1920", q.Get("width"))
		assert.Equal(t, "1080", q.Get("height"))

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("fake-png"))
	}))
	defer server.Close()

	executor := newExecutor(server.URL, testutil.NewStaticCredentials(map[string]string{"cred-1": "capture-key"}))

	sc := models.NewSharedContext(map[string]any{"path": "products"})
	req, recorder := testutil.NewRequest("shot-1", map[string]any{
		"variableName": "shot",
		"url":          "https://example.com/{{ .path }}",
		"credentialId": "cred-1",
	}, sc)

	out, err := executor.Execute(context.Background(), req)
	require.NoError(t, err)

	value, ok := out.Get("shot")
	require.True(t, ok)

	assert.Equal(t, map[string]any{
		"screenshot": map[string]any{
			"base64":    base64.StdEncoding.EncodeToString([]byte("fake-png")),
			"url":       "https://example.com/products",
			"format":    "png",
			"width":     1920,
			"height":    1080,
			"fullPage":  true,
			"timestamp": "2025-03-01T12:00:00Z",
		},
	}, value)
	assert.Equal(t, []models.NodeStatus{models.NodeStatusLoading, models.NodeStatusSuccess}, recorder.StatusesFor("shot-1"))

	_, err = executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScreenshot_Options(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "jpeg", q.Get("format"))
		assert.Equal(t, "false", q.Get("full_page"))
		assert.Equal(t, "640", q.Get("width"))
		assert.Equal(t, "480", q.Get("height"))
		_, _ = w.Write([]byte("jpg"))
	}))
	defer server.Close()

	executor := newExecutor(server.URL, testutil.NewStaticCredentials(map[string]string{"cred-1": "k"}))

	req, _ := testutil.NewRequest("shot-1", map[string]any{
		"variableName": "shot",
		"url":          "https://example.com",
		"credentialId": "cred-1",
		"format":       "jpeg",
		"fullPage":     false,
		"width":        640,
		"height":       480,
	}, models.SharedContext{})

	_, err := executor.Execute(context.Background(), req)
	require.NoError(t, err)
}

func TestScreenshot_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("quota exceeded"))
	}))
	defer server.Close()

	credentials := testutil.NewStaticCredentials(map[string]string{"cred-1": "k"})

	t.Run("missing credential", func(t *testing.T) {
		req, recorder := testutil.NewRequest("shot-1", map[string]any{
			"variableName": "shot",
			"url":          "https://example.com",
			"credentialId": "nope",
		}, models.SharedContext{})

		_, err := newExecutor(server.URL, credentials).Execute(context.Background(), req)
		assert.True(t, protocol.IsCredentialNotFound(err))
		assert.Equal(t, 1, recorder.Count("shot-1", models.NodeStatusError))
	})

	t.Run("invalid format", func(t *testing.T) {
		req, _ := testutil.NewRequest("shot-1", map[string]any{
			"variableName": "shot",
			"url":          "https://example.com",
			"credentialId": "cred-1",
			"format":       "gif",
		}, models.SharedContext{})

		_, err := newExecutor(server.URL, credentials).Execute(context.Background(), req)
		assert.True(t, protocol.IsConfigurationError(err))
	})

	t.Run("service error hides the key", func(t *testing.T) {
		req, _ := testutil.NewRequest("shot-1", map[string]any{
			"variableName": "shot",
			"url":          "https://example.com",
			"credentialId": "cred-1",
		}, models.SharedContext{})

		_, err := newExecutor(server.URL, credentials).Execute(context.Background(), req)

		var extErr *protocol.ExternalServiceError
		require.ErrorAs(t, err, &extErr)
		assert.Equal(t, http.StatusPaymentRequired, extErr.StatusCode)
		assert.Contains(t, err.Error(), "quota exceeded")
		assert.NotContains(t, err.Error(), "access_key")
	})
}
