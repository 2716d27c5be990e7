package template

import (
	"testing"

	"github.com/dukex/flowline/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// numbers always map to float
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_ObjectConstruction(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{"name": "Alice"},
		"orders": []any{
			map[string]any{"id": 1},
			map[string]any{"id": 2},
		},
	}

	result, err := Render(`{
		"user_name": "{{ .user.name }}",
		"total_orders": {{ len .orders }}
	}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["user_name"])
	assert.Equal(t, 2.0, resultMap["total_orders"])
}

func TestRender_InvalidJSONObject(t *testing.T) {
	_, err := Render("{ invalid..expression }", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")
}

func TestRenderString_JSONHelper(t *testing.T) {
	data := map[string]any{
		"httpResult": map[string]any{"status": 200, "data": []any{"a", "b"}},
	}

	out, err := RenderString(`Summarize: {{ json .httpResult.data }}`, data)
	require.NoError(t, err)
	assert.Equal(t, `Summarize: ["a","b"]`, out)
}

func TestRenderString_MissingKeyRendersEmpty(t *testing.T) {
	out, err := RenderString("[{{ .missing }}]", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRenderString_Default(t *testing.T) {
	out, err := RenderString(`{{ default "anon" .name }}`, map[string]any{"name": ""})
	require.NoError(t, err)
	assert.Equal(t, "anon", out)
}

func TestRenderString_PlainTextUntouched(t *testing.T) {
	out, err := RenderString("https://example.com/a?b=c", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?b=c", out)
}

func TestRenderString_UndefinedFunction(t *testing.T) {
	_, err := RenderString("{{ nonexistent.field }}", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")
}

func TestRenderContext(t *testing.T) {
	sc := models.NewSharedContext(map[string]any{
		"user": map[string]any{"id": 123},
	})

	out, err := RenderContext("https://api.example.com/users/{{.user.id}}", sc)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/123", out)
}
