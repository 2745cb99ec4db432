package observability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactJSONRedactsCredentialKeys(t *testing.T) {
	in := json.RawMessage(`{
		"api_key": "sk-123",
		"X-Subscription-Token": "tok",
		"Authorization": "Bearer abc",
		"prompt": "hello"
	}`)

	out := RedactJSON(in)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "[REDACTED]", m["api_key"])
	assert.Equal(t, "[REDACTED]", m["X-Subscription-Token"])
	assert.Equal(t, "[REDACTED]", m["Authorization"])
	assert.Equal(t, "hello", m["prompt"])
}

func TestRedactJSONRecursesIntoNestedStructures(t *testing.T) {
	in := json.RawMessage(`{
		"outer": {"password": "p", "keep": 1},
		"list": [{"access_token": "t"}, {"plain": "v"}]
	}`)

	out := RedactJSON(in)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	outer := m["outer"].(map[string]any)
	assert.Equal(t, "[REDACTED]", outer["password"])
	assert.Equal(t, float64(1), outer["keep"])
	list := m["list"].([]any)
	assert.Equal(t, "[REDACTED]", list[0].(map[string]any)["access_token"])
	assert.Equal(t, "v", list[1].(map[string]any)["plain"])
}

func TestRedactJSONPassesThroughInvalidPayloads(t *testing.T) {
	in := json.RawMessage(`not json at all`)
	assert.Equal(t, in, RedactJSON(in))

	assert.Empty(t, RedactJSON(nil))
}
