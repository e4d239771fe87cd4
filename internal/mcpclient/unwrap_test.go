package mcpclient

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
)

func TestUnwrapToolResultDescendsSingleKeyWrappers(t *testing.T) {
	raw := json.RawMessage(`{"toolResults":{"content":[{"type":"text","text":"ok"}]}}`)
	out, err := unwrapToolResult(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"ok"}]}`, string(out))
}

func TestUnwrapToolResultStopsOnMultiKeyObject(t *testing.T) {
	raw := json.RawMessage(`{"a":1,"b":2}`)
	out, err := unwrapToolResult(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(out))
}

func TestUnwrapToolResultRejectsIsError(t *testing.T) {
	raw := json.RawMessage(`{"isError":true,"content":[{"type":"text","text":"boom"}]}`)
	_, err := unwrapToolResult(raw)
	require.Error(t, err)
	var mcpErr *mcperr.Error
	require.True(t, mcperr.As(err, &mcpErr))
	assert.Equal(t, mcperr.InternalError, mcpErr.Code)
	assert.Contains(t, err.Error(), "boom")
}

func TestUnwrapToolResultIsIdempotent(t *testing.T) {
	cases := []json.RawMessage{
		json.RawMessage(`{"toolResults":{"content":[{"type":"text","text":"ok"}]}}`),
		json.RawMessage(`{"content":[]}`),
		json.RawMessage(`"just a string"`),
		json.RawMessage(`{"a":1,"b":2}`),
		json.RawMessage(`42`),
	}
	for _, raw := range cases {
		first, err1 := unwrapToolResult(raw)
		if err1 != nil {
			continue // isError cases don't round-trip through unwrap again
		}
		second, err2 := unwrapToolResult(first)
		require.NoError(t, err2)
		assert.JSONEq(t, string(first), string(second))
	}
}
