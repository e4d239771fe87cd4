package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
)

const echoSchema = `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`

func TestCompileAndValidateAccepts(t *testing.T) {
	v, err := Compile(json.RawMessage(echoSchema))
	require.NoError(t, err)
	require.NoError(t, v.ValidateRaw(json.RawMessage(`{"msg":"hi"}`)))
}

func TestValidateRejectsWrongType(t *testing.T) {
	v, err := Compile(json.RawMessage(echoSchema))
	require.NoError(t, err)

	err = v.ValidateRaw(json.RawMessage(`{"msg":42}`))
	require.Error(t, err)
	var mcpErr *mcperr.Error
	require.True(t, mcperr.As(err, &mcpErr))
	assert.Equal(t, mcperr.InvalidParams, mcpErr.Code)
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	v, err := Compile(json.RawMessage(echoSchema))
	require.NoError(t, err)

	err = v.ValidateRaw(json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestNilSchemaIsNoOp(t *testing.T) {
	v, err := Compile(nil)
	require.NoError(t, err)
	require.NoError(t, v.ValidateRaw(json.RawMessage(`{"anything":true}`)))
}
