package mcperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(InvalidParams, "bad value %d", 42)
	require.Error(t, err)
	assert.Equal(t, InvalidParams, err.Code)
	assert.Contains(t, err.Error(), "bad value 42")
	assert.Contains(t, err.Error(), "InvalidParams")
}

func TestWithData(t *testing.T) {
	err := New(InternalError, "boom").WithData(map[string]int{"x": 1})
	assert.Equal(t, map[string]int{"x": 1}, err.Data)
}

func TestAsUnwraps(t *testing.T) {
	var target *Error
	wrapped := errors.New("wrapping: " + New(RequestTimeout, "timed out").Error())
	assert.False(t, As(wrapped, &target))

	original := New(ConnectionClosed, "closed")
	assert.True(t, As(original, &target))
	assert.Equal(t, ConnectionClosed, target.Code)
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "MethodNotFound", MethodNotFound.String())
	assert.Equal(t, "UnsupportedProtocolVersion", UnsupportedProtocolVersion.String())
}

func TestClassifyNetworkError(t *testing.T) {
	ne := ClassifyNetworkError(errors.New("connection refused"))
	assert.Equal(t, NetConnRefused, ne.Type)
	assert.True(t, ne.ShouldRetry())

	ne = ClassifyNetworkError(errors.New("permission denied"))
	assert.Equal(t, NetPermissionDenied, ne.Type)
	assert.False(t, ne.ShouldRetry())
}
