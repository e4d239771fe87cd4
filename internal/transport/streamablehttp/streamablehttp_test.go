package streamablehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCapturesSessionIDAndDeliversJSONResponse(t *testing.T) {
	var gotSessionHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSessionHeader = r.Header.Get("Mcp-Session-Id")
		w.Header().Set("Mcp-Session-Id", "sess-1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	var delivered []byte
	a := New(Config{URL: srv.URL}, func(frame []byte) { delivered = frame }, nil, nil)
	require.NoError(t, a.Open(context.Background()))

	require.NoError(t, a.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)))
	assert.Empty(t, gotSessionHeader, "no session id should be sent before one is established")
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(delivered))

	a.mu.Lock()
	session := a.sessionID
	a.mu.Unlock()
	assert.Equal(t, "sess-1", session)

	require.NoError(t, a.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)))
	assert.Equal(t, "sess-1", gotSessionHeader, "the second request must carry the session id established by the first")
}

func TestSendReturnsErrSessionExpiredOn404WithSession(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Mcp-Session-Id", "sess-1")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := New(Config{URL: srv.URL}, func(frame []byte) {}, nil, nil)
	require.NoError(t, a.Open(context.Background()))
	require.NoError(t, a.Send(context.Background(), []byte(`{"id":1}`)))

	err := a.Send(context.Background(), []byte(`{"id":2}`))
	assert.ErrorIs(t, err, ErrSessionExpired)

	a.mu.Lock()
	session := a.sessionID
	a.mu.Unlock()
	assert.Empty(t, session, "session must be cleared after a 404")
}

func TestSendParsesInlineEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"))
	}))
	defer srv.Close()

	var delivered []byte
	a := New(Config{URL: srv.URL}, func(frame []byte) { delivered = frame }, nil, nil)
	require.NoError(t, a.Open(context.Background()))
	require.NoError(t, a.Send(context.Background(), []byte(`{"id":1}`)))

	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(delivered))
}
