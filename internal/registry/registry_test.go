package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mcpbroker/internal/mcpclient"
	"github.com/standardbeagle/mcpbroker/internal/transport"
)

// instantHandshakeBuilder builds a Client whose adapter answers
// initialize immediately so Connect succeeds without a real transport.
func instantHandshakeBuilder(buildCount *int32) ClientBuilder {
	return func(entry ServerEntry) (*mcpclient.Client, error) {
		if buildCount != nil {
			atomic.AddInt32(buildCount, 1)
		}
		var sinkRef transport.Sink
		factory := func(sink transport.Sink, onClose func(error)) transport.Adapter {
			sinkRef = sink
			return instantAdapter{sink: &sinkRef}
		}
		return mcpclient.New(factory, mcpclient.Config{
			ProtocolVersion: "2024-11-05",
			RequestTimeout:  time.Second,
		}, nil), nil
	}
}

// instantAdapter replies to every Send with a synthetic initialize
// result matching the request id, so Connect's handshake always succeeds.
type instantAdapter struct {
	sink *transport.Sink
}

func (a instantAdapter) Open(ctx context.Context) error { return nil }

func (a instantAdapter) Send(ctx context.Context, frame []byte) error {
	id := extractID(frame)
	resp := []byte(`{"jsonrpc":"2.0","id":` + id + `,"result":{"protocolVersion":"2024-11-05"}}`)
	go (*a.sink)(resp)
	return nil
}

func (a instantAdapter) Close(ctx context.Context) error { return nil }

func extractID(frame []byte) string {
	// Minimal extraction good enough for the fixed shape this test sends:
	// {"jsonrpc":"2.0","id":N,"method":...
	const marker = `"id":`
	idx := indexOf(frame, marker)
	if idx < 0 {
		return "0"
	}
	start := idx + len(marker)
	end := start
	for end < len(frame) && frame[end] != ',' {
		end++
	}
	return string(frame[start:end])
}

func indexOf(b []byte, s string) int {
	for i := 0; i+len(s) <= len(b); i++ {
		if string(b[i:i+len(s)]) == s {
			return i
		}
	}
	return -1
}

func TestStartInsertsAndStopRemoves(t *testing.T) {
	reg := New(instantHandshakeBuilder(nil))
	entry := ServerEntry{Name: "echo", TransportKind: TransportStdio, Command: "node"}

	require.NoError(t, reg.Start(context.Background(), "echo", entry))
	_, ok := reg.Get("echo")
	assert.True(t, ok)

	require.NoError(t, reg.Stop(context.Background(), "echo"))
	_, ok = reg.Get("echo")
	assert.False(t, ok)
}

func TestStartFailsWhenAlreadyRunning(t *testing.T) {
	reg := New(instantHandshakeBuilder(nil))
	entry := ServerEntry{Name: "echo", TransportKind: TransportStdio, Command: "node"}

	require.NoError(t, reg.Start(context.Background(), "echo", entry))
	err := reg.Start(context.Background(), "echo", entry)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStopIsNoOpWhenAbsent(t *testing.T) {
	reg := New(instantHandshakeBuilder(nil))
	assert.NoError(t, reg.Stop(context.Background(), "missing"))
}

func TestTemporaryConnectTearsDownOnlyIfItStarted(t *testing.T) {
	var builds int32
	reg := New(instantHandshakeBuilder(&builds))
	entry := ServerEntry{Name: "echo", TransportKind: TransportStdio, Command: "node"}

	var sawReady bool
	err := reg.TemporaryConnect(context.Background(), "echo", entry, func(c *mcpclient.Client) error {
		sawReady = c.State() == mcpclient.StateReady
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sawReady)
	assert.EqualValues(t, 1, builds)

	_, ok := reg.Get("echo")
	assert.False(t, ok, "temporary connection should be torn down after the action returns")

	require.NoError(t, reg.Start(context.Background(), "echo", entry))
	err = reg.TemporaryConnect(context.Background(), "echo", entry, func(c *mcpclient.Client) error {
		return nil
	})
	require.NoError(t, err)
	_, ok = reg.Get("echo")
	assert.True(t, ok, "an already-running client must survive temporary-connect")
}

func TestTemporaryConnectCleansUpOnActionError(t *testing.T) {
	reg := New(instantHandshakeBuilder(nil))
	entry := ServerEntry{Name: "echo", TransportKind: TransportStdio, Command: "node"}

	actionErr := errors.New("boom")
	err := reg.TemporaryConnect(context.Background(), "echo", entry, func(c *mcpclient.Client) error {
		return actionErr
	})
	assert.ErrorIs(t, err, actionErr)
	_, ok := reg.Get("echo")
	assert.False(t, ok)
}

func TestAtMostOneClientPerNameUnderConcurrentStart(t *testing.T) {
	reg := New(instantHandshakeBuilder(nil))
	entry := ServerEntry{Name: "echo", TransportKind: TransportStdio, Command: "node"}

	const attempts = 8
	var wg sync.WaitGroup
	successes := int32(0)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Start(context.Background(), "echo", entry); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes)
	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "echo", snapshot[0].Name)
}
