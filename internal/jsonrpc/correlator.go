package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
)

// SendFunc hands a serialized frame to the owning transport adapter.
type SendFunc func(ctx context.Context, frame []byte) error

// ResultTransform lets a caller (the MCP client) post-process a method's
// raw result before a waiter is resolved; the tools/call
// result-unwrapping heuristic hangs off this hook.
type ResultTransform func(method string, result json.RawMessage) (json.RawMessage, error)

// pending is a single in-flight request: a done channel closed exactly
// once carrying either a result or an error.
type pending struct {
	method string
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Correlator allocates monotonic request ids, tracks the pending-request
// table, and routes inbound frames to the waiting caller or to the
// notification callback. One Correlator belongs to exactly one Client.
type Correlator struct {
	send            SendFunc
	transform       ResultTransform
	onNotification  func(method string, params json.RawMessage)
	onUnmatched     func(id interface{})
	mu              sync.Mutex
	counter         int64
	requests        map[int64]*pending
	closed          bool
}

// NewCorrelator builds a Correlator that writes outbound frames via send.
func NewCorrelator(send SendFunc) *Correlator {
	return &Correlator{
		send:     send,
		requests: make(map[int64]*pending),
	}
}

// OnNotification installs the callback invoked for id-less inbound
// messages.
func (c *Correlator) OnNotification(fn func(method string, params json.RawMessage)) {
	c.onNotification = fn
}

// OnUnmatchedResponse installs the callback invoked when an inbound
// response's id has no matching waiter; the response is dropped.
func (c *Correlator) OnUnmatchedResponse(fn func(id interface{})) {
	c.onUnmatched = fn
}

// SetResultTransform installs the tools/call unwrap hook.
func (c *Correlator) SetResultTransform(fn ResultTransform) {
	c.transform = fn
}

// NextID allocates the next monotonically increasing request id.
func (c *Correlator) NextID() int64 {
	return atomic.AddInt64(&c.counter, 1)
}

// SendRequest allocates an id, serializes {jsonrpc, id, method, params},
// writes it through the adapter, and blocks until a matching response
// arrives, the deadline expires, or the connection tears down.
func (c *Correlator) SendRequest(ctx context.Context, method string, params interface{}, progressToken interface{}, timeout time.Duration) (json.RawMessage, error) {
	id := c.NextID()

	rawParams, err := encodeParamsWithMeta(params, progressToken)
	if err != nil {
		return nil, mcperr.New(mcperr.InvalidParams, "encode params for %s: %v", method, err)
	}

	msg := &Message{Jsonrpc: Version, ID: id, Method: method, Params: rawParams}
	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, mcperr.New(mcperr.InvalidParams, "marshal request %s: %v", method, err)
	}

	p := &pending{method: method, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, mcperr.New(mcperr.ConnectionClosed, "connection closed")
	}
	c.requests[id] = p
	c.mu.Unlock()

	if err := c.send(ctx, frame); err != nil {
		c.mu.Lock()
		delete(c.requests, id)
		c.mu.Unlock()
		return nil, mcperr.New(mcperr.InternalError, "send %s: %v", method, err)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		c.removePending(id)
		return nil, mcperr.New(mcperr.RequestTimeout, "%s: %v", method, ctx.Err())
	case <-timeoutCh:
		c.removePending(id)
		return nil, mcperr.New(mcperr.RequestTimeout, "%s: deadline of %s exceeded", method, timeout)
	}
}

// SendNotification writes a fire-and-forget {jsonrpc, method, params}
// frame with no id and no waiter.
func (c *Correlator) SendNotification(ctx context.Context, method string, params interface{}) error {
	rawParams, err := encodeParamsWithMeta(params, nil)
	if err != nil {
		return mcperr.New(mcperr.InvalidParams, "encode params for %s: %v", method, err)
	}
	msg := &Message{Jsonrpc: Version, Method: method, Params: rawParams}
	frame, err := json.Marshal(msg)
	if err != nil {
		return mcperr.New(mcperr.InvalidParams, "marshal notification %s: %v", method, err)
	}
	return c.send(ctx, frame)
}

func (c *Correlator) removePending(id int64) {
	c.mu.Lock()
	delete(c.requests, id)
	c.mu.Unlock()
}

// Dispatch parses one inbound frame and routes it: notifications go to
// the notification callback, responses resolve or reject the matching
// waiter, and anything unparseable is dropped without killing the
// connection.
func (c *Correlator) Dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // logged by the caller; a malformed line is never fatal
	}

	if msg.IsNotification() {
		if c.onNotification != nil {
			c.onNotification(msg.Method, msg.Params)
		}
		return
	}

	id, ok := numericID(msg.ID)
	if !ok {
		if c.onUnmatched != nil {
			c.onUnmatched(msg.ID)
		}
		return
	}

	c.mu.Lock()
	p, exists := c.requests[id]
	if exists {
		delete(c.requests, id)
	}
	c.mu.Unlock()

	if !exists {
		if c.onUnmatched != nil {
			c.onUnmatched(msg.ID)
		}
		return
	}

	if msg.Error != nil {
		p.err = &mcperr.Error{Code: mcperr.Code(msg.Error.Code), Message: msg.Error.Message, Data: msg.Error.Data}
		close(p.done)
		return
	}

	result := msg.Result
	if c.transform != nil {
		transformed, err := c.transform(p.method, result)
		if err != nil {
			p.err = err
			close(p.done)
			return
		}
		result = transformed
	}
	p.result = result
	close(p.done)
}

// TeardownWithError rejects every remaining waiter with err and marks
// the correlator closed so future SendRequest calls fail fast.
func (c *Correlator) TeardownWithError(err error) {
	c.mu.Lock()
	c.closed = true
	pendingCopy := c.requests
	c.requests = make(map[int64]*pending)
	c.mu.Unlock()

	for _, p := range pendingCopy {
		p.err = mcperr.New(mcperr.ConnectionClosed, "%v", err)
		close(p.done)
	}
}

// PendingCount reports the number of in-flight requests (used by tests
// asserting the pending table drains to empty).
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func numericID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func encodeParamsWithMeta(params interface{}, progressToken interface{}) (json.RawMessage, error) {
	base := map[string]interface{}{}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		if err := json.Unmarshal(raw, &base); err != nil {
			return nil, fmt.Errorf("params must encode to a JSON object: %w", err)
		}
	}
	if progressToken != nil {
		base["_meta"] = Meta{ProgressToken: progressToken}
	}
	return json.Marshal(base)
}
