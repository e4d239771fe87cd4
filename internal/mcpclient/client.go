// Package mcpclient implements the per-connection MCP state machine and
// protocol driver: the initialize handshake with protocol-version
// negotiation, tools/list and tools/call, and the result-unwrapping
// heuristic for servers that nest the canonical content payload.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/standardbeagle/mcpbroker/internal/jsonrpc"
	"github.com/standardbeagle/mcpbroker/internal/mcperr"
	"github.com/standardbeagle/mcpbroker/internal/schema"
	"github.com/standardbeagle/mcpbroker/internal/transport"
	"github.com/standardbeagle/mcpbroker/internal/transport/streamablehttp"
)

// ClientInfo is the clientInfo block of the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is one tool as advertised by tools/list, stored and
// returned verbatim, inputSchema included.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the tools/list response shape.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// AcceptVersionFunc decides whether a server-reported protocol version is
// acceptable. Kept pluggable so callers can tighten the policy;
// DefaultAcceptVersion below accepts anything.
type AcceptVersionFunc func(version string) bool

// DefaultAcceptVersion is the out-of-the-box permissive predicate.
func DefaultAcceptVersion(string) bool { return true }

// AdapterFactory builds the transport adapter for one Client, wiring in
// the Client's inbound sink and close callback. The factory takes the
// callbacks rather than the Client itself, so the transport holds only a
// narrow handle and no Client<->Transport reference cycle forms.
type AdapterFactory func(sink transport.Sink, onClose func(error)) transport.Adapter

// Config configures one Client's handshake.
type Config struct {
	ProtocolVersion       string
	ClientInfo            ClientInfo
	Capabilities          map[string]interface{}
	RequestTimeout        time.Duration
	ShutdownTimeout       time.Duration
	AcceptProtocolVersion AcceptVersionFunc
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 2 * time.Second
	}
	if c.AcceptProtocolVersion == nil {
		c.AcceptProtocolVersion = DefaultAcceptVersion
	}
	return c
}

// protocolVersionSetter is implemented by the sse and streamablehttp
// adapters so the negotiated version can be attached to later requests.
// stdio has no header to carry it and simply doesn't implement this.
type protocolVersionSetter interface {
	SetProtocolVersion(string)
}

// Client is one MCP connection's state machine.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	adapter    transport.Adapter
	correlator *jsonrpc.Correlator

	mu                 sync.Mutex
	state              State
	negotiatedVersion  string
	serverCapabilities json.RawMessage
}

// New constructs a Client in the NEW state. The adapter is built
// immediately (via factory) but not yet Open'd; call Connect to run the
// handshake.
func New(factory AdapterFactory, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{cfg: cfg.withDefaults(), logger: logger, state: StateNew}
	c.adapter = factory(c.handleInbound, c.handleTransportClosed)
	c.correlator = jsonrpc.NewCorrelator(func(ctx context.Context, frame []byte) error {
		err := c.adapter.Send(ctx, frame)
		if errors.Is(err, streamablehttp.ErrSessionExpired) {
			// A 404 against a held session id means the server forgot
			// us. Re-handshake and retry this frame exactly once before
			// surfacing anything to the caller.
			if reErr := c.reinitialize(ctx); reErr != nil {
				return reErr
			}
			err = c.adapter.Send(ctx, frame)
		}
		return err
	})
	c.correlator.OnNotification(c.handleNotification)
	c.correlator.OnUnmatchedResponse(func(id interface{}) {
		c.logger.Debug("dropping response with no matching waiter", "id", id)
	})
	c.correlator.SetResultTransform(c.transformResult)
	return c
}

// State reports the Client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NegotiatedProtocolVersion reports the version agreed during handshake,
// empty before HANDSHAKING completes.
func (c *Client) NegotiatedProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedVersion
}

// ServerCapabilities reports the raw capabilities object the server
// returned from initialize, nil before handshake completes.
func (c *Client) ServerCapabilities() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCapabilities
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect opens the transport and runs the initialize /
// notifications/initialized handshake, moving NEW -> HANDSHAKING ->
// READY, or -> FAILED on a version mismatch, or -> CLOSED on a transport
// error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNew {
		st := c.state
		c.mu.Unlock()
		return mcperr.New(mcperr.InvalidRequest, "cannot connect from state %s", st)
	}
	c.state = StateHandshaking
	c.mu.Unlock()

	if err := c.adapter.Open(ctx); err != nil {
		c.setState(StateClosed)
		return mcperr.New(mcperr.ConnectionClosed, "open transport: %v", err)
	}

	initParams := map[string]interface{}{
		"protocolVersion": c.cfg.ProtocolVersion,
		"capabilities":    c.cfg.Capabilities,
		"clientInfo":      c.cfg.ClientInfo,
	}
	result, err := c.correlator.SendRequest(ctx, "initialize", initParams, nil, c.cfg.RequestTimeout)
	if err != nil {
		c.mu.Lock()
		if c.state != StateClosed {
			// A transport that died mid-handshake has already moved the
			// Client to CLOSED via handleTransportClosed; keep that state.
			c.state = StateFailed
		}
		c.mu.Unlock()
		_ = c.adapter.Close(ctx)
		return err
	}

	var initResult struct {
		ProtocolVersion string          `json:"protocolVersion"`
		Capabilities    json.RawMessage `json:"capabilities"`
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &initResult); err != nil {
			c.setState(StateFailed)
			_ = c.adapter.Close(ctx)
			return mcperr.New(mcperr.ParseError, "parse initialize result: %v", err)
		}
	}

	negotiated := initResult.ProtocolVersion
	if negotiated == "" {
		negotiated = c.cfg.ProtocolVersion
	}
	if !c.cfg.AcceptProtocolVersion(negotiated) {
		c.setState(StateFailed)
		_ = c.adapter.Close(ctx)
		return mcperr.New(mcperr.UnsupportedProtocolVersion, "unsupported protocol version %q", negotiated)
	}

	c.mu.Lock()
	c.negotiatedVersion = negotiated
	c.serverCapabilities = initResult.Capabilities
	c.mu.Unlock()

	if setter, ok := c.adapter.(protocolVersionSetter); ok {
		setter.SetProtocolVersion(negotiated)
	}

	if err := c.correlator.SendNotification(ctx, "notifications/initialized", struct{}{}); err != nil {
		c.logger.Warn("notifications/initialized delivery failed", "error", err)
	}

	c.setState(StateReady)
	return nil
}

// reinitialize re-runs the initialize / notifications/initialized
// handshake against an already-READY Client whose Streamable-HTTP session
// expired server-side. It does not touch Client.state: from the caller's
// perspective the connection never stopped being READY, only its
// transport-level session id did.
func (c *Client) reinitialize(ctx context.Context) error {
	initParams := map[string]interface{}{
		"protocolVersion": c.cfg.ProtocolVersion,
		"capabilities":    c.cfg.Capabilities,
		"clientInfo":      c.cfg.ClientInfo,
	}
	result, err := c.correlator.SendRequest(ctx, "initialize", initParams, nil, c.cfg.RequestTimeout)
	if err != nil {
		return err
	}

	var initResult struct {
		ProtocolVersion string          `json:"protocolVersion"`
		Capabilities    json.RawMessage `json:"capabilities"`
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &initResult); err != nil {
			return mcperr.New(mcperr.ParseError, "parse initialize result: %v", err)
		}
	}

	negotiated := initResult.ProtocolVersion
	if negotiated == "" {
		negotiated = c.cfg.ProtocolVersion
	}

	c.mu.Lock()
	c.negotiatedVersion = negotiated
	c.serverCapabilities = initResult.Capabilities
	c.mu.Unlock()

	if setter, ok := c.adapter.(protocolVersionSetter); ok {
		setter.SetProtocolVersion(negotiated)
	}

	if err := c.correlator.SendNotification(ctx, "notifications/initialized", struct{}{}); err != nil {
		c.logger.Warn("notifications/initialized delivery failed during session re-handshake", "error", err)
	}
	return nil
}

func (c *Client) requireReady() error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateReady {
		return mcperr.New(mcperr.ConnectionClosed, "client is not ready (state=%s)", st)
	}
	return nil
}

// ListTools sends tools/list and returns the server's tool descriptors,
// defaulting to an empty slice when the server's result omits them.
func (c *Client) ListTools(ctx context.Context) (*ListToolsResult, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	raw, err := c.correlator.SendRequest(ctx, "tools/list", map[string]interface{}{}, nil, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	var result ListToolsResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, mcperr.New(mcperr.ParseError, "parse tools/list result: %v", err)
		}
	}
	if result.Tools == nil {
		result.Tools = []ToolDescriptor{}
	}
	return &result, nil
}

// CallTool validates arguments against validator (nil skips validation),
// sends tools/call, and returns the unwrapped result.
func (c *Client) CallTool(ctx context.Context, name string, arguments interface{}, validator *schema.Validator, progressToken interface{}) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if validator != nil {
		if err := validator.Validate(arguments); err != nil {
			return nil, err
		}
	}
	params := map[string]interface{}{"name": name, "arguments": arguments}
	return c.correlator.SendRequest(ctx, "tools/call", params, progressToken, c.cfg.RequestTimeout)
}

// Close is a no-op unless the Client is READY. Otherwise it issues a
// best-effort shutdown, closes the adapter, and tears down the
// correlator's pending table.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
	defer cancel()
	if _, err := c.correlator.SendRequest(shutdownCtx, "shutdown", map[string]interface{}{}, nil, c.cfg.ShutdownTimeout); err != nil {
		c.logger.Debug("best-effort shutdown request failed", "error", err)
	}

	closeErr := c.adapter.Close(ctx)
	c.correlator.TeardownWithError(fmt.Errorf("client closed"))
	return closeErr
}

// handleInbound is the transport's callback into the Client. Dispatch,
// result unwrapping included, runs on its own goroutine so the adapter's
// read loop is never blocked. A frame that does not parse as a JSON-RPC
// message is logged and dropped; the connection stays up.
func (c *Client) handleInbound(frame []byte) {
	go func() {
		var probe jsonrpc.Message
		if err := json.Unmarshal(frame, &probe); err != nil {
			c.logger.Warn("dropping unparseable inbound frame", "code", mcperr.ParseError.String(), "error", err)
			return
		}
		c.correlator.Dispatch(frame)
	}()
}

// handleTransportClosed fires exactly once when the transport fails or
// exits, transitioning the Client to CLOSED and failing every pending
// request with ConnectionClosed.
func (c *Client) handleTransportClosed(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	if err == nil {
		err = fmt.Errorf("transport closed")
	}
	c.logger.Info("mcp client transport closed", "error", err)
	c.correlator.TeardownWithError(err)
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	if method == "notifications/initialized" {
		c.logger.Debug("received notifications/initialized", "params", string(params))
		return
	}
	c.logger.Debug("ignoring notification", "method", method)
}

func (c *Client) transformResult(method string, result json.RawMessage) (json.RawMessage, error) {
	if method != "tools/call" {
		return result, nil
	}
	return unwrapToolResult(result)
}
