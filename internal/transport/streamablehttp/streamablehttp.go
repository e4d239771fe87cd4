// Package streamablehttp implements the Streamable-HTTP transport
// adapter: every outbound frame is POSTed to one configured URL; the
// response is either a single JSON object or an inline
// text/event-stream sequence. Session continuity is tracked via the
// Mcp-Session-Id response header.
package streamablehttp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
	"github.com/standardbeagle/mcpbroker/internal/transport"
)

// ErrSessionExpired is returned by Send when the server responds 404 to
// a request carrying a previously-issued session id. The owning
// mcpclient.Client re-runs the initialize handshake and retries the
// original request exactly once; this adapter only clears its own
// session state and surfaces the condition.
var ErrSessionExpired = errors.New("streamable-http session expired")

// Config describes the single Streamable-HTTP endpoint.
type Config struct {
	URL     string
	Headers map[string]string
}

// Adapter is the Streamable-HTTP transport variant. Unlike stdio and sse
// it holds no persistent connection: Open only validates configuration,
// and each Send is an independent POST.
type Adapter struct {
	cfg    Config
	sink   transport.Sink
	logger transport.Logger
	client *http.Client

	mu              sync.Mutex
	sessionID       string
	protocolVersion string
	closed          bool
}

// New builds a Streamable-HTTP Adapter. onClose is accepted for interface
// symmetry with the other transports but is never invoked: this adapter
// has no background goroutine that can fail independently of a Send call.
func New(cfg Config, sink transport.Sink, onClose func(error), logger transport.Logger) *Adapter {
	return &Adapter{cfg: cfg, sink: sink, logger: logger, client: &http.Client{}}
}

// SetProtocolVersion records the negotiated protocol version to send on
// every subsequent POST.
func (a *Adapter) SetProtocolVersion(v string) {
	a.mu.Lock()
	a.protocolVersion = v
	a.mu.Unlock()
}

func (a *Adapter) Open(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.URL) == "" {
		return fmt.Errorf("streamable-http adapter requires a URL")
	}
	return nil
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("streamable-http adapter closed")
	}
	sessionID := a.sessionID
	protocolVersion := a.protocolVersion
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if protocolVersion != "" {
		req.Header.Set("MCP-Protocol-Version", protocolVersion)
	}
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		reqErr := fmt.Errorf("POST streamable-http request: %w", err)
		if a.logger != nil {
			if classified := mcperr.ClassifyNetworkError(reqErr); classified != nil {
				a.logger.Warn("streamable-http request failed", "url", a.cfg.URL, "type", classified.Type.String(), "retryable", classified.ShouldRetry())
			}
		}
		return reqErr
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && sessionID != "" {
		a.mu.Lock()
		a.sessionID = ""
		a.mu.Unlock()
		return ErrSessionExpired
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("streamable-http request status %d: %s", resp.StatusCode, string(body))
	}

	if newSession := resp.Header.Get("Mcp-Session-Id"); newSession != "" {
		a.mu.Lock()
		a.sessionID = newSession
		a.mu.Unlock()
	}

	if resp.StatusCode == http.StatusAccepted || resp.ContentLength == 0 {
		return nil
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(contentType)
	}

	switch {
	case strings.Contains(mediaType, "text/event-stream"):
		return a.consumeEventStream(ctx, resp.Body)
	case mediaType == "" || strings.Contains(mediaType, "application/json"):
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		a.sink(body)
		return nil
	default:
		return fmt.Errorf("unexpected response content-type %q", contentType)
	}
}

func (a *Adapter) consumeEventStream(ctx context.Context, body io.Reader) error {
	reader := bufio.NewReader(body)
	var dataLines []string
	eventName := ""
	flush := func() {
		if len(dataLines) > 0 {
			if eventName == "" || eventName == "message" {
				a.sink([]byte(strings.Join(dataLines, "\n")))
			}
		}
		dataLines = nil
		eventName = ""
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			flush()
		} else if strings.HasPrefix(trimmed, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		} else if strings.HasPrefix(trimmed, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
		if err != nil {
			if err == io.EOF {
				flush()
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
	}
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}
