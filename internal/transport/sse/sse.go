// Package sse implements the SSE-with-POST-sidecar transport adapter:
// an inbound Server-Sent-Events subscription whose first "endpoint"
// event carries a session id, paired with an outbound POST channel.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
	"github.com/standardbeagle/mcpbroker/internal/transport"
)

// Config describes the SSE subscription endpoint.
type Config struct {
	URL     string
	Headers map[string]string
}

type event struct {
	name string
	data string
}

// Adapter is the SSE-with-POST transport variant.
type Adapter struct {
	cfg     Config
	sink    transport.Sink
	onClose func(error)
	logger  transport.Logger
	client  *http.Client

	mu              sync.Mutex
	postEndpoint    string
	sessionID       string
	protocolVersion string
	closed          bool
	cancel          context.CancelFunc
	body            io.Closer
}

// New builds an SSE Adapter.
func New(cfg Config, sink transport.Sink, onClose func(error), logger transport.Logger) *Adapter {
	return &Adapter{cfg: cfg, sink: sink, onClose: onClose, logger: logger, client: &http.Client{}}
}

// SetProtocolVersion records the negotiated protocol version to send on
// every subsequent POST, once the handshake completes.
func (a *Adapter) SetProtocolVersion(v string) {
	a.mu.Lock()
	a.protocolVersion = v
	a.mu.Unlock()
}

func (a *Adapter) Open(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open SSE stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE stream status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, 30*time.Second)
	defer handshakeCancel()
	ev, err := readEvent(handshakeCtx, reader)
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE handshake: %w", err)
	}
	if ev.name != "endpoint" {
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE handshake: expected endpoint event, got %q", ev.name)
	}
	if err := a.recordEndpoint(ev.data); err != nil {
		_ = resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE handshake: %w", err)
	}

	a.mu.Lock()
	a.body = resp.Body
	a.mu.Unlock()

	go a.listen(streamCtx, reader)
	return nil
}

func (a *Adapter) recordEndpoint(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty endpoint event")
	}
	base, err := url.Parse(a.cfg.URL)
	if err != nil {
		return err
	}
	endpoint, err := base.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse endpoint URL: %w", err)
	}
	q := endpoint.Query()
	sessionID := q.Get("sessionId")
	q.Del("sessionId")
	endpoint.RawQuery = q.Encode()

	a.mu.Lock()
	a.sessionID = sessionID
	a.postEndpoint = endpoint.String()
	a.mu.Unlock()
	return nil
}

func (a *Adapter) listen(ctx context.Context, reader *bufio.Reader) {
	for {
		ev, err := readEvent(ctx, reader)
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.closed = true
			a.mu.Unlock()
			if !closed && a.onClose != nil {
				streamErr := fmt.Errorf("SSE stream closed: %w", err)
				if a.logger != nil {
					if classified := mcperr.ClassifyNetworkError(streamErr); classified != nil {
						a.logger.Warn("SSE stream closed", "url", a.cfg.URL, "type", classified.Type.String(), "retryable", classified.ShouldRetry())
					}
				}
				a.onClose(streamErr)
			}
			return
		}
		switch ev.name {
		case "message":
			a.sink([]byte(ev.data))
		default:
			if a.logger != nil {
				a.logger.Debug("SSE event ignored", "event", ev.name)
			}
		}
	}
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	endpoint := a.postEndpoint
	sessionID := a.sessionID
	protocolVersion := a.protocolVersion
	a.mu.Unlock()

	if endpoint == "" {
		return fmt.Errorf("SSE adapter has no endpoint yet")
	}

	postURL, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse post endpoint: %w", err)
	}
	q := postURL.Query()
	q.Set("sessionId", sessionID)
	postURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL.String(), bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("build POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if protocolVersion != "" {
		req.Header.Set("MCP-Protocol-Version", protocolVersion)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST to %s: %w", postURL.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST to sidecar returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cancel := a.cancel
	body := a.body
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		_ = body.Close()
	}
	return nil
}

// readEvent reads a single SSE event terminated by a blank line,
// discarding blank leading lines.
func readEvent(ctx context.Context, reader *bufio.Reader) (event, error) {
	var ev event
	var dataLines []string
	for {
		select {
		case <-ctx.Done():
			return event{}, ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if ev.name != "" || len(dataLines) > 0 {
				ev.data = strings.Join(dataLines, "\n")
				return ev, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// unknown field (id:, retry:, comment), ignored
		}
	}
}
