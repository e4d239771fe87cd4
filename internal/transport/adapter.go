// Package transport defines the common adapter contract implemented by
// the three concrete MCP transports (stdio, sse, streamablehttp).
package transport

import "context"

// Sink receives one framed inbound JSON-RPC message at a time. It is
// supplied by the owning mcpclient.Client and must never block beyond
// brief waiter-table access.
type Sink func(frame []byte)

// Adapter is the capability set every transport variant implements:
// open the channel, send one message, and close it. The
// inbound Sink is wired in at construction time rather than through this
// interface, since each variant's constructor needs transport-specific
// config (command+args+env, or a URL).
type Adapter interface {
	// Open establishes the underlying channel (spawns the process, opens
	// the event-stream subscription, or simply marks the adapter ready
	// for POSTs).
	Open(ctx context.Context) error

	// Send writes one outbound JSON-RPC frame.
	Send(ctx context.Context, frame []byte) error

	// Close tears down the underlying resource.
	Close(ctx context.Context) error
}

// Logger is the narrow logging surface adapters use for informational
// and non-fatal events (stderr drain, ignored SSE events, classified
// disconnects). Satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}
