package registry

import (
	"fmt"
	"log/slog"

	"github.com/standardbeagle/mcpbroker/internal/mcpclient"
	"github.com/standardbeagle/mcpbroker/internal/transport"
	"github.com/standardbeagle/mcpbroker/internal/transport/sse"
	"github.com/standardbeagle/mcpbroker/internal/transport/stdio"
	"github.com/standardbeagle/mcpbroker/internal/transport/streamablehttp"
)

// BrokerIdentity is the clientInfo this broker announces during
// initialize, set once at plugin startup.
type BrokerIdentity struct {
	Name    string
	Version string
}

// NewDefaultBuilder returns a ClientBuilder that dispatches on
// entry.TransportKind to build the matching transport adapter, wires it
// through mcpclient.New, and leaves Connect to the caller (Registry).
func NewDefaultBuilder(identity BrokerIdentity, protocolVersion string, accept mcpclient.AcceptVersionFunc, logger *slog.Logger) ClientBuilder {
	return func(entry ServerEntry) (*mcpclient.Client, error) {
		factory, err := adapterFactory(entry, logger)
		if err != nil {
			return nil, err
		}
		cfg := mcpclient.Config{
			ProtocolVersion:       protocolVersion,
			ClientInfo:            mcpclient.ClientInfo{Name: identity.Name, Version: identity.Version},
			Capabilities:          map[string]interface{}{},
			AcceptProtocolVersion: accept,
		}
		return mcpclient.New(factory, cfg, logger), nil
	}
}

func adapterFactory(entry ServerEntry, logger *slog.Logger) (mcpclient.AdapterFactory, error) {
	switch entry.TransportKind {
	case TransportStdio:
		if entry.Command == "" {
			return nil, fmt.Errorf("stdio server %q requires a command", entry.Name)
		}
		cfg := stdio.Config{Command: entry.Command, Args: entry.Args, Env: entry.Env}
		return func(sink transport.Sink, onClose func(error)) transport.Adapter {
			return stdio.New(cfg, sink, onClose, logger)
		}, nil

	case TransportSSE:
		if entry.URL == "" {
			return nil, fmt.Errorf("sse server %q requires a url", entry.Name)
		}
		cfg := sse.Config{URL: entry.URL}
		return func(sink transport.Sink, onClose func(error)) transport.Adapter {
			return sse.New(cfg, sink, onClose, logger)
		}, nil

	case TransportStreamableHTTP:
		if entry.URL == "" {
			return nil, fmt.Errorf("streamable-http server %q requires a url", entry.Name)
		}
		cfg := streamablehttp.Config{URL: entry.URL}
		return func(sink transport.Sink, onClose func(error)) transport.Adapter {
			return streamablehttp.New(cfg, sink, onClose, logger)
		}, nil

	default:
		return nil, fmt.Errorf("server %q has unknown transport kind %q", entry.Name, entry.TransportKind)
	}
}
