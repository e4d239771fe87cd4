// Package registry implements the process-wide connection registry: a
// name -> Client map enforcing at most one running Client per name, with
// per-name serialization of start/stop/temporary-connect. Locking is per
// key so start/stop on independent names never block on each other's
// handshake latency.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/standardbeagle/mcpbroker/internal/mcpclient"
)

// TransportKind identifies which transport adapter a ServerEntry uses.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamableHttp"
)

// ServerEntry is the persisted, user-facing description of one MCP
// server.
type ServerEntry struct {
	Name          string            `json:"name"`
	TransportKind TransportKind     `json:"type"`
	Command       string            `json:"command,omitempty"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	URL           string            `json:"url,omitempty"`
}

// ErrAlreadyRunning is returned by Start when an entry for the name
// already exists in the registry.
var ErrAlreadyRunning = errors.New("server already running")

// SnapshotEntry is one row of Snapshot()'s result.
type SnapshotEntry struct {
	Name         string
	IsRunning    bool
	Capabilities json.RawMessage
}

// ClientBuilder constructs (but does not Connect) a Client for one
// ServerEntry. Builder failure (e.g. an unrecognized TransportKind)
// surfaces before any handshake is attempted.
type ClientBuilder func(entry ServerEntry) (*mcpclient.Client, error)

// Registry is the process-wide Connection Registry.
type Registry struct {
	build ClientBuilder

	mu      sync.Mutex
	clients map[string]*mcpclient.Client
	locks   map[string]*sync.Mutex
}

// New builds an empty Registry using build to construct Clients from
// ServerEntry values.
func New(build ClientBuilder) *Registry {
	return &Registry{
		build:   build,
		clients: make(map[string]*mcpclient.Client),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *Registry) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Start constructs the adapter and Client from entry, runs the
// handshake, and on success inserts into the registry. It fails with
// ErrAlreadyRunning if name is already present. On any error the
// partially-constructed Client is torn down and nothing is inserted.
func (r *Registry) Start(ctx context.Context, name string, entry ServerEntry) error {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	_, exists := r.clients[name]
	r.mu.Unlock()
	if exists {
		return ErrAlreadyRunning
	}

	client, err := r.build(entry)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}

	r.mu.Lock()
	r.clients[name] = client
	r.mu.Unlock()
	return nil
}

// Stop is a no-op if name is absent; otherwise it removes the entry and
// closes the Client.
func (r *Registry) Stop(ctx context.Context, name string) error {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	client, exists := r.clients[name]
	if exists {
		delete(r.clients, name)
	}
	r.mu.Unlock()
	if !exists {
		return nil
	}
	return client.Close(ctx)
}

// TemporaryConnect starts name only if it is not already running, runs
// action against the live Client, and stops it on exit iff this call
// started it. Cleanup runs on both the success and failure paths of
// action.
func (r *Registry) TemporaryConnect(ctx context.Context, name string, entry ServerEntry, action func(*mcpclient.Client) error) error {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	client, exists := r.clients[name]
	r.mu.Unlock()

	startedHere := false
	if !exists {
		built, err := r.build(entry)
		if err != nil {
			return err
		}
		if err := built.Connect(ctx); err != nil {
			_ = built.Close(ctx)
			return err
		}
		client = built
		r.mu.Lock()
		r.clients[name] = client
		r.mu.Unlock()
		startedHere = true
	}

	actionErr := action(client)

	if startedHere {
		r.mu.Lock()
		delete(r.clients, name)
		r.mu.Unlock()
		_ = client.Close(ctx)
	}
	return actionErr
}

// Get returns the live Client for name, if any.
func (r *Registry) Get(name string) (*mcpclient.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[name]
	return c, ok
}

// Snapshot yields one row per currently-registered Client.
func (r *Registry) Snapshot() []SnapshotEntry {
	r.mu.Lock()
	names := make([]string, 0, len(r.clients))
	clients := make(map[string]*mcpclient.Client, len(r.clients))
	for k, v := range r.clients {
		names = append(names, k)
		clients[k] = v
	}
	r.mu.Unlock()

	out := make([]SnapshotEntry, 0, len(names))
	for _, name := range names {
		c := clients[name]
		out = append(out, SnapshotEntry{
			Name:         name,
			IsRunning:    c.State() == mcpclient.StateReady,
			Capabilities: c.ServerCapabilities(),
		})
	}
	return out
}

// Teardown closes every registered Client. Intended for plugin shutdown.
func (r *Registry) Teardown(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.clients))
	for k := range r.clients {
		names = append(names, k)
	}
	r.mu.Unlock()

	for _, name := range names {
		_ = r.Stop(ctx, name)
	}
}
