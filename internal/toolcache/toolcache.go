// Package toolcache keeps cachedTools[name] warm: a narrow layer above
// the registry and the settings store, using a temporary connection
// when the server isn't already running.
package toolcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/standardbeagle/mcpbroker/internal/mcpclient"
	"github.com/standardbeagle/mcpbroker/internal/registry"
	"github.com/standardbeagle/mcpbroker/internal/settings"
)

// AnnotatedTool is a ToolDescriptor annotated with whether the tool is
// currently enabled for its server.
type AnnotatedTool struct {
	mcpclient.ToolDescriptor
	Enabled bool `json:"_enabled"`
}

// Coordinator ties the Registry and the Settings Store together.
type Coordinator struct {
	reg   *registry.Registry
	store *settings.Store
}

// New builds a Coordinator.
func New(reg *registry.Registry, store *settings.Store) *Coordinator {
	return &Coordinator{reg: reg, store: store}
}

// ReloadCache obtains a Client for name (starting one temporarily if
// needed), calls list_tools, writes the result into cachedTools[name],
// and tears down the temporary connection. A list_tools failure
// propagates and leaves the prior cache intact.
func (c *Coordinator) ReloadCache(ctx context.Context, name string) ([]mcpclient.ToolDescriptor, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	entry, ok := doc.MCPServers[name]
	if !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}

	var tools []mcpclient.ToolDescriptor
	err = c.reg.TemporaryConnect(ctx, name, entry, func(client *mcpclient.Client) error {
		result, err := client.ListTools(ctx)
		if err != nil {
			return err
		}
		tools = result.Tools
		return nil
	})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("marshal tool descriptors: %w", err)
	}
	if err := c.store.SetCachedTools(ctx, name, raw); err != nil {
		return nil, fmt.Errorf("persist cached tools: %w", err)
	}
	return tools, nil
}

// ListWithStatus returns cachedTools[name] (or, if empty, the result of
// one implicit ReloadCache), each entry annotated with _enabled.
func (c *Coordinator) ListWithStatus(ctx context.Context, name string) ([]AnnotatedTool, error) {
	doc, err := c.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if _, ok := doc.MCPServers[name]; !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}

	var tools []mcpclient.ToolDescriptor
	if raw, ok := doc.CachedTools[name]; ok && len(raw) > 0 && string(raw) != "null" && string(raw) != "[]" {
		if err := json.Unmarshal(raw, &tools); err != nil {
			return nil, fmt.Errorf("parse cached tools: %w", err)
		}
	}
	if len(tools) == 0 {
		reloaded, err := c.ReloadCache(ctx, name)
		if err != nil {
			return nil, err
		}
		tools = reloaded
		doc, err = c.store.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("re-read settings: %w", err)
		}
	}

	out := make([]AnnotatedTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, AnnotatedTool{
			ToolDescriptor: t,
			Enabled:        !doc.IsToolDisabled(name, t.Name),
		})
	}
	return out, nil
}
