package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
	"github.com/standardbeagle/mcpbroker/internal/registry"
)

// ErrDuplicateName is returned by AddServer when name already exists.
var ErrDuplicateName = fmt.Errorf("server name already exists")

// AddServer inserts a new ServerEntry, failing with ErrDuplicateName if
// the name is already present.
func (s *Store) AddServer(ctx context.Context, entry registry.ServerEntry) error {
	_, err := s.Mutate(ctx, func(doc *Document) error {
		if _, exists := doc.MCPServers[entry.Name]; exists {
			return ErrDuplicateName
		}
		doc.MCPServers[entry.Name] = entry
		return nil
	})
	return err
}

// DeleteServer stops name via reg first, so a client mid-handshake is
// fully unwound before the document is rewritten, then removes its
// ServerEntry, disabled-tools entry, and cached-tools entry.
// disabledServers is left untouched; stale names there are tolerated.
func (s *Store) DeleteServer(ctx context.Context, reg *registry.Registry, name string) error {
	if reg != nil {
		if err := reg.Stop(ctx, name); err != nil {
			return fmt.Errorf("stop %q before delete: %w", name, err)
		}
	}
	_, err := s.Mutate(ctx, func(doc *Document) error {
		delete(doc.MCPServers, name)
		delete(doc.DisabledTools, name)
		delete(doc.CachedTools, name)
		return nil
	})
	return err
}

// SetDisabledServers replaces the disabledServers set wholesale.
func (s *Store) SetDisabledServers(ctx context.Context, names []string) error {
	_, err := s.Mutate(ctx, func(doc *Document) error {
		doc.DisabledServers = append([]string{}, names...)
		return nil
	})
	return err
}

// SetDisabledTools replaces the disabled-tool set for one server.
func (s *Store) SetDisabledTools(ctx context.Context, name string, tools []string) error {
	_, err := s.Mutate(ctx, func(doc *Document) error {
		if _, exists := doc.MCPServers[name]; !exists {
			return mcperr.New(mcperr.InvalidRequest, "unknown server %q", name)
		}
		doc.DisabledTools[name] = append([]string{}, tools...)
		return nil
	})
	return err
}

// SetCachedTools overwrites cachedTools[name] with descriptors.
func (s *Store) SetCachedTools(ctx context.Context, name string, descriptors json.RawMessage) error {
	_, err := s.Mutate(ctx, func(doc *Document) error {
		doc.CachedTools[name] = descriptors
		return nil
	})
	return err
}

// IsServerDisabled reports whether name is in disabledServers.
func (doc Document) IsServerDisabled(name string) bool {
	for _, n := range doc.DisabledServers {
		if n == name {
			return true
		}
	}
	return false
}

// IsToolDisabled reports whether toolName is disabled for server.
func (doc Document) IsToolDisabled(server, toolName string) bool {
	for _, n := range doc.DisabledTools[server] {
		if n == toolName {
			return true
		}
	}
	return false
}
