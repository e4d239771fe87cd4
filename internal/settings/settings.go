// Package settings persists the server catalogue, enable/disable
// policy, and tool cache as a single mcp_settings.json document,
// forward-migrated on read and replaced atomically on write.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/standardbeagle/mcpbroker/internal/registry"
)

const fileName = "mcp_settings.json"

// Document is the on-disk shape of mcp_settings.json.
type Document struct {
	MCPServers      map[string]registry.ServerEntry `json:"mcpServers"`
	DisabledServers []string                        `json:"disabledServers"`
	DisabledTools   map[string][]string             `json:"disabledTools"`
	CachedTools     map[string]json.RawMessage      `json:"cachedTools"`

	// Extra preserves unknown top-level keys verbatim across
	// read-modify-write cycles.
	Extra map[string]json.RawMessage `json:"-"`
}

func emptyDocument() Document {
	return Document{
		MCPServers:      map[string]registry.ServerEntry{},
		DisabledServers: []string{},
		DisabledTools:   map[string][]string{},
		CachedTools:     map[string]json.RawMessage{},
		Extra:           map[string]json.RawMessage{},
	}
}

// Store is the single-file, lock-guarded settings document. It holds no
// in-memory cache: every method re-reads the file from disk.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
}

// New builds a Store rooted at root/mcp_settings.json.
func New(root string) *Store {
	return &Store{
		path:        filepath.Join(root, fileName),
		lockPath:    filepath.Join(root, ".mcp_settings.lock"),
		lockTimeout: 10 * time.Second,
	}
}

// Read loads the document, creating it with empty defaults if absent,
// and forward-migrating missing top-level keys on any existing document.
func (s *Store) Read(ctx context.Context) (Document, error) {
	var doc Document
	err := s.withLock(ctx, func() error {
		d, err := s.readLocked()
		doc = d
		return err
	})
	return doc, err
}

// Mutate reads the current document, applies fn, and atomically rewrites
// it, all under the same lock acquisition, so the read-modify-write is
// not interleaved with another writer.
func (s *Store) Mutate(ctx context.Context, fn func(doc *Document) error) (Document, error) {
	var result Document
	err := s.withLock(ctx, func() error {
		doc, err := s.readLocked()
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		if err := s.writeLocked(doc); err != nil {
			return err
		}
		result = doc
		return nil
	})
	return result, err
}

func (s *Store) readLocked() (Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		doc := emptyDocument()
		if werr := s.writeLocked(doc); werr != nil {
			return doc, fmt.Errorf("create default settings file: %w", werr)
		}
		return doc, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read settings file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("parse settings file: %w", err)
	}

	doc := emptyDocument()
	if v, ok := raw["mcpServers"]; ok {
		if err := json.Unmarshal(v, &doc.MCPServers); err != nil {
			return Document{}, fmt.Errorf("parse mcpServers: %w", err)
		}
	}
	if v, ok := raw["disabledServers"]; ok {
		if err := json.Unmarshal(v, &doc.DisabledServers); err != nil {
			return Document{}, fmt.Errorf("parse disabledServers: %w", err)
		}
	}
	if v, ok := raw["disabledTools"]; ok {
		if err := json.Unmarshal(v, &doc.DisabledTools); err != nil {
			return Document{}, fmt.Errorf("parse disabledTools: %w", err)
		}
	}
	if v, ok := raw["cachedTools"]; ok {
		if err := json.Unmarshal(v, &doc.CachedTools); err != nil {
			return Document{}, fmt.Errorf("parse cachedTools: %w", err)
		}
	}
	for k, v := range raw {
		switch k {
		case "mcpServers", "disabledServers", "disabledTools", "cachedTools":
			continue
		default:
			doc.Extra[k] = v
		}
	}
	return doc, nil
}

func (s *Store) writeLocked(doc Document) error {
	out := map[string]interface{}{
		"mcpServers":      doc.MCPServers,
		"disabledServers": doc.DisabledServers,
		"disabledTools":   doc.DisabledTools,
		"cachedTools":     doc.CachedTools,
	}
	for k, v := range doc.Extra {
		out[k] = v
	}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal settings document: %w", err)
	}
	return atomicWriteFile(s.path, data, 0o644)
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	fileLock := flock.New(s.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire settings lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire settings lock: timed out after %s", s.lockTimeout)
	}
	defer fileLock.Unlock()

	return fn()
}

// atomicWriteFile writes data to path via temp-file + fsync + rename, so
// a crash between write and rename leaves the prior file intact.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mcp_settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings file: %w", err)
	}
	tmp = nil

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp settings file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp settings file: %w", err)
	}
	return nil
}
