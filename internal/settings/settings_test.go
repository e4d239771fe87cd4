package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/mcpbroker/internal/registry"
)

func TestReadCreatesDefaultDocument(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	doc, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.MCPServers)
	assert.Empty(t, doc.DisabledServers)
	assert.Empty(t, doc.DisabledTools)
	assert.Empty(t, doc.CachedTools)

	_, statErr := os.Stat(filepath.Join(dir, fileName))
	assert.NoError(t, statErr)
}

func TestForwardMigrationFillsMissingKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(`{"mcpServers":{"echo":{"name":"echo","type":"stdio","command":"node"}},"someOtherPlugin":{"x":1}}`), 0o644))

	store := New(dir)
	doc, err := store.Read(context.Background())
	require.NoError(t, err)

	require.Contains(t, doc.MCPServers, "echo")
	assert.NotNil(t, doc.DisabledServers)
	assert.NotNil(t, doc.DisabledTools)
	assert.NotNil(t, doc.CachedTools)
	assert.Contains(t, doc.Extra, "someOtherPlugin")
}

func TestAddServerRejectsDuplicateName(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	entry := registry.ServerEntry{Name: "echo", TransportKind: registry.TransportStdio, Command: "node"}

	require.NoError(t, store.AddServer(context.Background(), entry))
	err := store.AddServer(context.Background(), entry)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestDeleteServerRemovesAssociatedEntriesButKeepsDisabledServers(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	entry := registry.ServerEntry{Name: "echo", TransportKind: registry.TransportStdio, Command: "node"}
	require.NoError(t, store.AddServer(context.Background(), entry))
	require.NoError(t, store.SetDisabledTools(context.Background(), "echo", []string{"noisy"}))
	require.NoError(t, store.SetCachedTools(context.Background(), "echo", json.RawMessage(`[{"name":"noisy"}]`)))
	require.NoError(t, store.SetDisabledServers(context.Background(), []string{"echo", "ghost"}))

	require.NoError(t, store.DeleteServer(context.Background(), nil, "echo"))

	doc, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, doc.MCPServers, "echo")
	assert.NotContains(t, doc.DisabledTools, "echo")
	assert.NotContains(t, doc.CachedTools, "echo")
	assert.ElementsMatch(t, []string{"echo", "ghost"}, doc.DisabledServers)
}

func TestWriteIsAtomicViaRename(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	entry := registry.ServerEntry{Name: "echo", TransportKind: registry.TransportStdio, Command: "node"}
	require.NoError(t, store.AddServer(context.Background(), entry))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "no leftover temp file after a successful write")
	}

	data, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "mcpServers")
}
