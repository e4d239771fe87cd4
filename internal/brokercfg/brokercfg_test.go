package brokercfg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHonorsSettingsRootOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom-root")
	t.Setenv(envSettingsRoot, dir)

	cfg, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.SettingsRoot)
	assert.DirExists(t, dir)
}

func TestResolveHonorsListenAddrOverride(t *testing.T) {
	t.Setenv(envSettingsRoot, t.TempDir())
	t.Setenv(envListenAddr, "0.0.0.0:9999")

	cfg, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.ListenAddr)
}

func TestResolveDefaultsListenAddrWhenUnset(t *testing.T) {
	t.Setenv(envSettingsRoot, t.TempDir())
	t.Setenv(envListenAddr, "")

	cfg, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.ListenAddr)
}

func TestSettingsRootFallsBackToXDGConfigHome(t *testing.T) {
	t.Setenv(envSettingsRoot, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	root, err := settingsRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(xdg, defaultDirName), root)
}
