package stdio

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommandWrapsOnWindowsOnly(t *testing.T) {
	name, args := resolveCommand("my-server.cmd", []string{"--port", "8080"})
	if runtime.GOOS == "windows" {
		assert.Equal(t, "cmd", name)
		assert.Equal(t, []string{"/C", "my-server.cmd", "--port", "8080"}, args)
	} else {
		assert.Equal(t, "my-server.cmd", name)
		assert.Equal(t, []string{"--port", "8080"}, args)
	}
}

func TestResolveCommandLeavesShellInvocationsAlone(t *testing.T) {
	if runtime.GOOS != "windows" {
		t.Skip("shell-invocation passthrough only matters on windows")
	}
	name, args := resolveCommand("powershell.exe", []string{"-Command", "foo"})
	assert.Equal(t, "powershell.exe", name)
	assert.Equal(t, []string{"-Command", "foo"}, args)
}

func TestMergeEnvOverlaysBase(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/x"}
	merged := mergeEnv(base, map[string]string{"API_KEY": "secret"})
	assert.Contains(t, merged, "PATH=/usr/bin")
	assert.Contains(t, merged, "HOME=/home/x")
	assert.Contains(t, merged, "API_KEY=secret")
}
