// Package brokercfg resolves the per-user settings root and listen
// configuration for mcpbrokerd.
package brokercfg

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	envSettingsRoot = "MCPBROKER_HOME"
	envListenAddr   = "MCPBROKER_LISTEN_ADDR"
	defaultDirName  = "mcpbroker"
	defaultListen   = "127.0.0.1:8765"
)

// Config is the resolved daemon configuration.
type Config struct {
	SettingsRoot string
	ListenAddr   string
}

// Resolve computes the effective Config from the environment, creating
// the settings root directory if it does not yet exist.
func Resolve() (Config, error) {
	root, err := settingsRoot()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Config{}, err
	}

	listen := os.Getenv(envListenAddr)
	if listen == "" {
		listen = defaultListen
	}

	return Config{SettingsRoot: root, ListenAddr: listen}, nil
}

func settingsRoot() (string, error) {
	if override := os.Getenv(envSettingsRoot); override != "" {
		return override, nil
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, defaultDirName), nil
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, defaultDirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+defaultDirName), nil
}
