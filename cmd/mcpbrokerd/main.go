// Command mcpbrokerd runs the MCP broker's control-plane HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/mcpbroker/internal/brokercfg"
	"github.com/standardbeagle/mcpbroker/internal/controlplane"
	"github.com/standardbeagle/mcpbroker/internal/mcpclient"
	"github.com/standardbeagle/mcpbroker/internal/registry"
	"github.com/standardbeagle/mcpbroker/internal/settings"
	"github.com/standardbeagle/mcpbroker/internal/toolcache"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const negotiatedProtocolVersion = "2024-11-05"

var (
	listenAddr   string
	settingsRoot string
)

var rootCmd = &cobra.Command{
	Use:   "mcpbrokerd",
	Short: "Broker connections between a host application and MCP servers",
	Long: `mcpbrokerd is the host-side MCP broker: it manages the lifecycle of
configured MCP servers (stdio, SSE, or Streamable-HTTP), maintains a
persistent settings and tool-cache store, and exposes a small REST
control-plane for starting, stopping, listing, and calling tools.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane HTTP server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mcpbrokerd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (overrides MCPBROKER_LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&settingsRoot, "settings-root", "", "settings directory (overrides MCPBROKER_HOME)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := brokercfg.Resolve()
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if settingsRoot != "" {
		cfg.SettingsRoot = settingsRoot
	}

	store := settings.New(cfg.SettingsRoot)
	identity := registry.BrokerIdentity{Name: "mcpbrokerd", Version: Version}
	builder := registry.NewDefaultBuilder(identity, negotiatedProtocolVersion, mcpclient.DefaultAcceptVersion, logger)
	reg := registry.New(builder)
	cache := toolcache.New(reg, store)
	handler := controlplane.New(reg, store, cache, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler.Routes(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("mcpbrokerd listening", "addr", cfg.ListenAddr, "settingsRoot", cfg.SettingsRoot)
		serverErr <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
		reg.Teardown(shutdownCtx)
	}
	return nil
}
