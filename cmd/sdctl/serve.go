package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cuemby/sysrepod/internal/conn"
	"github.com/cuemby/sysrepod/internal/introspect"
	"github.com/cuemby/sysrepod/internal/logging"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the engine state and serve the introspection HTTP endpoint until signaled",
	Long: `Opens a Manager against the configured repo/SHM paths (the same
paths the engine process itself was started with) and serves
internal/introspect's read-only HTTP endpoints (/modules,
/modules/{name}/locks, /subscriptions, /arena/stats, /metrics) on a Unix
domain socket until interrupted.

This does not start the engine's own connections or providers; it is
purely a side-car introspection surface, matching cmd/warren/main.go's
pattern of running a /metrics + /debug/pprof HTTP server alongside the
primary protocol listener.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "introspection Unix domain socket path (default <repo_path>/"+introspect.SocketName+")")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := conn.Open(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	socketPath := serveAddr
	if socketPath == "" {
		socketPath = filepath.Join(cfg.RepoPath, introspect.SocketName)
	}
	srv := introspect.New(m, socketPath)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Info("sdctl serve: shutting down")
		return srv.Shutdown()
	}
}
