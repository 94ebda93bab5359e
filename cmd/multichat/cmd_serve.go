package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/multichat/internal/api"
	"github.com/user/multichat/internal/scheduler"
	"github.com/user/multichat/internal/session"
	"github.com/user/multichat/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "multichat.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	go a.hub.Run(ctx)

	a.gateway.Start(ctx)
	defer a.gateway.Stop()

	poller := scheduler.New(a.sessions, cfg.PollInterval(), func(l *session.Live) {
		a.hub.Publish(ctx, &types.Update{Type: types.UpdateSession, SessionID: l.ID()})
	})
	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}
	defer poller.Stop()

	srv := api.NewServer(api.Deps{
		Sessions:      a.sessions,
		Gateway:       a.gateway,
		Fanout:        a.fanout,
		Engine:        a.engine,
		Workflows:     a.workflows,
		Events:        a.events,
		WebSocket:     a.hub.HandleWebSocket,
		DefaultModels: cfg.DefaultModels,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	slog.Info("multichat started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"models", cfg.DefaultModels,
		"tools", len(a.catalog.All()),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return errors.New("http server stopped")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, reloading workflows")
				if cfg.WorkflowsDir != "" {
					if err := a.workflows.LoadDir(cfg.WorkflowsDir); err != nil {
						slog.Error("reload workflows", "error", err)
					}
				}
				if err := a.catalog.Refresh(ctx); err != nil {
					slog.Warn("tool discovery incomplete", "error", err)
				}
				continue
			}
			slog.Info("shutting down", "signal", sig)
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("http shutdown", "error", err)
			}
			return nil
		}
	}
}
