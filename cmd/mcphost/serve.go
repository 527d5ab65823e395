package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-host-go/pkg/configstore"
	mcpadmin "github.com/vikashloomba/mcp-host-go/pkg/mcp-admin"
	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the host daemon and serve the admin API",
	Long: `serve loads the stored server configurations, launches the ones marked
autostart, and serves the management API until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadDaemonConfig(flagConfig)
	if err != nil {
		return err
	}
	log := setupLogger(cfg.LogLevel, cfg.LogFormat)

	store := configstore.New(cfg.StorePath)
	configs, err := store.Load()
	if err != nil {
		return err
	}

	manager := mcphost.NewManager(&mcphost.ManagerOptions{
		MaxConcurrentServers: cfg.MaxServers,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		RequestTimeout:       cfg.RequestTimeout,
		CallTimeout:          cfg.CallTimeout,
		Logger:               log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A server that fails to register or launch must not take the daemon
	// down with it.
	for _, sc := range configs {
		if err := manager.AddServer(ctx, sc); err != nil {
			log.Warn("stored server failed to load", "server", sc.ID, "error", err)
		}
	}

	admin, err := mcpadmin.NewServer(manager, &mcpadmin.Options{
		Addr:           cfg.Addr,
		HistorySize:    cfg.HistorySize,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	log.Info("mcphost daemon started",
		"addr", cfg.Addr,
		"store", store.Path(),
		"servers", len(configs),
	)

	serveErr := admin.ListenAndServe(ctx)

	// The signal context is already done here, so shut down on a fresh one.
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.Close(closeCtx); err != nil {
		log.Warn("manager shutdown reported errors", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	log.Info("mcphost daemon stopped")
	return nil
}
