package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-host-go/pkg/configstore"
	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

var callCmd = &cobra.Command{
	Use:   "call <server-id> <tool> [json-arguments]",
	Short: "Launch a stored server, invoke one tool, and print the result",
	Long: `call starts the named server from the store, waits for its handshake,
invokes the tool with the given JSON arguments, prints the result to stdout
as JSON, and stops the server again. A failed invocation exits non-zero.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig(flagConfig)
	if err != nil {
		return err
	}
	log := setupLogger(cfg.LogLevel, cfg.LogFormat)

	serverID, toolName := args[0], args[1]
	var toolArgs map[string]any
	if len(args) == 3 && strings.TrimSpace(args[2]) != "" {
		if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
			return fmt.Errorf("parse tool arguments: %w", err)
		}
	}

	store := configstore.New(cfg.StorePath)
	configs, err := store.Load()
	if err != nil {
		return err
	}
	var serverCfg mcphost.ServerConfig
	found := false
	for _, sc := range configs {
		if sc.ID == serverID {
			serverCfg = sc
			found = true
			break
		}
	}
	if !found {
		ids := make([]string, 0, len(configs))
		for _, sc := range configs {
			ids = append(ids, sc.ID)
		}
		return fmt.Errorf("server %q not in %s (known: %s)",
			serverID, store.Path(), strings.Join(ids, ", "))
	}
	// One-shot invocation controls the lifecycle itself.
	serverCfg.AutoStart = false

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := mcphost.NewManager(&mcphost.ManagerOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
		RequestTimeout:   cfg.RequestTimeout,
		CallTimeout:      cfg.CallTimeout,
		Logger:           log,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil {
			log.Warn("shutdown reported errors", "error", err)
		}
	}()

	if err := manager.AddServer(ctx, serverCfg); err != nil {
		return err
	}
	if err := manager.StartServer(ctx, serverID); err != nil {
		return err
	}

	result := manager.ExecuteTool(ctx, mcphost.ToolCall{
		Server:    serverID,
		Tool:      toolName,
		Arguments: toolArgs,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !result.Success {
		return fmt.Errorf("tool %s failed: %s", toolName, result.Error)
	}
	return nil
}
