package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/mneme/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve memory tools over MCP on stdin/stdout",
	Long: `Run a Model Context Protocol server on stdin/stdout so an MCP client
can list, add, update, delete, search and extract memories.

Logs go to stderr or logging.file; stdout carries only protocol messages.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()
		a.Close(drainCtx)
	}()

	a.logger.Info("MCP server ready", "store", a.cfg.Store.Driver)
	return mcp.NewServer(a.Service(), Version, a.logger.Component("mcp")).Run(ctx)
}
