package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/mneme/internal/server"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mneme HTTP API",
	Long: `Start a web server exposing chat, memory management, search, extraction,
and live memory events over SSE and WebSocket.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (default from server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()
		a.Close(drainCtx)
	}()

	if a.cfg.Telemetry.Tracing {
		shutdown := telemetry.SetupTracing(a.cfg.Telemetry.ServiceName)
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				a.logger.Warn("Tracer shutdown failed", "error", err)
			}
		}()
	}

	if relay := a.runtime.Relay; relay != nil {
		go func() {
			if err := relay.Run(ctx, nil); err != nil {
				a.logger.Error("Redis event relay stopped", "error", err)
			}
		}()
		a.logger.Info("Relaying memory events through Redis",
			"addr", a.cfg.Events.Redis.Addr, "channel", a.cfg.Events.Redis.Channel)
	}

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	return server.New(a.cfg, a.Service(), a.logger.Component("http")).Start(ctx, addr)
}
