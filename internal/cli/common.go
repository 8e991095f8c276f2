package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/cadre-oss/mneme/internal/background"
	"github.com/cadre-oss/mneme/internal/companion"
	"github.com/cadre-oss/mneme/internal/config"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

// loadConfig reads the config file, then applies flag and MNEME_*
// environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		return nil, err
	}
	config.ApplyOverrides(cfg, overrides())
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath is the --config flag, the file viper discovered, or
// mneme.yaml in the working directory.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return config.FileName
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) (*telemetry.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, err := telemetry.OpenLogger(telemetry.LoggerOptions{
		Level:  level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, nil
}

// app bundles what a command needs to talk to the memory service.
type app struct {
	cfg     *config.Config
	logger  *telemetry.Logger
	runtime *companion.Runtime
	runner  *background.GoRunner
}

func (a *app) Service() *companion.Service { return a.runtime.Service }

// openApp loads config and builds the runtime. Background extraction
// runs on a GoRunner that Close drains.
func openApp(ctx context.Context, requireProvider bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	runner := background.NewGoRunner(ctx, logger)
	rt, err := companion.Open(ctx, cfg, companion.RuntimeOptions{
		Logger:          logger,
		Metrics:         telemetry.NewMetrics(),
		Runner:          runner,
		RequireProvider: requireProvider,
	})
	if err != nil {
		logger.Close()
		return nil, err
	}
	rt.Bus.SetSource(instanceID())
	return &app{cfg: cfg, logger: logger, runtime: rt, runner: runner}, nil
}

// Close waits for background work, then releases the runtime.
func (a *app) Close(ctx context.Context) {
	if err := a.runner.Wait(ctx); err != nil {
		a.logger.Warn("Background tasks still running at exit", "error", err)
	}
	if err := a.runtime.Close(); err != nil {
		a.logger.Warn("Failed to close runtime", "error", err)
	}
	a.logger.Close()
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "mneme"
	}
	return host + "-" + uuid.NewString()[:8]
}
