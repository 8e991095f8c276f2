package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cadre-oss/mneme/internal/companion"
	"github.com/cadre-oss/mneme/internal/config"
	"github.com/cadre-oss/mneme/internal/memory"
	"github.com/cadre-oss/mneme/internal/telemetry"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, store and provider setup",
	Long:  "Validate the configuration, open the memory store, and check the provider key and Redis connection.",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx, cancel := context.WithTimeout(cmdContext(cmd), 10*time.Second)
	defer cancel()

	fmt.Fprintln(out, "mneme doctor: checking your setup")
	fmt.Fprintln(out)
	allOK := true
	check := func(label, detail string, err error, hint string) {
		if err != nil {
			fmt.Fprintf(out, "  %-10s FAILED (%v) ✗\n", label+":", err)
			if hint != "" {
				fmt.Fprintf(out, "    → %s\n", hint)
			}
			allOK = false
			return
		}
		fmt.Fprintf(out, "  %-10s %s ✓\n", label+":", detail)
	}

	fmt.Fprintf(out, "  %-10s %s/%s %s ✓\n", "Platform:", runtime.GOOS, runtime.GOARCH, runtime.Version())

	cfg, err := loadConfig()
	check("Config", configPath(), err, "Run 'mneme init' to create mneme.yaml")
	if err != nil {
		return finishDoctor(out, false)
	}

	_, err = companion.NewProvider(cfg.Provider, nil)
	check("Provider", fmt.Sprintf("%s (%s, key %s)", cfg.Provider.Name, cfg.Provider.Model, redact(cfg.Provider.APIKey)),
		err, "Chat needs an API key; memory commands still work without one")

	check("Store", fmt.Sprintf("%s %s", cfg.Store.Driver, cfg.Store.DSN), checkStore(ctx, cfg), "")

	check("Strategy", cfg.Extraction.Strategy, nil, "")

	if cfg.Events.Redis.Enabled {
		check("Redis", cfg.Events.Redis.Addr, checkRedis(ctx, cfg.Events.Redis), "Disable events.redis or start Redis")
	}

	return finishDoctor(out, allOK)
}

func finishDoctor(out io.Writer, ok bool) error {
	fmt.Fprintln(out)
	if ok {
		fmt.Fprintln(out, "All checks passed!")
	} else {
		fmt.Fprintln(out, "Some checks failed. See above for details.")
	}
	return nil
}

// checkStore opens the configured store and reads it once.
func checkStore(ctx context.Context, cfg *config.Config) error {
	store, err := memory.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, telemetry.NopLogger())
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Read(ctx)
	return err
}

func checkRedis(ctx context.Context, rc config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	defer client.Close()
	return client.Ping(ctx).Err()
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
