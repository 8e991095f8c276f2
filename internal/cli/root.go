package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mneme",
	Short: "Long-term memory for AI companions",
	Long: `mneme - an AI companion that remembers.

Stores durable facts about the user, finds the ones relevant to each new
message, and injects them into the conversation before the model answers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints any error with its suggestion.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if sug := mnemeErrors.Suggestion(err); sug != "" {
			fmt.Fprintln(os.Stderr, "  →", sug)
		}
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./mneme.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("store-driver", "", "memory store driver (sqlite, postgres, memory)")
	flags.String("store-dsn", "", "memory store path or connection string")
	flags.String("provider", "", "model provider (anthropic, openai)")
	flags.String("model", "", "model name")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("mneme")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"store-driver": "store.driver",
	"store-dsn":    "store.dsn",
	"provider":     "provider.name",
	"model":        "provider.model",
}

// overrides returns a viper instance holding only flag and MNEME_*
// environment values, e.g. MNEME_STORE_DRIVER for store.driver.
func overrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MNEME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for flag, key := range flagKeys {
		if f := rootCmd.PersistentFlags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
	return v
}
