package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long:  `Commands for viewing and checking the effective configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Print the configuration after env interpolation, defaults and overrides. The API key is redacted.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shown := *cfg
	shown.Provider.APIKey = redact(cfg.Provider.APIKey)
	out, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	w := cmd.OutOrStdout()
	if used := configPath(); used != "" {
		fmt.Fprintf(w, "# %s\n", used)
	}
	fmt.Fprint(w, string(out))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (store=%s, provider=%s, strategy=%s)\n",
		configPath(), cfg.Store.Driver, cfg.Provider.Name, cfg.Extraction.Strategy)
	return nil
}

func redact(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "***"
	default:
		return "***" + key[len(key)-4:]
	}
}
