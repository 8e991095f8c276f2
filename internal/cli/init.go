package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/mneme/internal/config"
)

var (
	initName  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter mneme.yaml",
	Long: `Write a commented mneme.yaml into dir (default: current directory).

The template stores memories in .mneme/memory.db and reads the
provider key from ANTHROPIC_API_KEY.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initName, "name", "n", "", "companion name (default: directory name)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing mneme.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	name := initName
	if name == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve directory: %w", err)
		}
		name = filepath.Base(abs)
	}

	path, err := config.WriteTemplate(dir, name, initForce)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n\n", path)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  export ANTHROPIC_API_KEY=...")
	fmt.Fprintln(out, "  mneme doctor")
	fmt.Fprintln(out, "  mneme chat")
	return nil
}
