package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cadre-oss/mneme/internal/memory"
)

var (
	memJSON       bool
	memFilter     string
	memTitle      string
	memContent    string
	memImportance int
	memLimit      int
	memYes        bool

	updTitle      string
	updContent    string
	updImportance int
)

var memoryCmd = &cobra.Command{
	Use:     "memory",
	Aliases: []string{"mem"},
	Short:   "Manage stored memories",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories by importance",
	Long: `List stored memories, most important first.

Filter with a CEL expression over title, content and importance:
  mneme memory list --filter 'importance >= 7'
  mneme memory list --filter 'content.contains("cat")'`,
	RunE: runMemoryList,
}

var memoryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a memory",
	RunE:  runMemoryAdd,
}

var memoryUpdateCmd = &cobra.Command{
	Use:   "update <title>",
	Short: "Update a memory matched by title",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryUpdate,
}

var memoryDeleteCmd = &cobra.Command{
	Use:     "delete <title>",
	Aliases: []string{"rm"},
	Short:   "Delete a memory by exact title",
	Args:    cobra.ExactArgs(1),
	RunE:    runMemoryDelete,
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every memory",
	RunE:  runMemoryClear,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank memories against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemorySearch,
}

var memoryExtractCmd = &cobra.Command{
	Use:   "extract <message>",
	Short: "Run extraction on a message and save the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryExtract,
}

func init() {
	memoryCmd.PersistentFlags().BoolVar(&memJSON, "json", false, "output JSON")

	memoryListCmd.Flags().StringVarP(&memFilter, "filter", "f", "", "CEL filter expression")

	memoryAddCmd.Flags().StringVar(&memTitle, "title", "", "memory title")
	memoryAddCmd.Flags().StringVar(&memContent, "content", "", "memory content")
	memoryAddCmd.Flags().IntVarP(&memImportance, "importance", "i", memory.DefaultImportance, "importance 1-10")
	_ = memoryAddCmd.MarkFlagRequired("title")
	_ = memoryAddCmd.MarkFlagRequired("content")

	memoryUpdateCmd.Flags().StringVar(&updTitle, "title", "", "new title")
	memoryUpdateCmd.Flags().StringVar(&updContent, "content", "", "new content")
	memoryUpdateCmd.Flags().IntVarP(&updImportance, "importance", "i", 0, "new importance 1-10")

	memoryClearCmd.Flags().BoolVarP(&memYes, "yes", "y", false, "skip confirmation")

	memorySearchCmd.Flags().IntVarP(&memLimit, "limit", "n", 0, "maximum results")

	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryUpdateCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
	memoryCmd.AddCommand(memoryClearCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryExtractCmd)
}

// withApp opens the runtime for one memory command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmdContext(cmd)
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	filter, err := memory.CompileFilter(memFilter)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		all, err := a.Service().ListMemories(ctx)
		if err != nil {
			return err
		}
		matched, err := filter.Apply(all)
		if err != nil {
			return err
		}
		return printMemories(cmd.OutOrStdout(), matched, false)
	})
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		m, err := a.Service().AddMemory(ctx, memory.Memory{
			Title:      memTitle,
			Content:    memContent,
			Importance: memImportance,
		})
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), m, fmt.Sprintf("Added memory: %q", m.Title))
	})
}

func runMemoryUpdate(cmd *cobra.Command, args []string) error {
	var patch memory.Patch
	if cmd.Flags().Changed("title") {
		patch.Title = &updTitle
	}
	if cmd.Flags().Changed("content") {
		patch.Content = &updContent
	}
	if cmd.Flags().Changed("importance") {
		patch.Importance = &updImportance
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		m, err := a.Service().UpdateMemory(ctx, args[0], patch)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), m, fmt.Sprintf("Updated memory: %q", m.Title))
	})
}

func runMemoryDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		deleted, err := a.Service().DeleteMemory(ctx, args[0])
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Deleted memory: %q", args[0])
		if !deleted {
			msg = fmt.Sprintf("No memory titled %q", args[0])
		}
		return printResult(cmd.OutOrStdout(), map[string]bool{"deleted": deleted}, msg)
	})
}

func runMemoryClear(cmd *cobra.Command, args []string) error {
	if !memYes {
		fmt.Fprint(cmd.OutOrStdout(), "Delete every memory? [y/N] ")
		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer)
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		n, err := a.Service().ClearAllMemories(ctx)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), map[string]int{"cleared": n}, fmt.Sprintf("Cleared %d memories", n))
	})
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	return withApp(cmd, func(ctx context.Context, a *app) error {
		results, strategy := a.Service().SearchMemories(ctx, query, memLimit)
		if memJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"results": results, "strategy": strategy})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Strategy: %s\n", strategy)
		return printMemories(cmd.OutOrStdout(), results, true)
	})
}

func runMemoryExtract(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	return withApp(cmd, func(ctx context.Context, a *app) error {
		res := a.Service().ExtractAndPersist(ctx, message, nil)
		if memJSON {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			for _, action := range res.ActionsTaken {
				fmt.Fprintln(cmd.OutOrStdout(), action)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		}
		if !res.Success {
			return res.Err
		}
		return nil
	})
}

func printMemories(out io.Writer, ms []memory.Memory, scored bool) error {
	if memJSON {
		if ms == nil {
			ms = []memory.Memory{}
		}
		return writeJSON(out, ms)
	}
	if len(ms) == 0 {
		fmt.Fprintln(out, "No memories found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if scored {
		fmt.Fprintln(w, "TITLE\tIMPORTANCE\tSCORE\tCONTENT")
	} else {
		fmt.Fprintln(w, "TITLE\tIMPORTANCE\tCONTENT")
	}
	for _, m := range ms {
		content := truncate(strings.ReplaceAll(m.Content, "\n", " "), 60)
		if scored {
			fmt.Fprintf(w, "%s\t%d\t%.0f\t%s\n", m.Title, m.Importance, m.Score, content)
		} else {
			fmt.Fprintf(w, "%s\t%d\t%s\n", m.Title, m.Importance, content)
		}
	}
	return w.Flush()
}

func printResult(out io.Writer, v interface{}, text string) error {
	if memJSON {
		return writeJSON(out, v)
	}
	fmt.Fprintln(out, text)
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
