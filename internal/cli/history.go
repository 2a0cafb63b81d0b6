package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/toolbridge/internal/config"
	"github.com/harun/toolbridge/pkg/history"
)

var (
	historyTool  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent tool executions",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTool, "tool", "", "filter by tool name")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	store, err := history.NewStore(cfg.History.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(historyTool, historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tMODE\tEXIT\tSTATUS\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339),
			e.ToolName,
			e.Mode,
			e.ExitCode,
			e.Status,
			time.Duration(e.Duration)*time.Millisecond,
		)
	}
	return w.Flush()
}
