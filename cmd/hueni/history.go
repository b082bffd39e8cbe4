package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/hueni/internal/db"
	"github.com/dokzlo13/hueni/internal/ledger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show what hueni did to the lights",
	Long: `History reads the ledger written when database.path is set. Without filters it
lists recent runs; pass a run id from that list to see every event of the run.

Examples:
  # Recent runs
  hueni history --db hueni.db

  # Everything one run did
  hueni history --db hueni.db --run 3f2c9a1e-...

  # Recent commands sent to light 7
  hueni history --db hueni.db --light 7`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyDB    string
	historyRun   string
	historyLight string
	historyType  string
	historyLimit int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDB, "db", "", "Ledger database path (database.path)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Only events of this run, oldest first")
	historyCmd.Flags().StringVar(&historyLight, "light", "", "Only events of this light, newest first")
	historyCmd.Flags().StringVar(&historyType, "type", string(ledger.EventRunStarted), "Event type to list when no run or light is given")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of events")
	_ = historyCmd.MarkFlagRequired("db")
	historyCmd.MarkFlagsMutuallyExclusive("run", "light", "type")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(historyDB); err != nil {
		return fmt.Errorf("no ledger at %s: %w", historyDB, err)
	}
	database, err := db.Open(historyDB)
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := queryHistory(ledger.New(database.DB), historyRun, historyLight, ledger.EventType(historyType), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	return printEntries(cmd.OutOrStdout(), entries)
}

func queryHistory(l *ledger.Ledger, run, lightID string, eventType ledger.EventType, limit int) ([]*ledger.Entry, error) {
	switch {
	case run != "":
		return l.GetByRun(run, limit)
	case lightID != "":
		return l.GetByLight(lightID, limit)
	default:
		return l.GetByType(eventType, limit)
	}
}

func printEntries(out io.Writer, entries []*ledger.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tEVENT\tLIGHT\tDETAILS")
	for _, e := range entries {
		lightID := e.LightID
		if lightID == "" {
			lightID = "-"
		}
		details := ""
		if e.Payload != nil {
			data, err := json.Marshal(e.Payload)
			if err != nil {
				return err
			}
			details = string(data)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.RunID, e.EventType, lightID, details)
	}
	return w.Flush()
}
