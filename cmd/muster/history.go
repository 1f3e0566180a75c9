package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/muster/internal/config"
	"github.com/agent462/muster/internal/history"
	"github.com/agent462/muster/internal/pathutil"
)

var (
	historyDB    string
	historyHost  string
	historyLimit int
	historyRunID int64
	historyPrune int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past collection runs from the ledger",
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyDB, "db", "", "ledger database (default ~/.local/share/muster/history.db)")
	f.StringVar(&historyHost, "host", "", "only runs that touched hosts matching this glob")
	f.IntVar(&historyLimit, "limit", 20, "maximum runs to list")
	f.Int64Var(&historyRunID, "run", 0, "show the per-host results of one run")
	f.IntVar(&historyPrune, "prune", 0, "delete all but the newest N runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, err := resolveHistoryPath()
	if err != nil {
		return err
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyPrune > 0 {
		if err := store.Cleanup(historyPrune); err != nil {
			return err
		}
		fmt.Printf("pruned the ledger to the newest %d runs\n", historyPrune)
		return nil
	}

	if historyRunID > 0 {
		return printRunDetail(store, historyRunID)
	}

	var runs []history.Run
	if historyHost != "" {
		runs, err = store.FindByHost(historyHost, historyLimit)
	} else {
		runs, err = store.Recent(historyLimit)
	}
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	fmt.Printf("%-5s %-19s %-9s %-6s %-9s %-7s %s\n",
		"ID", "STARTED", "DURATION", "HOSTS", "CAPTURED", "FAILED", "OUTPUT")
	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%-5d %-19s %-9s %-6d %-9d %-7d %s\n",
			r.ID, r.StartedAt.Format(time.DateTime), dur, r.Hosts, r.Captured, r.Failed, r.OutputDir)
	}
	return nil
}

func printRunDetail(store *history.Store, runID int64) error {
	records, err := store.HostResults(runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("run %d has no host results\n", runID)
		return nil
	}

	fmt.Printf("%-20s %-16s %-9s %-9s %-10s %s\n",
		"HOST", "ADDRESS", "CAPTURED", "REJECTED", "DURATION", "ERROR")
	for _, rec := range records {
		fmt.Printf("%-20s %-16s %-9d %-9d %-10s %s\n",
			rec.DisplayName, rec.Address, rec.Captured, rec.Rejected,
			rec.Duration.Round(time.Millisecond), rec.ErrorText)
	}
	return nil
}

// resolveHistoryPath picks the ledger location: the --db flag, then the
// config file, then the XDG default.
func resolveHistoryPath() (string, error) {
	if historyDB != "" {
		return pathutil.ExpandHome(historyDB), nil
	}
	if cfg, err := loadConfig(); err == nil && cfg.History.Path != "" {
		return pathutil.ExpandHome(cfg.History.Path), nil
	}
	if path := config.DefaultHistoryPath(); path != "" {
		return path, nil
	}
	return "", errors.New("cannot resolve a history database path; use --db")
}
