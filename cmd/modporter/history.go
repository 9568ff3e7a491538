package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modporter/modporter/internal/state"
)

var (
	historyStatus string
	historyPurge  time.Duration
	historyGlobal bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past conversion runs",
	Long: `History lists completed, partial, and failed conversion runs recorded in
the local database, newest first.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Filter by status (running, completed, partial, failed)")
	historyCmd.Flags().DurationVar(&historyPurge, "purge-older-than", 0, "Delete runs older than this duration instead of listing")
	historyCmd.Flags().BoolVar(&historyGlobal, "global", false, "Use the global database instead of the project one")
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := openHistoryDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if historyPurge > 0 {
		removed, err := db.PurgeOldConversions(historyPurge)
		if err != nil {
			return fmt.Errorf("purge conversions: %w", err)
		}
		fmt.Printf("Removed %d conversion runs older than %s\n", removed, historyPurge)
		return nil
	}

	var filter *state.ConversionStatus
	if historyStatus != "" {
		s := state.ConversionStatus(historyStatus)
		switch s {
		case state.ConversionRunning, state.ConversionCompleted, state.ConversionPartial, state.ConversionFailed:
			filter = &s
		default:
			return fmt.Errorf("unknown status %q", historyStatus)
		}
	}

	conversions, err := db.ListConversions(filter)
	if err != nil {
		return fmt.Errorf("list conversions: %w", err)
	}
	if len(conversions) == 0 {
		fmt.Println("No conversion runs recorded.")
		return nil
	}

	for _, c := range conversions {
		fmt.Printf("%s  %s  %s\n", statusBadge(c.Status), c.StartedAt.Format("2006-01-02 15:04"), filepath.Base(c.ModPath))
		fmt.Printf("    strategy %s, %d/%d tasks, %.0f%% success, %s\n",
			c.Strategy, c.CompletedTasks, c.TotalTasks, c.SuccessRate*100, c.WallClock.Round(time.Millisecond))
	}
	return nil
}

func openHistoryDB() (*state.DB, error) {
	var (
		db  *state.DB
		err error
	)
	if historyGlobal {
		db, err = state.OpenGlobal()
	} else {
		cwd, werr := os.Getwd()
		if werr != nil {
			return nil, werr
		}
		db, err = state.OpenProject(cwd)
	}
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return db, nil
}

func statusBadge(s state.ConversionStatus) string {
	switch s {
	case state.ConversionCompleted:
		return color.GreenString("✓ completed")
	case state.ConversionPartial:
		return color.YellowString("⚠ partial  ")
	case state.ConversionRunning:
		return color.CyanString("… running  ")
	default:
		return color.RedString("✗ failed   ")
	}
}
