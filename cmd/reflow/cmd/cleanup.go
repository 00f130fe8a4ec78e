package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var runsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old finished runs",
	Long:  `Delete terminal runs whose end time is older than the given age.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-cleanupOlderThan)
		if err := store.CleanupFinishedRuns(context.Background(), cutoff); err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Deleted finished runs older than %s\n", cleanupOlderThan)
		return nil
	},
}

func init() {
	runsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "delete finished runs older than this")
	runsCmd.AddCommand(runsCleanupCmd)
}
