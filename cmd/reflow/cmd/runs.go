package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/deepnoodle-ai/reflow"
	"github.com/deepnoodle-ai/reflow/journal"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	listStatus string
	listName   string
	listLimit  int
	listOffset int
	showEvents bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage controlled runs",
	Long:  `Commands for listing, inspecting, and resuming runs recorded in the journal.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	Long:  `List runs in the journal, newest first.`,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Long:  `Show the snapshot and attempt history of a single run.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Request resume of a paused run",
	Long: `Record a resume request for a paused run. The controller owning the
run picks the request up and re-enters execution with the pending inputs.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsResume,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run from the journal",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, running, paused, completed, failed, cancelled)")
	runsListCmd.Flags().StringVar(&listName, "name", "", "filter by work item name glob (e.g. 'relax-*')")
	runsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of runs to show")
	runsListCmd.Flags().IntVar(&listOffset, "offset", 0, "number of runs to skip")
	runsShowCmd.Flags().BoolVar(&showEvents, "events", false, "include the full event history")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsResumeCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func openJournal() (journal.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.BuildJournal()
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openJournal()
	if err != nil {
		return err
	}

	filter := journal.Filter{
		NameGlob: listName,
		Limit:    listLimit,
		Offset:   listOffset,
	}
	if listStatus != "" {
		status := reflow.RunStatus(listStatus)
		filter.Status = &status
	}
	if err := filter.Validate(); err != nil {
		return err
	}

	runs, err := store.ListRuns(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run ID", "Work Item", "Status", "Attempts", "Cached", "Started", "Duration")
	for _, run := range runs {
		cached := "-"
		if run.FromCache {
			cached = "yes"
		}
		table.Append(
			run.ID,
			run.WorkItemName,
			string(run.Status),
			fmt.Sprintf("%d", run.AttemptCount),
			cached,
			run.StartTime.Local().Format(time.RFC3339),
			formatDuration(run),
		)
	}
	table.Render()
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openJournal()
	if err != nil {
		return err
	}
	ctx := context.Background()

	snapshot, err := store.GetSnapshot(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("Run %s\n\n", snapshot.ID)
	fmt.Printf("  Work item:  %s\n", snapshot.WorkItemName)
	fmt.Printf("  Status:     %s\n", colorStatus(snapshot.Status))
	fmt.Printf("  Attempts:   %d\n", snapshot.AttemptCount)
	if snapshot.Fingerprint != "" {
		fmt.Printf("  Fingerprint: %s\n", snapshot.Fingerprint)
	}
	if snapshot.FromCache {
		fmt.Printf("  From cache: yes\n")
	}
	fmt.Printf("  Started:    %s\n", snapshot.StartTime.Local().Format(time.RFC3339))
	if !snapshot.EndTime.IsZero() {
		fmt.Printf("  Finished:   %s\n", snapshot.EndTime.Local().Format(time.RFC3339))
	}
	if snapshot.Error != "" {
		fmt.Printf("  Error:      %s\n", color.RedString(snapshot.Error))
	}

	if !showEvents {
		return nil
	}

	events, err := store.GetHistory(ctx, snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	fmt.Println()
	bold.Println("Events")
	for _, event := range events {
		line := fmt.Sprintf("  %4d  %s  %-18s",
			event.Sequence,
			event.Timestamp.Local().Format("15:04:05.000"),
			string(event.EventType))
		if event.Attempt > 0 {
			line += fmt.Sprintf("  attempt=%d", event.Attempt)
		}
		if detail := eventDetail(event); detail != "" {
			line += "  " + detail
		}
		fmt.Println(line)
	}
	return nil
}

func runRunsResume(cmd *cobra.Command, args []string) error {
	store, err := openJournal()
	if err != nil {
		return err
	}
	ctx := context.Background()

	snapshot, err := store.GetSnapshot(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if snapshot.Status != reflow.RunStatusPaused {
		return fmt.Errorf("run %s is not paused (status %s)", snapshot.ID, snapshot.Status)
	}

	event := journal.NewEvent(snapshot.ID, snapshot.LastEventSeq+1, journal.EventResumeRequested, 0, nil)
	if err := store.AppendEvents(ctx, []*journal.RunEvent{event}); err != nil {
		return fmt.Errorf("failed to record resume request: %w", err)
	}
	fmt.Printf("Resume requested for run %s\n", snapshot.ID)
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openJournal()
	if err != nil {
		return err
	}
	if err := store.DeleteRun(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	fmt.Printf("Deleted run %s\n", args[0])
	return nil
}

func colorStatus(status reflow.RunStatus) string {
	switch status {
	case reflow.RunStatusCompleted:
		return color.GreenString(string(status))
	case reflow.RunStatusFailed, reflow.RunStatusCancelled:
		return color.RedString(string(status))
	case reflow.RunStatusPaused:
		return color.YellowString(string(status))
	default:
		return string(status)
	}
}

func formatDuration(run *journal.RunSnapshot) string {
	if run.EndTime.IsZero() {
		return "-"
	}
	return run.EndTime.Sub(run.StartTime).Round(time.Millisecond).String()
}

func eventDetail(event *journal.RunEvent) string {
	var parts []string
	for _, key := range []string{"handler", "handled", "restart", "status", "reason", "error", "source_run_id"} {
		if value, ok := event.Data[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, value))
		}
	}
	return strings.Join(parts, " ")
}
