package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/deepnoodle-ai/reflow/journal"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var runsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch runs for status changes",
	Long: `Watch the file journal and print a line whenever a run's snapshot
changes. Only the file journal backend supports watching.`,
	RunE: runRunsWatch,
}

func init() {
	runsCmd.AddCommand(runsWatchCmd)
}

func runRunsWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Backend != "file" {
		return fmt.Errorf("watch requires the file journal backend (configured: %s)", cfg.Journal.Backend)
	}
	basePath := cfg.Journal.Path
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	store := journal.NewFileStore(basePath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Run directories appear after the watch starts, so watch the base
	// directory and add each new run directory as it is created.
	if err := watcher.Add(basePath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", basePath, err)
	}
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			watcher.Add(filepath.Join(basePath, entry.Name()))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s (ctrl-c to stop)\n", basePath)
	seen := map[string]string{}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watcher.Add(event.Name)
					continue
				}
			}
			if filepath.Base(event.Name) != "snapshot.json" {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			runID := filepath.Base(filepath.Dir(event.Name))
			snapshot, err := store.GetSnapshot(context.Background(), runID)
			if err != nil {
				continue
			}
			key := string(snapshot.Status) + "/" + fmt.Sprint(snapshot.AttemptCount)
			if seen[runID] == key {
				continue
			}
			seen[runID] = key
			printSnapshotLine(snapshot)
		}
	}
}

func printSnapshotLine(snapshot *journal.RunSnapshot) {
	var extra []string
	if snapshot.AttemptCount > 0 {
		extra = append(extra, fmt.Sprintf("attempts=%d", snapshot.AttemptCount))
	}
	if snapshot.FromCache {
		extra = append(extra, "from_cache")
	}
	if snapshot.Error != "" {
		extra = append(extra, "error="+snapshot.Error)
	}
	fmt.Printf("%s  %s  %-24s %s  %s\n",
		time.Now().Format("15:04:05"),
		snapshot.ID,
		snapshot.WorkItemName,
		colorStatus(snapshot.Status),
		strings.Join(extra, " "))
}
