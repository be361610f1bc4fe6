package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/store"
)

var (
	historyLimit int
	historyDB    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long:  `Lists previous conversion batches from the local run history, newest first.`,
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-image outcomes of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.PersistentFlags().StringVar(&historyDB, "db", "", "run-history database (default $HOME/.photobooth/history.db)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list, 0 for all")
}

func openHistory() (store.Store, error) {
	path := historyDB
	if path == "" {
		var err error
		path, err = defaultHistoryPath()
		if err != nil {
			return nil, err
		}
	}
	return store.NewStore(store.Config{Type: "sqlite", Path: path})
}

// shortRunID abbreviates a run id for table display. Ids from a foreign
// or hand-edited history db can be shorter than the abbreviation.
func shortRunID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if IsJSONOutput() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run", "Style", "Started", "Duration", "Succeeded", "Failed")

	for _, run := range runs {
		duration := "-"
		if d := run.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		table.Append(
			shortRunID(run.ID),
			run.StyleID,
			run.StartedAt.Format(time.RFC3339),
			duration,
			fmt.Sprintf("%d", run.Tally.Succeeded),
			fmt.Sprintf("%d", run.Tally.Failed),
		)
	}

	table.Render()
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	st, err := openHistory()
	if err != nil {
		return err
	}
	defer st.Close()

	runID, err := resolveRunID(st, args[0])
	if err != nil {
		return err
	}

	jobs, err := st.GetRunJobs(runID)
	if err != nil {
		return fmt.Errorf("failed to load run jobs: %w", err)
	}

	if IsJSONOutput() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(jobs)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs recorded for this run.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Image", "Outcome", "Duration", "Result")

	for _, job := range jobs {
		result := job.ResultURL
		if result == "" {
			result = job.Error
		}
		duration := "-"
		if d := job.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		table.Append(job.Source.URL, string(job.State), duration, result)
	}

	table.Render()
	return nil
}

// resolveRunID accepts a full run id or an unambiguous prefix
func resolveRunID(st store.Store, arg string) (string, error) {
	if _, err := st.GetRun(arg); err == nil {
		return arg, nil
	}

	runs, err := st.ListRuns(0)
	if err != nil {
		return "", err
	}

	var match string
	for _, run := range runs {
		if len(arg) <= len(run.ID) && run.ID[:len(arg)] == arg {
			if match != "" {
				return "", fmt.Errorf("run id prefix %q is ambiguous", arg)
			}
			match = run.ID
		}
	}
	if match == "" {
		return "", store.ErrRunNotFound
	}
	return match, nil
}
