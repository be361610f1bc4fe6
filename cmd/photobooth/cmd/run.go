package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/convert"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/discovery"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/events"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/metrics"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/pipeline"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/presenter"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/shutdown"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/statusserver"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/store"
)

var (
	manifestPath  string
	styleID       string
	stylePrompt   string
	styleStrength float64
	concurrency   int
	maxBatch      int
	jobTimeout    time.Duration
	statusAddr    string
	historyPath   string
	noHistory     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a conversion batch from a manifest",
	Long: `Reads a JSON manifest of image URLs and drives every pending image
through the style-transfer service. Lanes process images concurrently;
each image gets a start request and is then tracked through the shared
event stream until a terminal outcome.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&manifestPath, "manifest", "", "JSON manifest of images to convert (required)")
	runCmd.Flags().StringVar(&styleID, "style", "", "style identifier (overrides the manifest's style)")
	runCmd.Flags().StringVar(&stylePrompt, "prompt", "", "extra style prompt")
	runCmd.Flags().Float64Var(&styleStrength, "strength", 0, "style strength 0-1")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 8, "concurrent conversion lanes")
	runCmd.Flags().IntVar(&maxBatch, "max-batch", 32, "maximum images per run")
	runCmd.Flags().DurationVar(&jobTimeout, "job-timeout", 5*time.Minute, "per-image ceiling on waiting for a terminal event")
	runCmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve /healthz, /jobs and /metrics on this address while running")
	runCmd.Flags().StringVar(&historyPath, "db", "", "run-history database (default $HOME/.photobooth/history.db)")
	runCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not persist this run")
	runCmd.MarkFlagRequired("manifest")
}

// consoleObserver prints per-image outcomes as lanes finish
type consoleObserver struct {
	logger *logging.Logger
}

func (o *consoleObserver) OnProgress(image models.ImageHandle, progress float64) {
	o.logger.Debug("Progress", map[string]interface{}{
		"image":   image.URL,
		"percent": int(progress * 100),
	})
}

func (o *consoleObserver) OnSuccess(image models.ImageHandle, resultURL string) {
	fmt.Printf("✓ %s -> %s\n", image.URL, resultURL)
}

func (o *consoleObserver) OnFailure(image models.ImageHandle, reason string) {
	fmt.Printf("✗ %s: %s\n", image.URL, reason)
}

// laneIndicator is the CLI's slot indicator: one line per lane takeover
type laneIndicator struct {
	slot int
}

func (i *laneIndicator) ShowAt(target models.ImageHandle) {
	fmt.Printf("[lane %d] converting %s\n", i.slot, target.URL)
}

func (i *laneIndicator) Hide() {}

// runRecorder binds the store's job recording to one run
type runRecorder struct {
	store  store.Store
	runID  string
	logger *logging.Logger
}

func (r *runRecorder) RecordJob(job *models.Job) {
	if err := r.store.RecordJob(r.runID, job); err != nil {
		r.logger.Warn("Failed to record job", map[string]interface{}{
			"job":   job.ID,
			"error": err.Error(),
		})
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discover pending work
	disc := discovery.NewManifestDiscoverer(manifestPath, logger)
	images, err := disc.Discover(ctx)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Println("Nothing to convert: every manifest entry is already done.")
		return nil
	}

	style := disc.Style()
	if styleID != "" {
		style.StyleID = styleID
	}
	if stylePrompt != "" {
		style.Prompt = stylePrompt
	}
	if styleStrength > 0 {
		style.Strength = styleStrength
	}
	if style.StyleID == "" {
		return fmt.Errorf("no style configured: pass --style or set one in the manifest")
	}

	mgr := shutdown.New(30 * time.Second)

	// Run history
	storeCfg := store.Config{Type: "sqlite", Path: historyPath}
	if noHistory {
		storeCfg = store.Config{Type: "memory"}
	} else if storeCfg.Path == "" {
		storeCfg.Path, err = defaultHistoryPath()
		if err != nil {
			return err
		}
	}
	st, err := store.NewStore(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	mgr.Register(shutdown.CloseResource(st, "run history"))

	run := &models.Run{
		ID:        uuid.New().String(),
		StyleID:   style.StyleID,
		StartedAt: time.Now(),
	}
	if err := st.CreateRun(run); err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}

	// Conversion client and shared event stream
	client := convert.NewClient(GetAPIURL())
	client.SetAPIKey(GetAPIKey())

	pm := metrics.NewPipelineMetrics()

	mux := events.NewMultiplexer(GetAPIURL(), logger)
	mux.SetMetrics(pm)
	if err := mux.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect event stream: %w", err)
	}
	mgr.Register(func(context.Context) error {
		mux.Shutdown()
		return nil
	})

	// Pipeline
	observer := &consoleObserver{logger: logger}
	runner := pipeline.NewRunner(client, mux, style, jobTimeout, observer, logger)
	runner.SetMetrics(pm)
	runner.SetRecorder(&runRecorder{store: st, runID: run.ID, logger: logger})

	sched := pipeline.New(pipeline.Config{
		Concurrency: concurrency,
		MaxBatch:    maxBatch,
		JobTimeout:  jobTimeout,
	}, logger)
	sched.SetMetrics(pm)

	p, err := presenter.New(concurrency, func(slot int) presenter.Indicator {
		return &laneIndicator{slot: slot}
	})
	if err != nil {
		return err
	}
	sched.SetPresenter(p)

	if statusAddr != "" {
		status := statusserver.New(statusAddr, sched, pm.Handler(), logger)
		status.Start()
		mgr.Register(status.Stop)
	}

	tally, runErr := sched.Run(ctx, images, runner.Process)

	finished := time.Now()
	if err := st.FinishRun(run.ID, tally, finished); err != nil {
		logger.Warn("Failed to finish run record", map[string]interface{}{"error": err.Error()})
	}

	printSummary(st, run.ID, tally)
	mgr.Shutdown()

	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}
	return nil
}

func printSummary(st store.Store, runID string, tally models.Tally) {
	jobs, err := st.GetRunJobs(runID)
	if err != nil {
		fmt.Printf("\nDone: %d succeeded, %d failed\n", tally.Succeeded, tally.Failed)
		return
	}

	if IsJSONOutput() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(map[string]interface{}{
			"run":   runID,
			"tally": tally,
			"jobs":  jobs,
		})
		return
	}

	fmt.Println()
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
	fmt.Printf("\nDone: %d succeeded, %d failed\n", tally.Succeeded, tally.Failed)
}
