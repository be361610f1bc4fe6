package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/convert"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/events"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/metrics"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

// Recorder persists finished jobs; optional on the runner
type Recorder interface {
	RecordJob(job *models.Job)
}

// Runner drives one conversion job at a time through its lifecycle:
// start request, event registration, progress, terminal outcome. Each
// scheduler lane calls Process once per dequeued image; jobs are never
// reused, so a retry is a fresh Process call.
type Runner struct {
	client   *convert.Client
	mux      *events.Multiplexer
	style    models.StyleParams
	timeout  time.Duration
	observer Observer
	recorder Recorder
	logger   *logging.Logger
	metrics  *metrics.PipelineMetrics
}

// NewRunner creates a runner for one style across a batch
func NewRunner(client *convert.Client, mux *events.Multiplexer, style models.StyleParams, timeout time.Duration, observer Observer, logger *logging.Logger) *Runner {
	return &Runner{
		client:   client,
		mux:      mux,
		style:    style,
		timeout:  timeout,
		observer: observer,
		logger:   logger,
	}
}

// SetRecorder attaches a job recorder; optional
func (r *Runner) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// SetMetrics attaches pipeline metrics; optional
func (r *Runner) SetMetrics(pm *metrics.PipelineMetrics) {
	r.metrics = pm
}

// Process runs one image to a terminal state. It satisfies
// pipeline.ProcessFunc.
func (r *Runner) Process(ctx context.Context, image models.ImageHandle) error {
	job := models.NewJob(uuid.New().String(), image, r.style)
	log := r.logger.WithField("image", image.URL)

	if err := job.Transition(models.JobStateRequesting, "lane start"); err != nil {
		return err
	}

	remoteID, err := r.client.Start(ctx, image, r.style)
	if err != nil {
		// Request error: terminal immediately, no registration to leak
		reason := fmt.Sprintf("start request failed: %v", err)
		if ctx.Err() != nil {
			return r.finishCanceled(job, log)
		}
		return r.finishFailed(job, log, reason)
	}

	job.RemoteID = remoteID
	if err := job.Transition(models.JobStateAwaitingEvents, "remote id assigned"); err != nil {
		return err
	}
	log = log.WithField("remote_id", remoteID)

	terminal := make(chan models.Event, 1)
	err = r.mux.Register(remoteID,
		func(ev models.Event) {
			// Progress already normalized at the stream boundary;
			// SetProgress drops regressions from out-of-order delivery
			if job.SetProgress(ev.Progress) {
				r.observer.OnProgress(image, job.Progress)
			}
		},
		func(ev models.Event) {
			terminal <- ev
		},
	)
	if err != nil {
		return r.finishFailed(job, log, fmt.Sprintf("event registration failed: %v", err))
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case ev := <-terminal:
		// The multiplexer already removed the registration
		if ev.IsSuccess() {
			job.SetProgress(1)
			job.ResultURL = ev.ResultURL
			if err := job.Transition(models.JobStateSucceeded, "terminal event"); err != nil {
				return err
			}
			r.record(job, "succeeded")
			r.observer.OnSuccess(image, ev.ResultURL)
			log.Debug("Job succeeded")
			return nil
		}
		reason := ev.Error
		if reason == "" {
			reason = "conversion failed"
		}
		return r.finishFailed(job, log, reason)

	case <-timer.C:
		// Force-fail and deregister so a late event cannot leak
		r.mux.Deregister(remoteID)
		reason := fmt.Sprintf("no terminal event within %s", r.timeout)
		return r.finishFailed(job, log, reason)

	case <-ctx.Done():
		r.mux.Deregister(remoteID)
		r.cancelRemote(remoteID, log)
		return r.finishCanceled(job, log)
	}
}

func (r *Runner) finishFailed(job *models.Job, log *logging.Logger, reason string) error {
	job.Error = reason
	if err := job.Transition(models.JobStateFailed, reason); err != nil {
		return err
	}
	r.record(job, "failed")
	r.observer.OnFailure(job.Source, reason)
	log.Warn("Job failed", map[string]interface{}{"reason": reason})
	return errors.New(reason)
}

func (r *Runner) finishCanceled(job *models.Job, log *logging.Logger) error {
	job.Error = "batch canceled"
	if err := job.Transition(models.JobStateCanceled, "batch canceled"); err != nil {
		return err
	}
	r.record(job, "canceled")
	r.observer.OnFailure(job.Source, "batch canceled")
	log.Debug("Job canceled")
	return context.Canceled
}

// cancelRemote makes a best-effort attempt to stop the remote project;
// its registration is already gone, so a late terminal event is inert.
func (r *Runner) cancelRemote(remoteID string, log *logging.Logger) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Cancel(cancelCtx, remoteID); err != nil {
		log.Debug("Remote cancel failed", map[string]interface{}{"error": err.Error()})
	}
}

func (r *Runner) record(job *models.Job, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordOutcome(outcome, job.Duration().Seconds())
	}
	if r.recorder != nil {
		r.recorder.RecordJob(job)
	}
}
