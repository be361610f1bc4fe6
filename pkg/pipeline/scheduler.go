package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/metrics"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/presenter"
)

var (
	ErrBadConcurrency = errors.New("concurrency must be >= 1")
	ErrBatchTooLarge  = errors.New("batch exceeds maximum queue length")
)

// Config holds scheduler configuration
type Config struct {
	Concurrency int           // number of concurrent lanes
	MaxBatch    int           // hard cap on images per run, 0 disables the cap
	JobTimeout  time.Duration // per-job ceiling on waiting for a terminal event
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		MaxBatch:    32,
		JobTimeout:  5 * time.Minute,
	}
}

// Observer receives per-image callbacks as jobs progress and finish.
// The pipeline makes no assumption about what the observer does with
// them (terminal rendering, logging, recording).
type Observer interface {
	OnProgress(image models.ImageHandle, progress float64)
	OnSuccess(image models.ImageHandle, resultURL string)
	OnFailure(image models.ImageHandle, reason string)
}

// ProcessFunc drives one image to its terminal outcome. A nil return
// counts as succeeded, any error as failed.
type ProcessFunc func(ctx context.Context, image models.ImageHandle) error

// LaneSnapshot is one lane's current occupancy, for status reporting
type LaneSnapshot struct {
	Lane  int    `json:"lane"`
	Image string `json:"image,omitempty"`
	Busy  bool   `json:"busy"`
}

// Scheduler runs a batch of images through a fixed number of concurrent
// lanes. Each lane repeatedly pops the front of a FIFO queue, drives the
// image to a terminal outcome, and immediately pops the next. One
// image's failure never aborts the batch.
type Scheduler struct {
	cfg       Config
	logger    *logging.Logger
	metrics   *metrics.PipelineMetrics
	presenter *presenter.Presenter

	mu    sync.Mutex
	lanes []LaneSnapshot
}

// New creates a scheduler. The configuration is validated at Run time
// so a misconfigured scheduler fails fast without starting work.
func New(cfg Config, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		logger: logger,
	}
}

// SetMetrics attaches pipeline metrics; optional
func (s *Scheduler) SetMetrics(pm *metrics.PipelineMetrics) {
	s.metrics = pm
}

// SetPresenter attaches a slot presenter mirroring the lanes; optional
func (s *Scheduler) SetPresenter(p *presenter.Presenter) {
	s.presenter = p
}

// Snapshot returns the current occupancy of every lane
func (s *Scheduler) Snapshot() []LaneSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LaneSnapshot, len(s.lanes))
	copy(out, s.lanes)
	return out
}

// Run processes every image through processOne and returns the final
// tally. Outcomes may complete in any order; the only guarantees are
// that every image is started exactly once and that at most
// cfg.Concurrency images are ever mid-flight simultaneously.
//
// Cancelling the context stops new dequeues: images never handed to a
// lane are counted failed without being started. Run then returns the
// partial tally together with the context error.
func (s *Scheduler) Run(ctx context.Context, images []models.ImageHandle, processOne ProcessFunc) (models.Tally, error) {
	if s.cfg.Concurrency < 1 {
		return models.Tally{}, fmt.Errorf("%w: %d", ErrBadConcurrency, s.cfg.Concurrency)
	}
	if s.cfg.MaxBatch > 0 && len(images) > s.cfg.MaxBatch {
		return models.Tally{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(images), s.cfg.MaxBatch)
	}
	if len(images) == 0 {
		return models.Tally{}, nil
	}

	laneCount := s.cfg.Concurrency
	if len(images) < laneCount {
		laneCount = len(images)
	}

	s.mu.Lock()
	s.lanes = make([]LaneSnapshot, laneCount)
	for i := range s.lanes {
		s.lanes[i].Lane = i
	}
	s.mu.Unlock()

	// Closed pre-filled channel: popping the front is atomic, lanes
	// exit when the queue drains, and wg.Wait covers the lane whose
	// last pop is still mid-flight.
	queue := make(chan models.ImageHandle, len(images))
	for _, img := range images {
		queue <- img
	}
	close(queue)

	var queued = int64(len(images))
	var succeeded, failed int64

	s.logger.Info("Batch started", map[string]interface{}{
		"images": len(images),
		"lanes":  laneCount,
	})

	var wg sync.WaitGroup
	for lane := 0; lane < laneCount; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			for img := range queue {
				depth := atomic.AddInt64(&queued, -1)
				if s.metrics != nil {
					s.metrics.SetQueueDepth(int(depth))
				}

				if ctx.Err() != nil {
					// Canceled before start: never handed to processOne
					atomic.AddInt64(&failed, 1)
					if s.metrics != nil {
						s.metrics.RecordOutcome("canceled", 0)
					}
					continue
				}

				s.laneStarted(lane, img)
				err := processOne(ctx, img)
				s.laneFreed(lane)

				if err != nil {
					atomic.AddInt64(&failed, 1)
					s.logger.Warn("Image failed", map[string]interface{}{
						"lane":  lane,
						"image": img.URL,
						"error": err.Error(),
					})
				} else {
					atomic.AddInt64(&succeeded, 1)
				}
			}
		}(lane)
	}

	wg.Wait()

	if s.presenter != nil {
		s.presenter.NotifyDrained()
		s.presenter.RetireAll()
	}

	tally := models.Tally{
		Succeeded: int(atomic.LoadInt64(&succeeded)),
		Failed:    int(atomic.LoadInt64(&failed)),
	}
	s.logger.Info("Batch finished", map[string]interface{}{
		"succeeded": tally.Succeeded,
		"failed":    tally.Failed,
	})

	if err := ctx.Err(); err != nil {
		return tally, err
	}
	return tally, nil
}

func (s *Scheduler) laneStarted(lane int, img models.ImageHandle) {
	if s.metrics != nil {
		s.metrics.LaneStarted()
	}
	if s.presenter != nil {
		if err := s.presenter.Assign(lane, img); err != nil {
			s.logger.Error("Presenter assign failed", map[string]interface{}{"error": err.Error()})
		}
	}
	s.mu.Lock()
	s.lanes[lane].Image = img.URL
	s.lanes[lane].Busy = true
	s.mu.Unlock()
}

func (s *Scheduler) laneFreed(lane int) {
	if s.metrics != nil {
		s.metrics.LaneFreed()
	}
	if s.presenter != nil {
		if err := s.presenter.Release(lane); err != nil {
			s.logger.Error("Presenter release failed", map[string]interface{}{"error": err.Error()})
		}
	}
	s.mu.Lock()
	s.lanes[lane].Image = ""
	s.lanes[lane].Busy = false
	s.mu.Unlock()
}
