package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/presenter"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ERROR, false)
}

func handles(urls ...string) []models.ImageHandle {
	out := make([]models.ImageHandle, len(urls))
	for i, u := range urls {
		out[i] = models.ImageHandle{URL: u}
	}
	return out
}

func TestRunInvokesEachImageExactlyOnce(t *testing.T) {
	images := handles("a", "b", "c", "d", "e", "f", "g")
	concurrency := 3

	var mu sync.Mutex
	invocations := make(map[string]int)

	var inFlight, maxInFlight int64

	s := New(Config{Concurrency: concurrency, MaxBatch: 32, JobTimeout: time.Minute}, testLogger())
	tally, err := s.Run(context.Background(), images, func(ctx context.Context, img models.ImageHandle) error {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			max := atomic.LoadInt64(&maxInFlight)
			if cur <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		invocations[img.URL]++
		mu.Unlock()

		atomic.AddInt64(&inFlight, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if tally.Succeeded != len(images) || tally.Failed != 0 {
		t.Errorf("Expected tally {%d, 0}, got %+v", len(images), tally)
	}
	for _, img := range images {
		if invocations[img.URL] != 1 {
			t.Errorf("Image %s invoked %d times, want exactly 1", img.URL, invocations[img.URL])
		}
	}
	if max := atomic.LoadInt64(&maxInFlight); max > int64(concurrency) {
		t.Errorf("Observed %d concurrent invocations, cap is %d", max, concurrency)
	}
}

func TestRunEmptyInput(t *testing.T) {
	s := New(DefaultConfig(), testLogger())

	invoked := false
	tally, err := s.Run(context.Background(), nil, func(ctx context.Context, img models.ImageHandle) error {
		invoked = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tally.Succeeded != 0 || tally.Failed != 0 {
		t.Errorf("Expected {0,0}, got %+v", tally)
	}
	if invoked {
		t.Error("processOne must not be invoked for an empty batch")
	}
}

func TestRunRejectsBadConcurrency(t *testing.T) {
	s := New(Config{Concurrency: 0, MaxBatch: 32}, testLogger())
	_, err := s.Run(context.Background(), handles("a"), func(ctx context.Context, img models.ImageHandle) error {
		t.Error("processOne must not run for a misconfigured scheduler")
		return nil
	})
	if !errors.Is(err, ErrBadConcurrency) {
		t.Errorf("Expected ErrBadConcurrency, got %v", err)
	}
}

func TestRunRejectsOversizedBatch(t *testing.T) {
	s := New(Config{Concurrency: 2, MaxBatch: 2}, testLogger())
	_, err := s.Run(context.Background(), handles("a", "b", "c"), func(ctx context.Context, img models.ImageHandle) error {
		t.Error("processOne must not run for an oversized batch")
		return nil
	})
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("Expected ErrBatchTooLarge, got %v", err)
	}
}

// Three images on two lanes: when the first finishes, the freed lane
// must immediately start the third while the second is still mid-flight.
func TestFreedLaneImmediatelyStartsNextImage(t *testing.T) {
	started := make(chan string, 3)
	release := map[string]chan struct{}{
		"a": make(chan struct{}),
		"b": make(chan struct{}),
		"c": make(chan struct{}),
	}

	s := New(Config{Concurrency: 2, MaxBatch: 32, JobTimeout: time.Minute}, testLogger())

	done := make(chan models.Tally, 1)
	go func() {
		tally, err := s.Run(context.Background(), handles("a", "b", "c"), func(ctx context.Context, img models.ImageHandle) error {
			started <- img.URL
			<-release[img.URL]
			return nil
		})
		if err != nil {
			t.Errorf("Run failed: %v", err)
		}
		done <- tally
	}()

	expectStart := func(want map[string]bool) string {
		t.Helper()
		select {
		case url := <-started:
			if !want[url] {
				t.Fatalf("Unexpected image started: %s", url)
			}
			return url
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for an image to start")
			return ""
		}
	}

	first := expectStart(map[string]bool{"a": true, "b": true})
	second := expectStart(map[string]bool{"a": true, "b": true})
	_ = second

	// Finish the first dequeued image; its lane must pick up "c"
	close(release[first])
	third := expectStart(map[string]bool{"c": true})
	if third != "c" {
		t.Fatalf("Expected freed lane to start c, got %s", third)
	}

	for url, ch := range release {
		if url != first {
			close(ch)
		}
	}

	select {
	case tally := <-done:
		if tally.Succeeded != 3 || tally.Failed != 0 {
			t.Errorf("Expected {3,0}, got %+v", tally)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the batch to finish")
	}
}

// A failing image never stalls its lane or aborts the batch
func TestFailureDoesNotStallLane(t *testing.T) {
	s := New(Config{Concurrency: 1, MaxBatch: 32, JobTimeout: time.Minute}, testLogger())

	var order []string
	tally, err := s.Run(context.Background(), handles("x", "y", "z"), func(ctx context.Context, img models.ImageHandle) error {
		order = append(order, img.URL)
		if img.URL == "x" {
			return errors.New("start request failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tally.Succeeded != 2 || tally.Failed != 1 {
		t.Errorf("Expected {2,1}, got %+v", tally)
	}
	if len(order) != 3 {
		t.Errorf("Expected all 3 images processed, got %v", order)
	}
}

func TestCancellationStopsNewDequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	firstStarted := make(chan struct{})
	var invocations int64

	s := New(Config{Concurrency: 1, MaxBatch: 32, JobTimeout: time.Minute}, testLogger())

	done := make(chan models.Tally, 1)
	go func() {
		tally, err := s.Run(ctx, handles("a", "b", "c"), func(c context.Context, img models.ImageHandle) error {
			atomic.AddInt64(&invocations, 1)
			close(firstStarted)
			<-c.Done()
			return c.Err()
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled from Run, got %v", err)
		}
		done <- tally
	}()

	select {
	case <-firstStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the first image to start")
	}
	cancel()

	select {
	case tally := <-done:
		if got := atomic.LoadInt64(&invocations); got != 1 {
			t.Errorf("Expected a single invocation before cancel, got %d", got)
		}
		if tally.Failed != 3 || tally.Succeeded != 0 {
			t.Errorf("Expected all 3 counted failed after cancel, got %+v", tally)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Run to return after cancel")
	}
}

type countingIndicator struct{}

func (countingIndicator) ShowAt(models.ImageHandle) {}
func (countingIndicator) Hide()                     {}

func TestPresenterFollowsLanes(t *testing.T) {
	var created int64
	p, err := presenter.New(2, func(slot int) presenter.Indicator {
		atomic.AddInt64(&created, 1)
		return countingIndicator{}
	})
	if err != nil {
		t.Fatalf("presenter.New failed: %v", err)
	}

	s := New(Config{Concurrency: 2, MaxBatch: 32, JobTimeout: time.Minute}, testLogger())
	s.SetPresenter(p)

	_, err = s.Run(context.Background(), handles("a", "b", "c", "d"), func(ctx context.Context, img models.ImageHandle) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if n := atomic.LoadInt64(&created); n > 2 {
		t.Errorf("Created %d indicators for 2 lanes", n)
	}
	// After the batch drains every slot is released and retired
	for i := 0; i < 2; i++ {
		if _, busy := p.Target(i); busy {
			t.Errorf("Slot %d still has a target after the batch drained", i)
		}
	}
}
