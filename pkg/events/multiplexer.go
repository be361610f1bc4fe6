package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/metrics"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

var (
	ErrAlreadyRegistered = errors.New("remote id already registered")
	ErrShutdown          = errors.New("multiplexer is shut down")
)

// registration is the callback pair listening for one remote id
type registration struct {
	onEvent    func(models.Event)
	onTerminal func(models.Event)
}

// Multiplexer owns the single server-push connection per API base URL
// and routes tagged events to the job registered for their identifier.
// One shared stream serves every concurrently-registered job; per-job
// connections would exhaust connection limits under high concurrency.
//
// The multiplexer only routes. A dropped stream never fails in-flight
// jobs directly; a job that stops hearing events is bounded by its own
// timeout.
type Multiplexer struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.PipelineMetrics

	mu            sync.Mutex
	registrations map[string]registration
	connected     bool
	started       bool
	shutdown      bool

	cancel  context.CancelFunc
	done    chan struct{}
	backoff BackoffConfig
}

// BackoffConfig controls reconnect pacing after a stream drop
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the reconnect pacing used in production
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
	}
}

// NewMultiplexer creates a multiplexer for one API base URL. The stream
// URL is parameterized by a fresh client identifier so the service can
// tell concurrent pipelines apart.
func NewMultiplexer(baseURL string, logger *logging.Logger) *Multiplexer {
	return &Multiplexer{
		baseURL:  baseURL,
		clientID: uuid.New().String(),
		// No overall timeout: the stream stays open for the life of the batch
		httpClient:    &http.Client{},
		logger:        logger,
		registrations: make(map[string]registration),
		done:          make(chan struct{}),
		backoff:       DefaultBackoff(),
	}
}

// SetMetrics attaches pipeline metrics; optional
func (m *Multiplexer) SetMetrics(pm *metrics.PipelineMetrics) {
	m.metrics = pm
}

// SetBackoff replaces the reconnect pacing; used by tests
func (m *Multiplexer) SetBackoff(b BackoffConfig) {
	m.backoff = b
}

// ClientID returns the identifier the stream URL is parameterized by
func (m *Multiplexer) ClientID() string {
	return m.clientID
}

// Connect opens the shared stream and starts the dispatch loop. Calling
// Connect while already connected is a no-op. The initial connection is
// made synchronously so callers see endpoint errors immediately;
// reconnects after a drop happen in the background with backoff.
func (m *Multiplexer) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)

	body, err := m.open(loopCtx)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.cancel = cancel
	m.connected = true
	m.mu.Unlock()

	go m.readLoop(loopCtx, body)
	return nil
}

// Connected reports whether the shared stream is currently up
func (m *Multiplexer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Register installs the callback pair for a remote id. At most one
// registration may exist per id at a time. Callbacks run on the stream
// goroutine with the multiplexer lock held, so they must be quick and
// must not call back into the multiplexer.
func (m *Multiplexer) Register(remoteID string, onEvent, onTerminal func(models.Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return ErrShutdown
	}
	if _, exists := m.registrations[remoteID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, remoteID)
	}
	m.registrations[remoteID] = registration{onEvent: onEvent, onTerminal: onTerminal}
	return nil
}

// Deregister removes the registration for a remote id. Deregistering an
// unknown id is a no-op; jobs deregister on timeout as well as on
// terminal events. Once Deregister returns, no callback for the id is
// running or will run.
func (m *Multiplexer) Deregister(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registrations, remoteID)
}

// Registered reports whether a registration exists for the id
func (m *Multiplexer) Registered(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registrations[remoteID]
	return ok
}

// Shutdown closes the shared stream and clears all registrations. The
// multiplexer cannot be reused afterwards.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	cancel := m.cancel
	started := m.started
	m.registrations = make(map[string]registration)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-m.done
	}
}

// open issues the stream request and returns its body
func (m *Multiplexer) open(ctx context.Context) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v1/events?clientId=%s", m.baseURL, m.clientID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("event stream request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

// readLoop scans the stream, dispatching each event, and reconnects
// with backoff after a drop until the context is cancelled.
func (m *Multiplexer) readLoop(ctx context.Context, body io.ReadCloser) {
	defer close(m.done)

	backoff := m.backoff.Initial
	for {
		m.scan(body)
		body.Close()

		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		if m.metrics != nil {
			m.metrics.StreamDropped()
		}
		m.logger.Warn("Event stream dropped, reconnecting", map[string]interface{}{
			"endpoint": m.baseURL,
			"backoff":  backoff.String(),
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		next, err := m.open(ctx)
		if err != nil {
			m.logger.Error("Event stream reconnect failed", map[string]interface{}{"error": err.Error()})
			backoff = time.Duration(float64(backoff) * m.backoff.Multiplier)
			if backoff > m.backoff.Max {
				backoff = m.backoff.Max
			}
			// Keep a closed dummy body so the loop falls through to the
			// next backoff without a nil read
			body = io.NopCloser(strings.NewReader(""))
			continue
		}

		body = next
		backoff = m.backoff.Initial
		m.mu.Lock()
		m.connected = true
		m.mu.Unlock()
	}
}

// scan reads one stream until it ends, dispatching each parsed event.
// Messages arrive as SSE "data: {...}" lines or bare newline-delimited
// JSON; both are accepted.
func (m *Multiplexer) scan(body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}

		var ev models.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			m.logger.Debug("Dropping unparseable stream message", map[string]interface{}{"error": err.Error()})
			continue
		}
		m.dispatch(ev)
	}
}

// dispatch routes one event to its registration. Terminal events remove
// the registration before the callback runs, so a duplicate terminal
// delivery for the same id finds nothing and is a no-op. The lock is
// held across the callback so a concurrent Deregister cannot return
// while a callback for that id is still running.
func (m *Multiplexer) dispatch(ev models.Event) {
	remoteID := ev.RemoteID()
	if remoteID == "" {
		m.drop(ev, "event carried no identifier")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[remoteID]
	if !ok {
		m.drop(ev, "no registration for id")
		return
	}

	switch {
	case ev.IsTerminal():
		delete(m.registrations, remoteID)
		reg.onTerminal(ev)
	case ev.IsProgress():
		// Normalize at the boundary: jobs only ever see 0-1
		ev.Progress = models.NormalizeProgress(ev.Progress)
		reg.onEvent(ev)
	default:
		m.drop(ev, "unknown event type")
	}
}

// drop logs an unroutable event. Late events for finished jobs are
// expected, so this is debug-level, never an error.
func (m *Multiplexer) drop(ev models.Event, reason string) {
	if m.metrics != nil {
		m.metrics.EventDropped()
	}
	m.logger.Debug("Dropping event", map[string]interface{}{
		"type":   ev.Type,
		"id":     ev.RemoteID(),
		"reason": reason,
	})
}
