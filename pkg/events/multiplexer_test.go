package events

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

// streamServer is an SSE endpoint fed through a channel; closing the
// channel ends the stream.
type streamServer struct {
	*httptest.Server
	events      chan string
	connections int32
}

func newStreamServer(t *testing.T) *streamServer {
	t.Helper()
	s := &streamServer{events: make(chan string, 32)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.connections, 1)
		if r.URL.Query().Get("clientId") == "" {
			t.Error("Expected clientId query parameter on stream URL")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("Response writer does not support flushing")
		}
		flusher.Flush()
		for msg := range s.events {
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}))
	return s
}

func (s *streamServer) push(msg string) {
	s.events <- msg
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ERROR, false)
}

func waitFor(t *testing.T, ch <-chan models.Event, what string) models.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
		return models.Event{}
	}
}

func TestDispatchRoutesByRemoteID(t *testing.T) {
	server := newStreamServer(t)
	defer server.Close()
	defer close(server.events)

	m := NewMultiplexer(server.URL, testLogger())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Shutdown()

	progressA := make(chan models.Event, 8)
	terminalA := make(chan models.Event, 8)
	progressB := make(chan models.Event, 8)
	terminalB := make(chan models.Event, 8)

	if err := m.Register("proj-a", func(e models.Event) { progressA <- e }, func(e models.Event) { terminalA <- e }); err != nil {
		t.Fatalf("Register proj-a failed: %v", err)
	}
	if err := m.Register("proj-b", func(e models.Event) { progressB <- e }, func(e models.Event) { terminalB <- e }); err != nil {
		t.Fatalf("Register proj-b failed: %v", err)
	}

	// Percentage progress is normalized at the boundary
	server.push(`{"type":"progress","projectId":"proj-a","progress":55}`)
	ev := waitFor(t, progressA, "progress for proj-a")
	if ev.Progress != 0.55 {
		t.Errorf("Expected normalized progress 0.55, got %v", ev.Progress)
	}

	// Fractional progress passes through unchanged
	server.push(`{"type":"progress","projectId":"proj-b","progress":0.3}`)
	ev = waitFor(t, progressB, "progress for proj-b")
	if ev.Progress != 0.3 {
		t.Errorf("Expected progress 0.3, got %v", ev.Progress)
	}

	// Terminal event routes to onTerminal and auto-deregisters
	server.push(`{"type":"completed","projectId":"proj-a","resultUrl":"https://cdn.example.com/a.png"}`)
	ev = waitFor(t, terminalA, "terminal for proj-a")
	if ev.ResultURL != "https://cdn.example.com/a.png" {
		t.Errorf("Unexpected result url: %s", ev.ResultURL)
	}
	if m.Registered("proj-a") {
		t.Error("Expected proj-a to be deregistered after terminal event")
	}
	if !m.Registered("proj-b") {
		t.Error("Expected proj-b to still be registered")
	}

	select {
	case <-terminalB:
		t.Error("proj-b received a terminal event meant for proj-a")
	default:
	}
}

func TestDuplicateTerminalIsNoOp(t *testing.T) {
	server := newStreamServer(t)
	defer server.Close()
	defer close(server.events)

	m := NewMultiplexer(server.URL, testLogger())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Shutdown()

	terminal := make(chan models.Event, 8)
	if err := m.Register("proj-x", func(models.Event) {}, func(e models.Event) { terminal <- e }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	server.push(`{"type":"failed","projectId":"proj-x","error":"boom"}`)
	server.push(`{"type":"failed","projectId":"proj-x","error":"boom again"}`)
	// A trailing routable event proves the duplicate was processed and dropped
	server.push(`{"type":"progress","projectId":"proj-other","progress":1}`)

	ev := waitFor(t, terminal, "first terminal event")
	if ev.Error != "boom" {
		t.Errorf("Unexpected terminal error: %s", ev.Error)
	}

	select {
	case <-terminal:
		t.Error("Duplicate terminal event was delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnroutableEventsAreDropped(t *testing.T) {
	server := newStreamServer(t)
	defer server.Close()
	defer close(server.events)

	m := NewMultiplexer(server.URL, testLogger())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Shutdown()

	progress := make(chan models.Event, 8)
	if err := m.Register("proj-known", func(e models.Event) { progress <- e }, func(models.Event) {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Unknown id, missing id, and garbage are all dropped silently
	server.push(`{"type":"progress","projectId":"proj-unknown","progress":0.5}`)
	server.push(`{"type":"progress","progress":0.5}`)
	server.push(`not json at all`)
	server.push(`{"type":"progress","projectId":"proj-known","progress":0.9}`)

	ev := waitFor(t, progress, "progress for the known id")
	if ev.Progress != 0.9 {
		t.Errorf("Expected only the routable event, got progress %v", ev.Progress)
	}
}

func TestReconnectKeepsRegistrationsAlive(t *testing.T) {
	events := make(chan string, 8)
	var connections int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&connections, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("Response writer does not support flushing")
		}
		flusher.Flush()
		if n == 1 {
			// First stream ends right away, simulating a drop
			return
		}
		for msg := range events {
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}))
	defer server.Close()
	defer close(events)

	m := NewMultiplexer(server.URL, testLogger())
	m.SetBackoff(BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Shutdown()

	terminal := make(chan models.Event, 1)
	if err := m.Register("proj-r", func(models.Event) {}, func(e models.Event) { terminal <- e }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&connections) < 2 || !m.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the stream to reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The drop must not have failed or deregistered the in-flight job
	if !m.Registered("proj-r") {
		t.Fatal("Expected the registration to survive the stream drop")
	}

	events <- `{"type":"completed","projectId":"proj-r","resultUrl":"https://cdn.example.com/r.png"}`
	ev := waitFor(t, terminal, "terminal event after reconnect")
	if ev.ResultURL != "https://cdn.example.com/r.png" {
		t.Errorf("Unexpected result url: %s", ev.ResultURL)
	}
	if m.Registered("proj-r") {
		t.Error("Expected proj-r to be deregistered after the terminal event")
	}
}

func TestDeregisterWaitsForInFlightCallback(t *testing.T) {
	server := newStreamServer(t)
	defer server.Close()
	defer close(server.events)

	m := NewMultiplexer(server.URL, testLogger())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Shutdown()

	entered := make(chan struct{})
	release := make(chan struct{})
	onEvent := func(models.Event) {
		close(entered)
		<-release
	}
	if err := m.Register("proj-gate", onEvent, func(models.Event) {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	server.push(`{"type":"progress","projectId":"proj-gate","progress":0.5}`)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the progress callback")
	}

	deregDone := make(chan struct{})
	go func() {
		m.Deregister("proj-gate")
		close(deregDone)
	}()

	// Deregister must not return while the callback is still running
	select {
	case <-deregDone:
		t.Fatal("Deregister returned with the progress callback in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-deregDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Deregister did not return after the callback finished")
	}
	if m.Registered("proj-gate") {
		t.Error("Expected proj-gate to be deregistered")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	server := newStreamServer(t)
	defer server.Close()
	defer close(server.events)

	m := NewMultiplexer(server.URL, testLogger())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("First Connect failed: %v", err)
	}
	defer m.Shutdown()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Second Connect failed: %v", err)
	}
	if n := atomic.LoadInt32(&server.connections); n != 1 {
		t.Errorf("Expected a single stream connection, got %d", n)
	}
}

func TestConnectSurfacesEndpointErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	m := NewMultiplexer(server.URL, testLogger())
	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Expected Connect to fail against a non-200 endpoint")
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	m := NewMultiplexer("http://unused", testLogger())

	if err := m.Register("proj-1", func(models.Event) {}, func(models.Event) {}); err != nil {
		t.Fatalf("First Register failed: %v", err)
	}
	if err := m.Register("proj-1", func(models.Event) {}, func(models.Event) {}); err == nil {
		t.Error("Expected duplicate registration to be rejected")
	}

	// Deregister is idempotent
	m.Deregister("proj-1")
	m.Deregister("proj-1")
	if m.Registered("proj-1") {
		t.Error("Expected proj-1 to be gone")
	}
}

func TestShutdownClearsRegistrations(t *testing.T) {
	server := newStreamServer(t)
	defer server.Close()
	defer close(server.events)

	m := NewMultiplexer(server.URL, testLogger())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Register("proj-1", func(models.Event) {}, func(models.Event) {}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.Shutdown()

	if m.Registered("proj-1") {
		t.Error("Expected registrations to be cleared on shutdown")
	}
	if err := m.Register("proj-2", func(models.Event) {}, func(models.Event) {}); err == nil {
		t.Error("Expected Register after Shutdown to fail")
	}
	if err := m.Connect(context.Background()); err == nil {
		t.Error("Expected Connect after Shutdown to fail")
	}
}
