package store

import (
	"sort"
	"sync"
	"time"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store, used in
// tests and for runs that do not need history to survive the process.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*models.Run
	runJobs map[string][]*models.Job
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*models.Run),
		runJobs: make(map[string][]*models.Job),
	}
}

// CreateRun adds a new run to the store
func (s *MemoryStore) CreateRun(run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

// FinishRun stamps a run with its final tally and finish time
func (s *MemoryStore) FinishRun(id string, tally models.Tally, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Tally = tally
	run.FinishedAt = &finishedAt
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryStore) GetRun(id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns runs newest first, up to limit (0 means all)
func (s *MemoryStore) ListRuns(limit int) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// RecordJob stores one finished job under its run
func (s *MemoryStore) RecordJob(runID string, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return ErrRunNotFound
	}
	cp := *job
	s.runJobs[runID] = append(s.runJobs[runID], &cp)
	return nil
}

// GetRunJobs returns the recorded jobs of a run
func (s *MemoryStore) GetRunJobs(runID string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	jobs := s.runJobs[runID]
	out := make([]*models.Job, len(jobs))
	for i, job := range jobs {
		cp := *job
		out[i] = &cp
	}
	return out, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
