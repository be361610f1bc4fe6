package cmd

import (
	"testing"
)

func TestCalculateRecommendations(t *testing.T) {
	tests := []struct {
		name            string
		threads         int
		ramBytes        uint64
		wantConcurrency int
	}{
		{"small laptop", 2, 8 * (1 << 30), 2},
		{"quad core", 8, 16 * (1 << 30), 4},
		{"workstation capped at eight", 32, 64 * (1 << 30), 8},
		{"low memory capped at four", 16, 2 * (1 << 30), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := calculateRecommendations(HardwareInfo{
				CPUThreads: tt.threads,
				RAMBytes:   tt.ramBytes,
			})
			if settings.Concurrency != tt.wantConcurrency {
				t.Errorf("Expected concurrency %d, got %d", tt.wantConcurrency, settings.Concurrency)
			}
			if settings.MaxBatch != 32 {
				t.Errorf("Expected max batch 32, got %d", settings.MaxBatch)
			}
		})
	}
}

func TestResolveRunIDPrefix(t *testing.T) {
	// resolveRunID is exercised against the in-memory store
	st := newHistoryFixture(t)

	id, err := resolveRunID(st, "aaaa")
	if err != nil {
		t.Fatalf("resolveRunID failed: %v", err)
	}
	if id != "aaaa1111-0000-0000-0000-000000000000" {
		t.Errorf("Unexpected resolution: %s", id)
	}

	if _, err := resolveRunID(st, "zzzz"); err == nil {
		t.Error("Expected error for an unknown prefix")
	}
	if _, err := resolveRunID(st, "a"); err == nil {
		t.Error("Expected error for an ambiguous prefix")
	}
}
