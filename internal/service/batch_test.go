package service

import (
	"context"
	"sync"
	"testing"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/inference"
)

func TestBatchRunIsolatesItemFailures(t *testing.T) {
	coordinator := NewBatchCoordinator(inference.NewKeywordClassifier(), 2)

	items := []core.BatchItem{
		{Title: "Coronary artery disease", Abstract: "cardiac risk factors"},
		{}, // malformed: no title, no abstract
		{Title: "Lung function in asthma", Abstract: "respiratory outcomes"},
	}

	result := coordinator.Run(context.Background(), "pubmed-bert", items, 0.5, nil)

	if len(result.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(result.Results))
	}

	for i, item := range result.Results {
		if item.Index != i {
			t.Errorf("Result %d carries index %d", i, item.Index)
		}
	}

	if result.Results[0].Error != "" {
		t.Errorf("Expected item 0 to succeed, got error %q", result.Results[0].Error)
	}
	if result.Results[1].Error == "" {
		t.Error("Expected item 1 to carry an error")
	}
	if len(result.Results[1].PredictedDomains) != 0 {
		t.Errorf("Expected no prediction for the failed item, got %v", result.Results[1].PredictedDomains)
	}
	if result.Results[2].Error != "" {
		t.Errorf("Expected item 2 to succeed, got error %q", result.Results[2].Error)
	}
}

func TestBatchRunReportsChunkProgress(t *testing.T) {
	coordinator := NewBatchCoordinator(inference.NewKeywordClassifier(), 3)

	items := make([]core.BatchItem, 9)
	for i := range items {
		items[i] = core.BatchItem{Title: "diabetes and insulin therapy"}
	}

	var (
		mu    sync.Mutex
		calls []int
		total int
	)
	coordinator.Run(context.Background(), "pubmed-bert", items, 0.5, func(done, t int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, done)
		total = t
	})

	if total != 3 {
		t.Fatalf("Expected 3 chunks for 9 items at concurrency 3, got %d", total)
	}
	if len(calls) != 3 {
		t.Fatalf("Expected one callback per chunk, got %d", len(calls))
	}

	seen := make(map[int]bool)
	for _, done := range calls {
		seen[done] = true
	}
	for want := 1; want <= 3; want++ {
		if !seen[want] {
			t.Errorf("Expected a callback with done=%d, got %v", want, calls)
		}
	}
}

func TestBatchRunEmptyInput(t *testing.T) {
	coordinator := NewBatchCoordinator(inference.NewKeywordClassifier(), 4)

	result := coordinator.Run(context.Background(), "pubmed-bert", nil, 0.5, nil)
	if len(result.Results) != 0 {
		t.Errorf("Expected no results, got %d", len(result.Results))
	}
}

func TestBatchRunRecordsLatency(t *testing.T) {
	coordinator := NewBatchCoordinator(inference.NewKeywordClassifier(), 1)

	items := []core.BatchItem{{Title: "brain imaging with mri"}}
	result := coordinator.Run(context.Background(), "pubmed-bert", items, 0.5, nil)

	if result.Results[0].LatencyMS < 0 {
		t.Errorf("Expected non-negative latency, got %f", result.Results[0].LatencyMS)
	}
	if result.TotalTimeMS < result.Results[0].LatencyMS {
		t.Errorf("Total time %.3f below item latency %.3f", result.TotalTimeMS, result.Results[0].LatencyMS)
	}
}
