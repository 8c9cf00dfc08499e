package service

import (
	"context"
	"sync"
	"time"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/inference"
)

// ItemResult is the outcome for one batch item. Either the prediction
// fields or Error is set; the index always refers to the caller's input
// order.
type ItemResult struct {
	Index            int                `json:"index"`
	PredictedDomains []string           `json:"predicted_domains,omitempty"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
	Error            string             `json:"error,omitempty"`
	LatencyMS        float64            `json:"latency_ms"`
}

// BatchResult aggregates a batch inference call. Results preserve input
// ordering and carry one entry per input item regardless of per-item
// failures.
type BatchResult struct {
	Results     []ItemResult `json:"results"`
	TotalTimeMS float64      `json:"total_time_ms"`
}

// BatchCoordinator splits a batch into chunks and runs up to `concurrency`
// chunks at once. It holds no state between calls: the async form of batch
// inference wraps it in a batch_inference job, the sync form calls it
// straight from the HTTP handler.
type BatchCoordinator struct {
	classifier  inference.Classifier
	concurrency int
}

func NewBatchCoordinator(classifier inference.Classifier, concurrency int) *BatchCoordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchCoordinator{
		classifier:  classifier,
		concurrency: concurrency,
	}
}

// Run evaluates every item independently. A malformed item produces an
// error entry for its index only; sibling items are unaffected. onChunk, if
// non-nil, is invoked after each chunk finishes with (done, total) counts.
func (c *BatchCoordinator) Run(
	ctx context.Context,
	modelID string,
	items []core.BatchItem,
	threshold float64,
	onChunk func(done, total int),
) *BatchResult {
	start := time.Now()

	results := make([]ItemResult, len(items))
	chunks := c.split(len(items))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	sem := make(chan struct{}, c.concurrency)

	for _, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(lo, hi int) {
			defer wg.Done()
			defer func() { <-sem }()

			for i := lo; i < hi; i++ {
				results[i] = c.runItem(ctx, modelID, i, items[i], threshold)
			}

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if onChunk != nil {
				onChunk(done, len(chunks))
			}
		}(chunk[0], chunk[1])
	}
	wg.Wait()

	return &BatchResult{
		Results:     results,
		TotalTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

func (c *BatchCoordinator) runItem(ctx context.Context, modelID string, index int, item core.BatchItem, threshold float64) ItemResult {
	itemStart := time.Now()
	result := ItemResult{Index: index}

	pred, err := c.classifier.Classify(ctx, modelID, item, threshold)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.PredictedDomains = pred.Domains
		result.ConfidenceScores = pred.Scores
	}
	result.LatencyMS = float64(time.Since(itemStart).Microseconds()) / 1000.0
	return result
}

// split partitions [0,n) into at most `concurrency` contiguous half-open
// ranges.
func (c *BatchCoordinator) split(n int) [][2]int {
	if n == 0 {
		return nil
	}
	chunkSize := (n + c.concurrency - 1) / c.concurrency
	var chunks [][2]int
	for lo := 0; lo < n; lo += chunkSize {
		chunks = append(chunks, [2]int{lo, min(lo+chunkSize, n)})
	}
	return chunks
}
