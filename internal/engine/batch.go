package engine

import (
	"context"
	"sync"
	"time"

	"github.com/clinacta/phi-deidentifier/internal/policy"
	"github.com/clinacta/phi-deidentifier/internal/tokens"
)

// BatchEntry is one document's outcome within a ProcessBatch call. A failed
// document carries its original text, an empty token map, and Err rather
// than aborting the batch (spec.md §5).
type BatchEntry struct {
	Result Result
	Err    error
}

// BatchStats summarizes a ProcessBatch run.
type BatchStats struct {
	Succeeded     int
	Failed        int
	ExecutionTime time.Duration
}

// BatchResult is processBatch's return shape (spec.md §6).
type BatchResult struct {
	Results []BatchEntry
	Stats   BatchStats
}

// ProcessBatch redacts every text independently, each under its own fresh
// session, bounding the number of in-flight detections to batchSize
// (spec.md §5's back-pressure contract; 0 uses defaultBatchSize). Unlike the
// teacher's dispatchOllamaAsync, which drops work when its semaphore is
// full, admission here blocks: the batch contract must still return exactly
// one entry per input text, so work queues for a slot rather than being
// skipped.
func (e *Engine) ProcessBatch(ctx context.Context, texts []string, pol *policy.Policy, batchSize int) BatchResult {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	started := time.Now()

	sem := make(chan struct{}, batchSize)
	results := make([]BatchEntry, len(texts))
	var wg sync.WaitGroup
	wg.Add(len(texts))
	for i, text := range texts {
		sem <- struct{}{}
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()
			sessionID := tokens.NewSessionID()
			res, err := e.Redact(ctx, sessionID, text, pol)
			results[i] = BatchEntry{Result: res, Err: err}
		}(i, text)
	}
	wg.Wait()

	stats := BatchStats{ExecutionTime: time.Since(started)}
	for _, r := range results {
		if r.Err != nil {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
	}
	return BatchResult{Results: results, Stats: stats}
}
