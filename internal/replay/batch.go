package replay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/reqplay/pkg/capture"
)

// BatchConfig controls one batch replay call.
type BatchConfig struct {
	Concurrency          int           `json:"concurrency,omitempty"`
	DelayBetweenRequests time.Duration `json:"delay_between_requests,omitempty"`
	FailFast             bool          `json:"fail_fast,omitempty"`
	TimeoutPerRequest    time.Duration `json:"timeout_per_request,omitempty"`
}

var batchCounter atomic.Uint64

// BatchReplay fans records out to the executor under bounded concurrency.
//
// The effective parallelism is min(cfg.Concurrency, the coordinator's hard
// maximum), so caller input can never exhaust resources. With FailFast off,
// per-item failures (including malformed modifications) become failed
// entries in the result; with FailFast on, the first orchestration error
// aborts the remaining work and propagates.
func (r *Runner) BatchReplay(ctx context.Context, records []*capture.Record, cfg BatchConfig, mods map[string]*capture.Modifications) (*capture.BatchResult, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("batch requires at least one record")
	}

	limit := cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	if limit > r.batchMax {
		limit = r.batchMax
	}

	id := fmt.Sprintf("batch_%d", batchCounter.Add(1))
	start := time.Now()
	r.log.Info("Batch replay started",
		"batch_id", id,
		"records", len(records),
		"concurrency", limit,
		"fail_fast", cfg.FailFast,
	)

	var mu sync.Mutex
	results := make([]*capture.ReplayResult, 0, len(records))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for _, record := range records {
		record := record
		group.Go(func() error {
			itemCtx := groupCtx
			if cfg.TimeoutPerRequest > 0 {
				var cancel context.CancelFunc
				itemCtx, cancel = context.WithTimeout(groupCtx, cfg.TimeoutPerRequest)
				defer cancel()
			}

			result, err := r.executor.Replay(itemCtx, record, mods[record.ID])
			if err != nil {
				if cfg.FailFast {
					return fmt.Errorf("replay %s: %w", record.ID, err)
				}
				result = &capture.ReplayResult{Original: record, Error: err.Error()}
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			// The inter-request delay holds the concurrency slot, pacing
			// how fast slots recycle.
			if cfg.DelayBetweenRequests > 0 {
				select {
				case <-groupCtx.Done():
				case <-time.After(cfg.DelayBetweenRequests):
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		r.log.Error("Batch replay aborted", "batch_id", id, "error", err)
		return nil, err
	}

	batch := &capture.BatchResult{
		ID:       id,
		Results:  results,
		Total:    len(results),
		Duration: time.Since(start),
	}
	var durTotal int64
	var durCount int
	for _, item := range results {
		if item.Success {
			batch.Succeeded++
		}
		if item.Replay != nil && item.Replay.Duration > 0 {
			durTotal += item.Replay.Duration
			durCount++
		}
	}
	batch.Failed = batch.Total - batch.Succeeded
	if durCount > 0 {
		batch.AvgDurationMs = float64(durTotal) / float64(durCount)
	}

	r.log.Info("Batch replay finished",
		"batch_id", id,
		"total", batch.Total,
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"duration_ms", batch.Duration.Milliseconds(),
	)
	return batch, nil
}
