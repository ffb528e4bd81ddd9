package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/funnyzak/reqplay/pkg/capture"
)

// LoadTestConfig controls one sustained-rate test of a single capture.
type LoadTestConfig struct {
	RequestsPerSecond int           `json:"requests_per_second"`
	TotalRequests     int           `json:"total_requests"`
	Duration          time.Duration `json:"duration,omitempty"`
	Concurrency       int           `json:"concurrency,omitempty"`
	RampUpTime        time.Duration `json:"ramp_up_time,omitempty"`
}

func (c LoadTestConfig) validate(maxRequests int) error {
	if c.RequestsPerSecond < 1 {
		return fmt.Errorf("requests_per_second must be at least 1")
	}
	if c.TotalRequests < 1 {
		return fmt.Errorf("total_requests must be at least 1")
	}
	if c.TotalRequests > maxRequests {
		return fmt.Errorf("total_requests exceeds limit of %d", maxRequests)
	}
	if c.Duration < 0 || c.RampUpTime < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	return nil
}

var loadTestCounter atomic.Uint64

// LoadTest replays one capture at a target rate until the request count or
// the overall window is exhausted.
//
// The window is hard: when it elapses, only tasks that already completed are
// included; still-running tasks are abandoned (they run to their own
// timeout) and excluded from the result.
func (r *Runner) LoadTest(ctx context.Context, record *capture.Record, cfg LoadTestConfig, mods *capture.Modifications) (*capture.LoadTestResult, error) {
	if record == nil {
		return nil, fmt.Errorf("capture record is nil")
	}
	if err := cfg.validate(r.loadMaxReqs); err != nil {
		return nil, err
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > r.loadMax {
		concurrency = r.loadMax
	}

	perRequestDelay := time.Second / time.Duration(cfg.RequestsPerSecond)
	window := cfg.Duration
	if window <= 0 {
		window = time.Duration(cfg.TotalRequests)*perRequestDelay + r.gracePeriod
	}

	id := fmt.Sprintf("lt_%d", loadTestCounter.Add(1))
	r.log.Info("Load test started",
		"loadtest_id", id,
		"record_id", record.ID,
		"rps", cfg.RequestsPerSecond,
		"total_requests", cfg.TotalRequests,
		"concurrency", concurrency,
		"window_ms", window.Milliseconds(),
	)

	if cfg.RampUpTime > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RampUpTime):
		}
	}

	windowTimer := time.NewTimer(window)
	defer windowTimer.Stop()

	start := time.Now()
	slots := make(chan struct{}, concurrency)

	var mu sync.Mutex
	completed := make([]*capture.ReplayResult, 0, cfg.TotalRequests)

	var wg sync.WaitGroup
	timedOut := false

dispatch:
	for i := 0; i < cfg.TotalRequests; i++ {
		select {
		case <-ctx.Done():
			timedOut = true
			break dispatch
		case <-windowTimer.C:
			timedOut = true
			break dispatch
		case slots <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			// The pacing delay is served inside the slot, so the
			// effective rate is bounded by both rps and concurrency.
			result, err := r.executor.Replay(ctx, record, mods)
			if err != nil {
				result = &capture.ReplayResult{Original: record, Error: err.Error()}
			}

			mu.Lock()
			completed = append(completed, result)
			mu.Unlock()

			select {
			case <-ctx.Done():
			case <-time.After(perRequestDelay):
			}
			<-slots
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if !timedOut {
		select {
		case <-done:
		case <-windowTimer.C:
			timedOut = true
		case <-ctx.Done():
			timedOut = true
		}
	}

	wall := time.Since(start)

	mu.Lock()
	results := make([]*capture.ReplayResult, len(completed))
	copy(results, completed)
	mu.Unlock()

	result := &capture.LoadTestResult{
		ID:       id,
		Results:  results,
		Total:    len(results),
		Duration: wall,
		TimedOut: timedOut,
	}
	for _, item := range results {
		if item.Success {
			result.Succeeded++
		}
	}
	result.Failed = result.Total - result.Succeeded
	result.Statistics = computeStatistics(results, result.Succeeded, wall)

	r.log.Info("Load test finished",
		"loadtest_id", id,
		"completed", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"timed_out", timedOut,
		"achieved_rps", result.Statistics.AchievedRPS,
	)
	return result, nil
}

// computeStatistics derives latency and rate statistics from completed
// results. Percentiles are nearest-rank: sort ascending, index at
// floor(n*q), clamped to the last element for small samples.
func computeStatistics(results []*capture.ReplayResult, succeeded int, wall time.Duration) capture.LoadTestStatistics {
	stats := capture.LoadTestStatistics{}
	if len(results) == 0 {
		return stats
	}

	latencies := make([]float64, 0, len(results))
	for _, item := range results {
		if item.Replay != nil {
			latencies = append(latencies, float64(item.Replay.Duration))
		}
	}

	seconds := wall.Seconds()
	if seconds > 0 {
		stats.AchievedRPS = float64(len(results)) / seconds
		stats.Throughput = float64(succeeded) / seconds
	}
	stats.ErrorRate = float64(len(results)-succeeded) / float64(len(results))

	if len(latencies) == 0 {
		return stats
	}
	sort.Float64s(latencies)

	var total float64
	for _, l := range latencies {
		total += l
	}
	stats.MinLatencyMs = latencies[0]
	stats.MaxLatencyMs = latencies[len(latencies)-1]
	stats.AvgLatencyMs = total / float64(len(latencies))
	stats.P50LatencyMs = latencies[percentileIndex(len(latencies), 0.50)]
	stats.P95LatencyMs = latencies[percentileIndex(len(latencies), 0.95)]
	stats.P99LatencyMs = latencies[percentileIndex(len(latencies), 0.99)]
	return stats
}

func percentileIndex(size int, q float64) int {
	idx := int(float64(size) * q)
	if idx >= size {
		idx = size - 1
	}
	return idx
}
