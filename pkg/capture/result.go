package capture

import "time"

// ReplayResult pairs one capture with its re-execution.
type ReplayResult struct {
	Original   *Record     `json:"original"`
	Replay     *Record     `json:"replay"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	Comparison *Comparison `json:"comparison,omitempty"`
}

// BatchResult aggregates a bounded-concurrency batch of replays.
// Results appear in completion order, not submission order.
type BatchResult struct {
	ID            string          `json:"id"`
	Results       []*ReplayResult `json:"results"`
	Total         int             `json:"total_requests"`
	Succeeded     int             `json:"successful_requests"`
	Failed        int             `json:"failed_requests"`
	Duration      time.Duration   `json:"duration"`
	AvgDurationMs float64         `json:"avg_duration_ms"`
}

// LoadTestStatistics summarizes completed-request latencies.
// Percentiles use nearest-rank indexing into the sorted sample.
type LoadTestStatistics struct {
	AchievedRPS  float64 `json:"achieved_rps"`
	MinLatencyMs float64 `json:"min_latency_ms"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
	Throughput   float64 `json:"throughput_rps"`
}

// LoadTestResult aggregates a sustained-rate stream of replays of one capture.
// Only tasks that completed inside the overall window are included.
type LoadTestResult struct {
	ID         string             `json:"id"`
	Results    []*ReplayResult    `json:"results"`
	Total      int                `json:"total_requests"`
	Succeeded  int                `json:"successful_requests"`
	Failed     int                `json:"failed_requests"`
	Duration   time.Duration      `json:"duration"`
	TimedOut   bool               `json:"timed_out"`
	Statistics LoadTestStatistics `json:"statistics"`
}
