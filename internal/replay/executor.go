// Package replay re-executes captured HTTP exchanges: one at a time, as a
// concurrency-bounded batch, or as a sustained-rate load test.
package replay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/funnyzak/reqplay/internal/exchange"
	"github.com/funnyzak/reqplay/internal/logger"
	"github.com/funnyzak/reqplay/pkg/capture"
)

// Executor re-issues a captured exchange, optionally modified.
type Executor struct {
	exchanger      exchange.Exchanger
	log            logger.Logger
	counter        atomic.Uint64
	defaultTimeout time.Duration
	markerHeader   bool
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// DefaultTimeout bounds each replay when the modifications carry none.
	DefaultTimeout time.Duration
	// MarkerHeader tags replayed requests so upstreams can tell them apart
	// from organic traffic.
	MarkerHeader bool
}

// NewExecutor builds an Executor on top of the given exchanger.
// Replays go through the raw exchanger, never the capturing one, so replay
// traffic does not pollute the capture history.
func NewExecutor(exchanger exchange.Exchanger, log logger.Logger, opts ExecutorOptions) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Executor{
		exchanger:      exchanger,
		log:            log,
		defaultTimeout: opts.DefaultTimeout,
		markerHeader:   opts.MarkerHeader,
	}
}

// Replay re-executes record with mods applied as a patch.
//
// Transport failures are data: the returned result carries success=false and
// the error string on the replay record. A non-nil error return is reserved
// for malformed input.
func (e *Executor) Replay(ctx context.Context, record *capture.Record, mods *capture.Modifications) (*capture.ReplayResult, error) {
	if record == nil {
		return nil, fmt.Errorf("capture record is nil")
	}
	if err := mods.Validate(); err != nil {
		return nil, fmt.Errorf("invalid modifications: %w", err)
	}

	method, url, headers, body := mods.Apply(record)

	replayID := fmt.Sprintf("rpl_%d", e.counter.Add(1))
	if e.markerHeader {
		headers.Set("X-ReqPlay-Replay", "true")
		headers.Set("X-ReqPlay-Replay-ID", replayID)
		headers.Set("X-ReqPlay-Original-ID", record.ID)
	}

	timeout := e.defaultTimeout
	if mods != nil && mods.Timeout > 0 {
		timeout = mods.Timeout
	}

	replayRecord := &capture.Record{
		ID:             replayID,
		URL:            url,
		Method:         method,
		RequestHeaders: headers,
		RequestBody:    body,
		StartTime:      time.Now(),
	}

	resp, err := e.exchanger.Exchange(ctx, &exchange.Request{
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	})

	replayRecord.EndTime = time.Now()
	replayRecord.Duration = replayRecord.EndTime.Sub(replayRecord.StartTime).Milliseconds()

	result := &capture.ReplayResult{
		Original: record,
		Replay:   replayRecord,
	}

	if err != nil {
		replayRecord.Error = err.Error()
		result.Error = err.Error()
		e.log.Warn("Replay failed",
			"replay_id", replayID,
			"original_id", record.ID,
			"url", url,
			"error", err.Error(),
		)
		return result, nil
	}

	replayRecord.StatusCode = resp.StatusCode
	replayRecord.ResponseHeaders = resp.Headers
	replayRecord.ResponseBody = resp.Body
	replayRecord.Size = int64(len(resp.Body))

	result.Success = true
	result.Comparison = capture.Compare(record, replayRecord)

	e.log.Info("Request replayed",
		"replay_id", replayID,
		"original_id", record.ID,
		"url", url,
		"status_code", resp.StatusCode,
		"duration_ms", replayRecord.Duration,
	)
	return result, nil
}
