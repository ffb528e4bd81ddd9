package replay

import (
	"time"

	"github.com/funnyzak/reqplay/internal/logger"
)

// Runner coordinates batch and load test execution on top of one Executor.
type Runner struct {
	executor *Executor
	log      logger.Logger

	batchMax    int
	loadMax     int
	loadMaxReqs int
	gracePeriod time.Duration
}

// RunnerOptions bounds coordinator resource use regardless of caller input.
type RunnerOptions struct {
	BatchMaxConcurrency    int
	LoadTestMaxConcurrency int
	LoadTestMaxRequests    int
	// GracePeriod pads the computed load test ceiling when no explicit
	// duration is configured, guaranteeing termination.
	GracePeriod time.Duration
}

// NewRunner creates a Runner with hard concurrency ceilings.
func NewRunner(executor *Executor, log logger.Logger, opts RunnerOptions) *Runner {
	if opts.BatchMaxConcurrency < 1 {
		opts.BatchMaxConcurrency = 50
	}
	if opts.LoadTestMaxConcurrency < 1 {
		opts.LoadTestMaxConcurrency = 50
	}
	if opts.LoadTestMaxRequests < 1 {
		opts.LoadTestMaxRequests = 10000
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * time.Second
	}
	return &Runner{
		executor:    executor,
		log:         log,
		batchMax:    opts.BatchMaxConcurrency,
		loadMax:     opts.LoadTestMaxConcurrency,
		loadMaxReqs: opts.LoadTestMaxRequests,
		gracePeriod: opts.GracePeriod,
	}
}

// Executor exposes the underlying single-replay executor.
func (r *Runner) Executor() *Executor {
	return r.executor
}
