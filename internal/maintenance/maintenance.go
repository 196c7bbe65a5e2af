// Package maintenance runs the periodic retention sweeps named in
// spec.md §4.8, grounded on the teacher's health/poller.go shape: an
// immediate run on start, a primary ticker, and per-sweep delete-count
// logging.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"jobrunner/internal/queue"
	"jobrunner/internal/repo"
	"jobrunner/internal/state"
)

// Controller runs the run-retention, state-expiry, and queue-retention
// sweeps every intervalMs, immediately on Start.
type Controller struct {
	runs         *repo.Runs
	state        *state.Engine
	queue        *queue.Engine
	log          *zap.Logger
	interval     time.Duration
	runRetention int

	stop chan struct{}
}

func New(runs *repo.Runs, st *state.Engine, q *queue.Engine, log *zap.Logger, intervalMs int64, runRetentionDays int) *Controller {
	return &Controller{
		runs:         runs,
		state:        st,
		queue:        q,
		log:          log,
		interval:     time.Duration(intervalMs) * time.Millisecond,
		runRetention: runRetentionDays,
	}
}

// Start runs all three sweeps immediately, then every interval until Stop.
func (c *Controller) Start(ctx context.Context) {
	c.stop = make(chan struct{})
	c.RunNow(ctx)
	go c.loop(ctx)
}

func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.RunNow(ctx)
		}
	}
}

// Stop halts the periodic loop. Already-running sweeps are not cancelled.
func (c *Controller) Stop() {
	if c.stop != nil {
		close(c.stop)
	}
}

// RunNow executes all three sweeps synchronously, logging the delete
// count of each when > 0 (spec.md §4.8).
func (c *Controller) RunNow(ctx context.Context) {
	if n, err := c.runs.RetentionSweep(ctx, c.runRetention); err != nil {
		c.log.Error("maintenance: run retention sweep", zap.Error(err))
	} else if n > 0 {
		c.log.Info("maintenance: pruned old runs", zap.Int64("count", n))
	}

	if n, err := c.state.ExpireSweep(ctx); err != nil {
		c.log.Error("maintenance: state expiry sweep", zap.Error(err))
	} else if n > 0 {
		c.log.Info("maintenance: pruned expired state rows", zap.Int64("count", n))
	}

	if n, err := c.queue.RetentionSweep(ctx); err != nil {
		c.log.Error("maintenance: queue retention sweep", zap.Error(err))
	} else if n > 0 {
		c.log.Info("maintenance: pruned completed queue items", zap.Int64("count", n))
	}
}
