// Package worker drives one download job end to end, emitting envelopes into
// the job's channel as it goes.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/udown/udownd/internal/event"
	"github.com/udown/udownd/internal/fetch"
	"github.com/udown/udownd/internal/job"
	"github.com/udown/udownd/internal/metrics"
	"github.com/udown/udownd/internal/progress"
)

// Worker runs fetch jobs. One Worker instance serves the whole process; Run
// is invoked once per job, typically as `go w.Run(...)`.
type Worker struct {
	engine fetch.Engine
	logger *zap.Logger
}

// New constructs a Worker around the given engine.
func New(engine fetch.Engine, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{engine: engine, logger: logger}
}

// Run executes one job to completion. It never panics out and never blocks on
// the observer: every outcome ends with exactly one finished envelope, pushed
// last, after which the channel is closed. The worker neither knows nor cares
// whether a stream is attached.
func (w *Worker) Run(ctx context.Context, jobID string, ch *job.Channel, playlistURL string, opts fetch.Options) {
	logger := w.logger.With(zap.String("job_id", jobID))
	start := time.Now()
	status := "success"

	defer func() {
		if rec := recover(); rec != nil {
			status = "panic"
			logger.Error("worker panic recovered", zap.Any("panic", rec))
			ch.Push(event.JobError(fmt.Errorf("internal error: %v", rec)))
		}
		ch.Push(event.Finished())
		ch.Close()
		metrics.ObserveJob(status)
		logger.Info("job finished",
			zap.String("status", status),
			zap.Duration("elapsed", time.Since(start)))
	}()

	ch.Push(event.Message("Starting download..."))

	adapter := progress.NewAdapter(ch)
	result, err := w.engine.Fetch(ctx, playlistURL, opts, adapter.Handle)
	if err != nil {
		status = "error"
		logger.Warn("fetch failed", zap.Error(err))
		ch.Push(event.JobError(err))
		return
	}

	ch.Push(event.Message(fmt.Sprintf("Successfully downloaded playlist: '%s'", result.Title)))
}
