package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloo-solutions/mnemo/internal/telemetry"
)

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// ProcessorFunc adapts a plain function to JobProcessor.
type ProcessorFunc func(ctx context.Context) error

func (f ProcessorFunc) ProcessJobs(ctx context.Context) error {
	return f(ctx)
}

// ScheduledWorker runs one processor at the instants a Schedule yields.
// A run that is still going when the next tick is due delays that tick;
// runs never overlap.
type ScheduledWorker struct {
	name      string
	processor JobProcessor
	schedule  Schedule
	logger    *slog.Logger
	now       func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewScheduledWorker(name string, processor JobProcessor, schedule Schedule, logger *slog.Logger) *ScheduledWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduledWorker{
		name:      name,
		processor: processor,
		schedule:  schedule,
		logger:    logger.With("worker", name),
		now:       time.Now,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled, Stop is called or the schedule
// cannot produce a next tick.
func (w *ScheduledWorker) Start(ctx context.Context) error {
	defer close(w.doneChan)
	w.logger.Info("worker started", "schedule", fmt.Sprint(w.schedule))

	for {
		next, err := w.schedule.Next(w.now())
		if err != nil {
			w.logger.Error("worker stopped: no next tick", "error", err)
			return err
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("worker stopped: context cancelled")
			return nil
		case <-w.stopChan:
			timer.Stop()
			w.logger.Info("worker stopped: stop signal received")
			return nil
		case <-timer.C:
			_ = w.RunOnce(ctx)
		}
	}
}

// RunOnce runs the processor immediately and logs the outcome.
func (w *ScheduledWorker) RunOnce(ctx context.Context) error {
	started := w.now()
	if err := w.processor.ProcessJobs(ctx); err != nil {
		w.logger.Error("job failed", "error", err, "elapsed", w.now().Sub(started))
		telemetry.CaptureError(ctx, fmt.Errorf("%s: %w", w.name, err))
		return err
	}
	w.logger.Debug("job finished", "elapsed", w.now().Sub(started))
	return nil
}

// Stop signals the loop to exit and waits for the current run to finish.
func (w *ScheduledWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	w.logger.Info("worker shutdown complete")
}
