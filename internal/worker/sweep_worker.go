package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
)

// SweepWorker runs the periodic stuck-transaction and idempotency-GC sweep.
type SweepWorker struct {
	svc      *service.SweepService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweepWorker constructs a worker with a default hourly interval.
func NewSweepWorker(svc *service.SweepService) *SweepWorker {
	return &SweepWorker{
		svc:      svc,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *SweepWorker) WithInterval(interval time.Duration) *SweepWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the sweep at the configured interval.
func (w *SweepWorker) Start(ctx context.Context) {
	zap.L().Info("sweep worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	if err := w.svc.Run(ctx); err != nil {
		observability.IncrementWorkerRun("sweep", "failed")
		zap.L().Error("sweep run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("sweep", "success")
}
