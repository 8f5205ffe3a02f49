package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
)

// StatusWorker periodically refreshes account links that have not reached
// the enabled onboarding status, so capability flags converge on provider
// truth even when account webhooks are delayed or dropped.
type StatusWorker struct {
	onboarding *service.OnboardingService
	links      service.LinkStore
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int32
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewStatusWorker(onboarding *service.OnboardingService, links service.LinkStore) *StatusWorker {
	return &StatusWorker{
		onboarding: onboarding,
		links:      links,
		interval:   5 * time.Minute,
		staleAfter: 10 * time.Minute,
		batchSize:  50,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the poll interval.
func (w *StatusWorker) WithInterval(interval time.Duration) *StatusWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithStaleAfter updates how old a status check must be before re-polling.
func (w *StatusWorker) WithStaleAfter(d time.Duration) *StatusWorker {
	if d > 0 {
		w.staleAfter = d
	}
	return w
}

// WithBatchSize caps how many links one pass refreshes.
func (w *StatusWorker) WithBatchSize(size int32) *StatusWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and polls at the configured interval.
func (w *StatusWorker) Start(ctx context.Context) {
	zap.L().Info("account status worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("account status worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("account status worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *StatusWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *StatusWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *StatusWorker) runOnce(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	links, err := w.links.ListAccountLinksToRefresh(ctx, cutoff, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("account_status", "failed")
		zap.L().Error("list account links to refresh failed", zap.Error(err))
		return
	}

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return
		}
		if _, err := w.onboarding.RefreshStatus(ctx, link.UserID); err != nil {
			zap.L().Warn("account status refresh failed",
				zap.Error(err),
				zap.String("user_id", link.UserID),
			)
		}
	}
	observability.IncrementWorkerRun("account_status", "success")
}
