package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
)

type countingLedger struct {
	counts atomic.Int64
}

func (c *countingLedger) CountTransactionsInState(ctx context.Context, state string) (int64, error) {
	c.counts.Add(1)
	return 0, nil
}

func (c *countingLedger) ListTransactionsInStateBefore(ctx context.Context, state string, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	return nil, nil
}

func TestSweepWorkerRunsAndStops(t *testing.T) {
	ledger := &countingLedger{}
	svc := service.NewSweepService(ledger, nil, time.Minute, 10)
	w := NewSweepWorker(svc).WithInterval(10 * time.Millisecond)

	stop := w.Run(context.Background())

	require.Eventually(t, func() bool {
		return ledger.counts.Load() > 0
	}, time.Second, 5*time.Millisecond, "worker should run at least one pass")

	stop()
	// Stop is idempotent.
	stop()
	w.Stop()
}

func TestSweepWorkerHonorsContext(t *testing.T) {
	ledger := &countingLedger{}
	svc := service.NewSweepService(ledger, nil, time.Minute, 10)
	w := NewSweepWorker(svc).WithInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on context cancellation")
	}
}
