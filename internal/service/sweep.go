package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
)

// SweepLedger is the read surface the sweep needs beyond Ledger.
type SweepLedger interface {
	CountTransactionsInState(ctx context.Context, state string) (int64, error)
	ListTransactionsInStateBefore(ctx context.Context, state string, cutoff time.Time, limit int32) ([]models.Transaction, error)
}

// IdempotencyGC garbage-collects expired idempotency records.
type IdempotencyGC interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SweepService surfaces operational anomalies: transfer_failed rows (funds
// charged but never moved) and transactions stuck in a pending state past
// the window the webhook path should have settled them in. It only counts
// and logs; retries and reversals are an operator decision, never automatic.
type SweepService struct {
	ledger       SweepLedger
	idem         IdempotencyGC
	pendingAfter time.Duration
	batchSize    int32
}

func NewSweepService(ledger SweepLedger, idem IdempotencyGC, pendingAfter time.Duration, batchSize int32) *SweepService {
	if pendingAfter <= 0 {
		pendingAfter = 30 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SweepService{
		ledger:       ledger,
		idem:         idem,
		pendingAfter: pendingAfter,
		batchSize:    batchSize,
	}
}

// Run executes one sweep pass.
func (s *SweepService) Run(ctx context.Context) error {
	failed, err := s.ledger.CountTransactionsInState(ctx, domain.TxStateTransferFailed)
	if err != nil {
		return fmt.Errorf("count transfer_failed: %w", err)
	}
	observability.SetStuckTransactions(domain.TxStateTransferFailed, failed)
	if failed > 0 {
		zap.L().Error("transfer_failed transactions awaiting operator action", zap.Int64("count", failed))
	}

	cutoff := time.Now().Add(-s.pendingAfter)
	// initiated included: a crash between inserting the row and the first
	// transition leaves it there with no webhook to move it along.
	for _, state := range []string{domain.TxStateInitiated, domain.TxStateChargePending, domain.TxStateChargeSucceeded, domain.TxStateTransferPending} {
		stuck, err := s.ledger.ListTransactionsInStateBefore(ctx, state, cutoff, s.batchSize)
		if err != nil {
			return fmt.Errorf("list stuck %s: %w", state, err)
		}
		observability.SetStuckTransactions(state, int64(len(stuck)))
		for _, tx := range stuck {
			zap.L().Warn("transaction stuck in non-terminal state",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("state", state),
				zap.Time("updated_at", tx.UpdatedAt),
			)
		}
	}

	if s.idem != nil {
		purged, err := s.idem.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("purge idempotency keys: %w", err)
		}
		if purged > 0 {
			zap.L().Info("purged expired idempotency keys", zap.Int64("count", purged))
		}
	}
	return nil
}
