package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
)

// transactionTransitions enumerates every legal state edge. The synchronous
// path and the webhook path both funnel through applyTransition, so whichever
// writer arrives first wins and the other lands on a stale no-op.
var transactionTransitions = map[string]map[string]struct{}{
	domain.TxStateInitiated: {
		domain.TxStateChargePending: {},
	},
	domain.TxStateChargePending: {
		// Re-entrant edge: records the provider charge id while the charge
		// outcome is still unknown.
		domain.TxStateChargePending:   {},
		domain.TxStateChargeSucceeded: {},
		domain.TxStateChargeFailed:    {},
	},
	domain.TxStateChargeSucceeded: {
		domain.TxStateTransferPending: {},
	},
	domain.TxStateTransferPending: {
		domain.TxStateCompleted:      {},
		domain.TxStateTransferFailed: {},
	},
	domain.TxStateCompleted:      {},
	domain.TxStateChargeFailed:   {},
	domain.TxStateTransferFailed: {},
}

func canTransition(current, next string) bool {
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// applyTransition drives one guarded state change and records the outcome.
// A stale CAS is returned as models.ErrStaleTransition so callers can treat
// it as an idempotent no-op; every other error is a real failure.
func applyTransition(ctx context.Context, ledger Ledger, id uuid.UUID, fromState, toState string, fields models.TransitionFields) error {
	if !canTransition(fromState, toState) {
		return fmt.Errorf("illegal transaction state transition: %s -> %s", fromState, toState)
	}

	err := ledger.TransitionTransaction(ctx, id, fromState, toState, fields)
	switch {
	case err == nil:
		observability.IncrementLedgerTransition(toState, "applied")
		return nil
	case errors.Is(err, models.ErrStaleTransition):
		observability.IncrementLedgerTransition(toState, "stale")
		zap.L().Debug("stale transition",
			zap.String("transaction_id", id.String()),
			zap.String("from", fromState),
			zap.String("to", toState),
		)
		return models.ErrStaleTransition
	default:
		return fmt.Errorf("transition %s -> %s: %w", fromState, toState, err)
	}
}
