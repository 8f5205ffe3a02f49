package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/gateway"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
)

var (
	ErrSameParty          = errors.New("sender and recipient must differ")
	ErrMissingKey         = errors.New("idempotency key is required")
	ErrMissingPaymentData = errors.New("payment_method_id is required")
)

// OrchestrationEngine drives a transfer request from intake through charge,
// through transfer, to a terminal state. The ledger's compare-and-swap is the
// only synchronization: the engine and the webhook reconciler may race on
// every transition and exactly one writer wins each edge.
type OrchestrationEngine struct {
	ledger      Ledger
	links       LinkStore
	gateway     gateway.Gateway
	callTimeout time.Duration
}

func NewOrchestrationEngine(ledger Ledger, links LinkStore, gw gateway.Gateway, callTimeout time.Duration) *OrchestrationEngine {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &OrchestrationEngine{
		ledger:      ledger,
		links:       links,
		gateway:     gw,
		callTimeout: callTimeout,
	}
}

// InitiateTransferRequest is the intake. Sender identity comes from the
// verified auth token, never from the request body.
type InitiateTransferRequest struct {
	SenderUserID    string
	RecipientUserID string
	Amount          int64
	Currency        string
	PaymentMethodID string
	IdempotencyKey  string
}

func (r InitiateTransferRequest) Validate() error {
	if err := domain.NewMoney(r.Amount, r.Currency).Validate(); err != nil {
		return err
	}
	if r.SenderUserID == "" || r.RecipientUserID == "" {
		return errors.New("sender and recipient are required")
	}
	if r.SenderUserID == r.RecipientUserID {
		return ErrSameParty
	}
	if strings.TrimSpace(r.PaymentMethodID) == "" {
		return ErrMissingPaymentData
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return ErrMissingKey
	}
	return nil
}

// InitiateTransfer runs intake through the synchronous part of the chain and
// returns the transaction in whatever state it reached. On a gateway timeout
// the transaction is returned still pending; forward progress is then owed to
// the webhook path.
func (e *OrchestrationEngine) InitiateTransfer(ctx context.Context, req InitiateTransferRequest) (*models.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// The transaction id doubles as the natural idempotency anchor: a retry
	// of the same key returns the same row without re-running side effects.
	// A reused key with a different payload is a conflict, not a replay.
	if existing, err := e.ledger.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		if existing.SenderUserID != req.SenderUserID ||
			existing.RecipientUserID != req.RecipientUserID ||
			existing.Amount != req.Amount ||
			existing.Currency != domain.NormalizeCurrency(req.Currency) {
			return nil, models.ErrIdempotencyConflict
		}
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	// Advisory fast-path onboarding check; the provider stays the final
	// authority. Fails before any ledger row exists.
	sender, recipient, err := e.checkOnboarding(ctx, req.SenderUserID, req.RecipientUserID)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:              uuid.New(),
		IdempotencyKey:  req.IdempotencyKey,
		SenderUserID:    req.SenderUserID,
		RecipientUserID: req.RecipientUserID,
		Amount:          req.Amount,
		Currency:        domain.NormalizeCurrency(req.Currency),
		State:           domain.TxStateInitiated,
	}
	tx.TransferGroup = "p2p_" + tx.ID.String()

	if err := e.ledger.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, models.ErrDuplicateTransaction) {
			// Concurrent request with the same key won the insert.
			return e.ledger.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("create ledger row: %w", err)
	}

	if err := applyTransition(ctx, e.ledger, tx.ID, domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{}); err != nil && !errors.Is(err, models.ErrStaleTransition) {
		return nil, err
	}
	tx.State = domain.TxStateChargePending

	e.runChargeStep(ctx, tx, sender, recipient, req)

	// Return the ledger's view, not our local copy; a webhook may already
	// have advanced it.
	return e.ledger.GetTransaction(ctx, tx.ID)
}

func (e *OrchestrationEngine) checkOnboarding(ctx context.Context, senderID, recipientID string) (sender, recipient *models.AccountLink, err error) {
	sender, err = e.links.GetAccountLink(ctx, senderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("sender: %w", models.ErrNotOnboarded)
		}
		return nil, nil, fmt.Errorf("load sender link: %w", err)
	}
	if !sender.ChargesEnabled {
		return nil, nil, fmt.Errorf("sender charges disabled: %w", models.ErrNotOnboarded)
	}

	recipient, err = e.links.GetAccountLink(ctx, recipientID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("recipient: %w", models.ErrNotOnboarded)
		}
		return nil, nil, fmt.Errorf("load recipient link: %w", err)
	}
	if !recipient.PayoutsEnabled {
		return nil, nil, fmt.Errorf("recipient payouts disabled: %w", models.ErrNotOnboarded)
	}
	return sender, recipient, nil
}

// runChargeStep executes the synchronous charge call and, on success, chains
// into the transfer step. Outcomes are recorded in the ledger; the caller
// re-reads the row afterwards.
func (e *OrchestrationEngine) runChargeStep(ctx context.Context, tx *models.Transaction, sender, recipient *models.AccountLink, req InitiateTransferRequest) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	customerID := ""
	if sender.ProviderCustomerID != nil {
		customerID = *sender.ProviderCustomerID
	}

	result, err := e.gateway.CreateCharge(callCtx, gateway.ChargeRequest{
		CustomerID:      customerID,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		PaymentMethodID: req.PaymentMethodID,
		TransferGroup:   tx.TransferGroup,
		IdempotencyKey:  "charge-" + req.IdempotencyKey,
		Metadata: map[string]string{
			"transaction_id":    tx.ID.String(),
			"sender_user_id":    tx.SenderUserID,
			"recipient_user_id": tx.RecipientUserID,
		},
	})
	observability.IncrementGatewayCall("create_charge", gatewayOutcome(err))
	if err != nil {
		e.recordChargeFailure(ctx, tx, err)
		return
	}

	switch result.Status {
	case domain.ChargeStatusSucceeded:
		err = applyTransition(ctx, e.ledger, tx.ID, domain.TxStateChargePending, domain.TxStateChargeSucceeded,
			models.TransitionFields{ProviderChargeID: &result.ChargeID})
		if err != nil && !errors.Is(err, models.ErrStaleTransition) {
			zap.L().Error("record charge success failed", zap.Error(err), zap.String("transaction_id", tx.ID.String()))
			return
		}
		e.AdvanceAfterChargeSuccess(ctx, tx.ID, recipient.ProviderAccountID)
	case domain.ChargeStatusFailed:
		reason := "charge_failed"
		_ = e.transitionOrLog(ctx, tx.ID, domain.TxStateChargePending, domain.TxStateChargeFailed,
			models.TransitionFields{ProviderChargeID: &result.ChargeID, FailureReason: &reason})
	default:
		// Charge still pending at the provider; persist the charge id and let
		// the webhook path finish the job.
		_ = e.transitionOrLog(ctx, tx.ID, domain.TxStateChargePending, domain.TxStateChargePending,
			models.TransitionFields{ProviderChargeID: &result.ChargeID})
	}
}

// recordChargeFailure maps gateway errors onto ledger outcomes. Transient
// failures leave the row in charge_pending for the webhook to settle.
func (e *OrchestrationEngine) recordChargeFailure(ctx context.Context, tx *models.Transaction, err error) {
	var declined *gateway.DeclinedError
	switch {
	case errors.As(err, &declined):
		_ = e.transitionOrLog(ctx, tx.ID, domain.TxStateChargePending, domain.TxStateChargeFailed,
			models.TransitionFields{FailureReason: &declined.Code})
	case errors.Is(err, gateway.ErrValidation), errors.Is(err, gateway.ErrAuth):
		reason := "gateway_rejected"
		_ = e.transitionOrLog(ctx, tx.ID, domain.TxStateChargePending, domain.TxStateChargeFailed,
			models.TransitionFields{FailureReason: &reason})
	default:
		// Timeout or provider outage: unknown outcome, never assume failure.
		zap.L().Warn("charge outcome unknown, awaiting webhook",
			zap.Error(err),
			zap.String("transaction_id", tx.ID.String()),
		)
	}
}

// AdvanceAfterChargeSuccess moves a charge_succeeded transaction into the
// transfer step. The transfer idempotency key derives from the transaction
// id, so a crash-and-retry of this step never double-transfers. Callable from
// both the synchronous path and the webhook reconciler.
func (e *OrchestrationEngine) AdvanceAfterChargeSuccess(ctx context.Context, txID uuid.UUID, destinationAccountID string) {
	// Winning this edge is ownership of the transfer step: stale losers must
	// not proceed, or two writers could issue the provider call while the row
	// sits in transfer_pending.
	err := applyTransition(ctx, e.ledger, txID, domain.TxStateChargeSucceeded, domain.TxStateTransferPending, models.TransitionFields{})
	if err != nil {
		if !errors.Is(err, models.ErrStaleTransition) {
			zap.L().Error("enter transfer_pending failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		}
		return
	}

	tx, err := e.ledger.GetTransaction(ctx, txID)
	if err != nil {
		zap.L().Error("reload transaction for transfer failed", zap.Error(err), zap.String("transaction_id", txID.String()))
		return
	}

	if destinationAccountID == "" {
		recipient, err := e.links.GetAccountLink(ctx, tx.RecipientUserID)
		if err != nil {
			zap.L().Error("load recipient link for transfer failed", zap.Error(err), zap.String("transaction_id", txID.String()))
			return
		}
		destinationAccountID = recipient.ProviderAccountID
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	transferID, err := e.gateway.CreateTransfer(callCtx, gateway.TransferRequest{
		DestinationAccountID: destinationAccountID,
		Amount:               tx.Amount,
		Currency:             tx.Currency,
		TransferGroup:        tx.TransferGroup,
		IdempotencyKey:       "transfer-" + txID.String(),
	})
	observability.IncrementGatewayCall("create_transfer", gatewayOutcome(err))
	if err != nil {
		e.recordTransferFailure(ctx, txID, err)
		return
	}

	err = applyTransition(ctx, e.ledger, txID, domain.TxStateTransferPending, domain.TxStateCompleted,
		models.TransitionFields{ProviderTransferID: &transferID})
	if err != nil && !errors.Is(err, models.ErrStaleTransition) {
		zap.L().Error("record transfer success failed", zap.Error(err), zap.String("transaction_id", txID.String()))
	}
}

// recordTransferFailure handles the funds-charged-but-not-moved branch: a
// permanent transfer failure after a succeeded charge is alert-worthy and is
// never silently retried here; reversal policy is an operational concern.
func (e *OrchestrationEngine) recordTransferFailure(ctx context.Context, txID uuid.UUID, err error) {
	var declined *gateway.DeclinedError
	reason := ""
	switch {
	case errors.As(err, &declined):
		reason = declined.Code
	case errors.Is(err, gateway.ErrValidation), errors.Is(err, gateway.ErrAuth):
		reason = "gateway_rejected"
	default:
		zap.L().Warn("transfer outcome unknown, awaiting webhook",
			zap.Error(err),
			zap.String("transaction_id", txID.String()),
		)
		return
	}

	trErr := e.transitionOrLog(ctx, txID, domain.TxStateTransferPending, domain.TxStateTransferFailed,
		models.TransitionFields{FailureReason: &reason})
	if trErr == nil {
		observability.IncrementTransferFailed()
		zap.L().Error("ALERT: transfer failed after successful charge; funds stranded on platform",
			zap.String("transaction_id", txID.String()),
			zap.String("reason", reason),
		)
	}
}

func (e *OrchestrationEngine) transitionOrLog(ctx context.Context, txID uuid.UUID, from, to string, fields models.TransitionFields) error {
	err := applyTransition(ctx, e.ledger, txID, from, to, fields)
	if err != nil && !errors.Is(err, models.ErrStaleTransition) {
		zap.L().Error("ledger transition failed",
			zap.Error(err),
			zap.String("transaction_id", txID.String()),
			zap.String("from", from),
			zap.String("to", to),
		)
		return err
	}
	return nil
}

// GetTransaction returns one ledger row.
func (e *OrchestrationEngine) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return e.ledger.GetTransaction(ctx, id)
}

// ListTransactions pages through a user's ledger rows.
func (e *OrchestrationEngine) ListTransactions(ctx context.Context, userID string, limit, offset int32) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return e.ledger.ListTransactionsForUser(ctx, userID, limit, offset)
}

func gatewayOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gateway.ErrDeclined):
		return "declined"
	case errors.Is(err, gateway.ErrValidation):
		return "validation"
	case errors.Is(err, gateway.ErrAuth):
		return "auth"
	default:
		return "unavailable"
	}
}
