package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/gateway"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
)

// ErrUnauthorizedWebhook signals a delivery that failed signature
// verification. Logged as a security event and answered with 401.
var ErrUnauthorizedWebhook = errors.New("webhook signature verification failed")

// Webhook handling outcomes. Everything but Unauthorized is acknowledged
// with 200 so the provider stops redelivering.
const (
	WebhookOutcomeApplied      = "applied"
	WebhookOutcomeDeduped      = "deduped"
	WebhookOutcomeUnrecognized = "unrecognized"
)

// WebhookReconciler consumes asynchronous provider events and reconciles them
// against the ledger through the exact same transition calls as the
// synchronous path. At-least-once delivery is absorbed entirely by the
// ledger's compare-and-swap: a duplicate or out-of-order event becomes a
// stale no-op, no separate event dedup table.
type WebhookReconciler struct {
	ledger  Ledger
	links   LinkStore
	gateway gateway.Gateway
	engine  *OrchestrationEngine
}

func NewWebhookReconciler(ledger Ledger, links LinkStore, gw gateway.Gateway, engine *OrchestrationEngine) *WebhookReconciler {
	return &WebhookReconciler{
		ledger:  ledger,
		links:   links,
		gateway: gw,
		engine:  engine,
	}
}

// Handle verifies and applies one raw webhook delivery. The returned outcome
// is one of the WebhookOutcome constants; ErrUnauthorizedWebhook is the only
// error a transport should convert to a non-2xx status.
func (r *WebhookReconciler) Handle(ctx context.Context, rawBody []byte, signatureHeader string) (string, error) {
	event, err := r.gateway.VerifyWebhookSignature(rawBody, signatureHeader)
	if err != nil {
		zap.L().Warn("SECURITY: webhook rejected", zap.Error(err))
		observability.IncrementWebhookEvent("unknown", "unauthorized")
		return "", fmt.Errorf("%w: %v", ErrUnauthorizedWebhook, err)
	}

	outcome, err := r.apply(ctx, event)
	if err != nil {
		observability.IncrementWebhookEvent(event.Type, "error")
		return "", err
	}
	observability.IncrementWebhookEvent(event.Type, outcome)
	return outcome, nil
}

func (r *WebhookReconciler) apply(ctx context.Context, event gateway.Event) (string, error) {
	switch event.Type {
	case domain.EventChargeSucceeded:
		return r.applyChargeSucceeded(ctx, event)
	case domain.EventChargeFailed:
		return r.applyChargeFailed(ctx, event)
	case domain.EventTransferCreated:
		return r.applyTransferCreated(ctx, event)
	case domain.EventTransferFailed:
		return r.applyTransferFailed(ctx, event)
	case domain.EventAccountUpdated:
		return r.applyAccountUpdated(ctx, event)
	default:
		// Unknown event types are acknowledged, else the provider retries
		// delivery indefinitely.
		zap.L().Info("unrecognized webhook event", zap.String("type", event.Type), zap.String("event_id", event.ID))
		return WebhookOutcomeUnrecognized, nil
	}
}

func (r *WebhookReconciler) applyChargeSucceeded(ctx context.Context, event gateway.Event) (string, error) {
	tx, outcome, err := r.resolveTransaction(ctx, event)
	if tx == nil {
		return outcome, err
	}

	err = applyTransition(ctx, r.ledger, tx.ID, domain.TxStateChargePending, domain.TxStateChargeSucceeded,
		models.TransitionFields{ProviderChargeID: nonEmpty(event.ChargeID)})
	switch {
	case err == nil:
		// This delivery won the edge; it now owns kicking off the transfer,
		// exactly as the synchronous path would have.
		r.engine.AdvanceAfterChargeSuccess(ctx, tx.ID, "")
		return WebhookOutcomeApplied, nil
	case errors.Is(err, models.ErrStaleTransition):
		// Either a duplicate delivery or the synchronous path got there
		// first. If the row sits in charge_succeeded the transfer step may
		// still be owed (sync caller could have crashed in between).
		current, getErr := r.ledger.GetTransaction(ctx, tx.ID)
		if getErr == nil && current.State == domain.TxStateChargeSucceeded {
			r.engine.AdvanceAfterChargeSuccess(ctx, tx.ID, "")
			return WebhookOutcomeApplied, nil
		}
		return WebhookOutcomeDeduped, nil
	default:
		return "", err
	}
}

func (r *WebhookReconciler) applyChargeFailed(ctx context.Context, event gateway.Event) (string, error) {
	tx, outcome, err := r.resolveTransaction(ctx, event)
	if tx == nil {
		return outcome, err
	}

	reason := event.FailureReason
	if reason == "" {
		reason = "charge_failed"
	}
	err = applyTransition(ctx, r.ledger, tx.ID, domain.TxStateChargePending, domain.TxStateChargeFailed,
		models.TransitionFields{ProviderChargeID: nonEmpty(event.ChargeID), FailureReason: &reason})
	switch {
	case err == nil:
		return WebhookOutcomeApplied, nil
	case errors.Is(err, models.ErrStaleTransition):
		return WebhookOutcomeDeduped, nil
	default:
		return "", err
	}
}

func (r *WebhookReconciler) applyTransferCreated(ctx context.Context, event gateway.Event) (string, error) {
	tx, outcome, err := r.resolveTransaction(ctx, event)
	if tx == nil {
		return outcome, err
	}

	err = applyTransition(ctx, r.ledger, tx.ID, domain.TxStateTransferPending, domain.TxStateCompleted,
		models.TransitionFields{ProviderTransferID: nonEmpty(event.TransferID)})
	switch {
	case err == nil:
		return WebhookOutcomeApplied, nil
	case errors.Is(err, models.ErrStaleTransition):
		return WebhookOutcomeDeduped, nil
	default:
		return "", err
	}
}

func (r *WebhookReconciler) applyTransferFailed(ctx context.Context, event gateway.Event) (string, error) {
	tx, outcome, err := r.resolveTransaction(ctx, event)
	if tx == nil {
		return outcome, err
	}

	reason := event.FailureReason
	if reason == "" {
		reason = "transfer_failed"
	}
	err = applyTransition(ctx, r.ledger, tx.ID, domain.TxStateTransferPending, domain.TxStateTransferFailed,
		models.TransitionFields{FailureReason: &reason})
	switch {
	case err == nil:
		observability.IncrementTransferFailed()
		zap.L().Error("ALERT: transfer failed after successful charge; funds stranded on platform",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("reason", reason),
		)
		return WebhookOutcomeApplied, nil
	case errors.Is(err, models.ErrStaleTransition):
		return WebhookOutcomeDeduped, nil
	default:
		return "", err
	}
}

// applyAccountUpdated refreshes the cached onboarding flags. Same entry
// point as the money events, so the status poll and the webhook never grow
// parallel state machines.
func (r *WebhookReconciler) applyAccountUpdated(ctx context.Context, event gateway.Event) (string, error) {
	if event.AccountID == "" {
		return WebhookOutcomeUnrecognized, nil
	}
	link, err := r.links.GetAccountLinkByProviderAccount(ctx, event.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			zap.L().Info("account event for unknown account", zap.String("account_id", event.AccountID))
			return WebhookOutcomeUnrecognized, nil
		}
		return "", fmt.Errorf("load account link: %w", err)
	}

	status := deriveOnboardingStatus(gateway.AccountStatus{
		ChargesEnabled: event.ChargesEnabled,
		PayoutsEnabled: event.PayoutsEnabled,
		Requirements:   event.Requirements,
	})
	if err := r.links.RecordAccountStatus(ctx, link.UserID, event.ChargesEnabled, event.PayoutsEnabled, status, event.Requirements); err != nil {
		return "", fmt.Errorf("record account status: %w", err)
	}
	return WebhookOutcomeApplied, nil
}

// resolveTransaction maps an event back to its ledger row, preferring the
// transfer group (stamped on both charge and transfer) over object ids.
// A nil transaction means the event was answered without ledger work.
func (r *WebhookReconciler) resolveTransaction(ctx context.Context, event gateway.Event) (*models.Transaction, string, error) {
	if event.TransferGroup != "" {
		tx, err := r.ledger.GetTransactionByTransferGroup(ctx, event.TransferGroup)
		if err == nil {
			return tx, "", nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, "", fmt.Errorf("resolve by transfer group: %w", err)
		}
	}
	if event.ChargeID != "" {
		tx, err := r.ledger.GetTransactionByChargeID(ctx, event.ChargeID)
		if err == nil {
			return tx, "", nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, "", fmt.Errorf("resolve by charge id: %w", err)
		}
	}
	// Events for objects we never created (for example, dashboard-made
	// charges) are acknowledged and skipped.
	zap.L().Info("webhook event matches no ledger row",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("transfer_group", event.TransferGroup),
	)
	return nil, WebhookOutcomeUnrecognized, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
