package domain

// Transaction lifecycle states. A transaction only moves forward through
// these; completed, charge_failed and transfer_failed are terminal.
const (
	TxStateInitiated       = "initiated"
	TxStateChargePending   = "charge_pending"
	TxStateChargeSucceeded = "charge_succeeded"
	TxStateChargeFailed    = "charge_failed"
	TxStateTransferPending = "transfer_pending"
	TxStateTransferFailed  = "transfer_failed"
	TxStateCompleted       = "completed"
)

// Onboarding statuses for a connected account.
const (
	OnboardingNotStarted = "not_started"
	OnboardingPending    = "pending"
	OnboardingEnabled    = "enabled"
	OnboardingRestricted = "restricted"
)

// Provider event types consumed by the webhook reconciler.
const (
	EventChargeSucceeded = "charge.succeeded"
	EventChargeFailed    = "charge.failed"
	EventTransferCreated = "transfer.created"
	EventTransferFailed  = "transfer.failed"
	EventAccountUpdated  = "account.updated"
)

// Charge statuses reported synchronously by the provider.
const (
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusPending   = "pending"
	ChargeStatusFailed    = "failed"
)

// IsTerminalState reports whether no transition may leave the given state.
func IsTerminalState(state string) bool {
	switch state {
	case TxStateCompleted, TxStateChargeFailed, TxStateTransferFailed:
		return true
	default:
		return false
	}
}
