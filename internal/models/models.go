package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotOnboarded is returned when a party has not completed provider
	// onboarding for the role it plays in a transfer.
	ErrNotOnboarded = errors.New("account not onboarded")
	// ErrStaleTransition signals a compare-and-swap that lost the race: the
	// stored state no longer matches the expected prior state. It is a safe
	// no-op, never surfaced to API callers as a failure.
	ErrStaleTransition = errors.New("stale transition")
	// ErrDuplicateTransaction is returned when a transaction id already exists.
	ErrDuplicateTransaction = errors.New("transaction already exists")
	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
)

// AccountLink maps an application user to a provider connected account and
// caches the provider's view of its onboarding state. Rows are never hard
// deleted; provider account ids must stay addressable for audit.
type AccountLink struct {
	UserID             string    `json:"user_id"`
	ProviderAccountID  string    `json:"provider_account_id"`
	ProviderCustomerID *string   `json:"provider_customer_id,omitempty"`
	ChargesEnabled     bool      `json:"charges_enabled"`
	PayoutsEnabled     bool      `json:"payouts_enabled"`
	OnboardingStatus   string    `json:"onboarding_status"`
	Requirements       []string  `json:"requirements,omitempty"`
	LastCheckedAt      time.Time `json:"last_checked_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// Transaction is the ledger row for a single money-movement attempt.
// provider_transfer_id is set iff state is transfer_pending or completed.
type Transaction struct {
	ID                 uuid.UUID `json:"transaction_id"`
	IdempotencyKey     string    `json:"idempotency_key"`
	SenderUserID       string    `json:"sender_user_id"`
	RecipientUserID    string    `json:"recipient_user_id"`
	Amount             int64     `json:"amount"`
	Currency           string    `json:"currency"`
	ProviderChargeID   *string   `json:"provider_charge_id,omitempty"`
	ProviderTransferID *string   `json:"provider_transfer_id,omitempty"`
	TransferGroup      string    `json:"transfer_group"`
	State              string    `json:"state"`
	FailureReason      *string   `json:"failure_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TransitionFields carries the optional columns a state transition may set
// alongside the state itself.
type TransitionFields struct {
	ProviderChargeID   *string
	ProviderTransferID *string
	FailureReason      *string
}
