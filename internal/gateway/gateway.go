package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Gateway represents the external payment provider's REST API.
// Every mutating call takes an idempotency key; the gateway retries only
// transient transport failures, bounded, because the caller owns
// idempotency-safe re-invocation.
type Gateway interface {
	// CreateConnectedAccount provisions a provider account for a user.
	CreateConnectedAccount(ctx context.Context, userID, email string) (accountID string, err error)
	// CreateAccountLink returns a hosted onboarding (KYC) URL for an account.
	CreateAccountLink(ctx context.Context, accountID string) (url string, err error)
	// GetAccountStatus fetches the provider's current capability flags.
	GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error)
	// CreateCharge creates a PaymentIntent-style charge on the platform.
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// CreateTransfer moves funds from the platform to a connected account.
	CreateTransfer(ctx context.Context, req TransferRequest) (transferID string, err error)
	// VerifyWebhookSignature authenticates a raw webhook delivery and
	// decodes it into an Event.
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) (Event, error)
}

// AccountStatus is the provider's view of a connected account.
type AccountStatus struct {
	ChargesEnabled bool
	PayoutsEnabled bool
	Requirements   []string
}

// ChargeRequest describes a platform charge.
type ChargeRequest struct {
	CustomerID      string
	Amount          int64
	Currency        string
	PaymentMethodID string
	TransferGroup   string
	IdempotencyKey  string
	Metadata        map[string]string
}

// ChargeResult is the synchronous outcome of CreateCharge.
type ChargeResult struct {
	ChargeID string
	Status   string
}

// TransferRequest describes a transfer to a connected account.
type TransferRequest struct {
	DestinationAccountID string
	Amount               int64
	Currency             string
	TransferGroup        string
	IdempotencyKey       string
}

// Event is a verified webhook event.
type Event struct {
	ID        string
	Type      string
	AccountID string
	// Object fields, flattened from the event payload.
	ChargeID      string
	TransferID    string
	TransferGroup string
	FailureReason string
	// Account capability flags, present on account.updated events.
	ChargesEnabled bool
	PayoutsEnabled bool
	Requirements   []string
}

// Error taxonomy. Callers branch on these to decide terminal vs retryable.
var (
	// ErrAuth means the configured credentials were rejected. Fatal.
	ErrAuth = errors.New("gateway: authentication failed")
	// ErrValidation means the provider rejected the request shape. Not retryable.
	ErrValidation = errors.New("gateway: invalid request")
	// ErrUnavailable means a transient provider or network failure. Retryable.
	ErrUnavailable = errors.New("gateway: provider unavailable")
	// ErrDeclined means a business failure (e.g. card declined). Terminal
	// for this attempt.
	ErrDeclined = errors.New("gateway: declined")
	// ErrBadSignature means a webhook delivery failed authentication.
	ErrBadSignature = errors.New("gateway: invalid webhook signature")
)

// DeclinedError wraps ErrDeclined with the provider's decline code so the
// ledger can record a failure reason.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("gateway: declined: %s (%s)", e.Code, e.Message)
}

func (e *DeclinedError) Unwrap() error { return ErrDeclined }
