package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
)

// Ledger is the durable transaction record the engine and reconciler write
// through. TransitionTransaction is a compare-and-swap: it succeeds for at
// most one writer per stored state value and returns
// models.ErrStaleTransition for the losers.
type Ledger interface {
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	TransitionTransaction(ctx context.Context, id uuid.UUID, fromState, toState string, fields models.TransitionFields) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	GetTransactionByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error)
	GetTransactionByTransferGroup(ctx context.Context, transferGroup string) (*models.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userID string, limit, offset int32) ([]models.Transaction, error)
}

// LinkStore is the accessor over user↔provider account mappings. It never
// decides eligibility itself; preconditions live in the engine.
type LinkStore interface {
	InsertAccountLink(ctx context.Context, link *models.AccountLink) error
	GetAccountLink(ctx context.Context, userID string) (*models.AccountLink, error)
	GetAccountLinkByProviderAccount(ctx context.Context, providerAccountID string) (*models.AccountLink, error)
	RecordAccountStatus(ctx context.Context, userID string, chargesEnabled, payoutsEnabled bool, onboardingStatus string, requirements []string) error
	ListAccountLinksToRefresh(ctx context.Context, checkedBefore time.Time, limit int32) ([]models.AccountLink, error)
}
