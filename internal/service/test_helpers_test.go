package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
)

// fakeLedger is an in-memory Ledger with the same compare-and-swap contract
// as the Postgres repository: a transition applies only when the stored
// state still equals fromState, and losers get ErrStaleTransition.
type fakeLedger struct {
	mu  sync.Mutex
	txs map[uuid.UUID]*models.Transaction

	// transitions records every applied (from, to) edge in order.
	transitions []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: make(map[uuid.UUID]*models.Transaction)}
}

func (f *fakeLedger) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.txs {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return models.ErrDuplicateTransaction
		}
	}
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	clone := *tx
	f.txs[tx.ID] = &clone
	return nil
}

func (f *fakeLedger) TransitionTransaction(ctx context.Context, id uuid.UUID, fromState, toState string, fields models.TransitionFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return models.ErrNotFound
	}
	if tx.State != fromState {
		return models.ErrStaleTransition
	}
	tx.State = toState
	if fields.ProviderChargeID != nil {
		v := *fields.ProviderChargeID
		tx.ProviderChargeID = &v
	}
	if fields.ProviderTransferID != nil {
		v := *fields.ProviderTransferID
		tx.ProviderTransferID = &v
	}
	if fields.FailureReason != nil {
		v := *fields.FailureReason
		tx.FailureReason = &v
	}
	tx.UpdatedAt = time.Now()
	f.transitions = append(f.transitions, fromState+"->"+toState)
	return nil
}

func (f *fakeLedger) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *tx
	return &clone, nil
}

func (f *fakeLedger) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.IdempotencyKey == key {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeLedger) GetTransactionByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.ProviderChargeID != nil && *tx.ProviderChargeID == chargeID {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeLedger) GetTransactionByTransferGroup(ctx context.Context, transferGroup string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.TransferGroup == transferGroup {
			clone := *tx
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeLedger) ListTransactionsForUser(ctx context.Context, userID string, limit, offset int32) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, tx := range f.txs {
		if tx.SenderUserID == userID || tx.RecipientUserID == userID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (f *fakeLedger) CountTransactionsInState(ctx context.Context, state string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, tx := range f.txs {
		if tx.State == state {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) ListTransactionsInStateBefore(ctx context.Context, state string, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, tx := range f.txs {
		if tx.State == state && tx.UpdatedAt.Before(cutoff) {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (f *fakeLedger) appliedTransitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transitions...)
}

// fakeLinks is an in-memory LinkStore keyed by user id.
type fakeLinks struct {
	mu    sync.Mutex
	links map[string]*models.AccountLink
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{links: make(map[string]*models.AccountLink)}
}

func (f *fakeLinks) InsertAccountLink(ctx context.Context, link *models.AccountLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[link.UserID]; ok {
		return models.ErrDuplicateTransaction
	}
	now := time.Now()
	link.LastCheckedAt = now
	link.CreatedAt = now
	clone := *link
	f.links[link.UserID] = &clone
	return nil
}

func (f *fakeLinks) GetAccountLink(ctx context.Context, userID string) (*models.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *link
	return &clone, nil
}

func (f *fakeLinks) GetAccountLinkByProviderAccount(ctx context.Context, providerAccountID string) (*models.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.ProviderAccountID == providerAccountID {
			clone := *link
			return &clone, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeLinks) RecordAccountStatus(ctx context.Context, userID string, chargesEnabled, payoutsEnabled bool, onboardingStatus string, requirements []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[userID]
	if !ok {
		return models.ErrNotFound
	}
	link.ChargesEnabled = chargesEnabled
	link.PayoutsEnabled = payoutsEnabled
	link.OnboardingStatus = onboardingStatus
	link.Requirements = requirements
	link.LastCheckedAt = time.Now()
	return nil
}

func (f *fakeLinks) ListAccountLinksToRefresh(ctx context.Context, checkedBefore time.Time, limit int32) ([]models.AccountLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AccountLink
	for _, link := range f.links {
		if link.OnboardingStatus != domain.OnboardingEnabled && link.LastCheckedAt.Before(checkedBefore) {
			out = append(out, *link)
		}
	}
	return out, nil
}

// seedLink registers a fully-enabled account link for a user.
func (f *fakeLinks) seedLink(userID, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[userID] = &models.AccountLink{
		UserID:            userID,
		ProviderAccountID: accountID,
		ChargesEnabled:    true,
		PayoutsEnabled:    true,
		OnboardingStatus:  domain.OnboardingEnabled,
		LastCheckedAt:     time.Now(),
		CreatedAt:         time.Now(),
	}
}
