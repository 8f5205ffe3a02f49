package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/testutil/dblock"
)

// setupTestDB connects to the integration database and resets the tables.
// Tests are skipped when DATABASE_URL is not set; the schema comes from
// migrations/0001_init.sql.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set; skipping database integration tests")
	}

	release := dblock.Acquire()
	t.Cleanup(release)

	db, err := pgxpool.New(context.Background(), connString)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Exec(context.Background(), "TRUNCATE TABLE transactions, account_links, idempotency_keys CASCADE")
	require.NoError(t, err)
	return db
}

func newTestTransaction(key string) *models.Transaction {
	tx := &models.Transaction{
		ID:              uuid.New(),
		IdempotencyKey:  key,
		SenderUserID:    "11111111-1111-1111-1111-111111111111",
		RecipientUserID: "22222222-2222-2222-2222-222222222222",
		Amount:          500,
		Currency:        "USD",
		State:           domain.TxStateInitiated,
	}
	tx.TransferGroup = "p2p_" + tx.ID.String()
	return tx
}

func TestCreateTransactionDuplicateKey(t *testing.T) {
	db := setupTestDB(t)
	repo := New(db)
	ctx := context.Background()

	tx := newTestTransaction("dup-key")
	require.NoError(t, repo.CreateTransaction(ctx, tx))

	dup := newTestTransaction("dup-key")
	err := repo.CreateTransaction(ctx, dup)
	assert.ErrorIs(t, err, models.ErrDuplicateTransaction)
}

func TestTransitionTransactionCAS(t *testing.T) {
	db := setupTestDB(t)
	repo := New(db)
	ctx := context.Background()

	tx := newTestTransaction("cas-key")
	require.NoError(t, repo.CreateTransaction(ctx, tx))

	chargeID := "pi_123"
	err := repo.TransitionTransaction(ctx, tx.ID, domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{ProviderChargeID: &chargeID})
	require.NoError(t, err)

	// Same edge again: the stored state moved on, so the swap is stale.
	err = repo.TransitionTransaction(ctx, tx.ID, domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{})
	assert.ErrorIs(t, err, models.ErrStaleTransition)

	// Unknown ids are reported distinctly from stale swaps.
	err = repo.TransitionTransaction(ctx, uuid.New(), domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{})
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStateChargePending, got.State)
	require.NotNil(t, got.ProviderChargeID)
	assert.Equal(t, "pi_123", *got.ProviderChargeID)
}

func TestTransitionTransactionConcurrentSingleWinner(t *testing.T) {
	db := setupTestDB(t)
	repo := New(db)
	ctx := context.Background()

	tx := newTestTransaction("race-key")
	require.NoError(t, repo.CreateTransaction(ctx, tx))

	const writers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.TransitionTransaction(ctx, tx.ID, domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{})
			if err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	assert.Equal(t, 1, winners, "compare-and-swap admits exactly one writer per edge")
}

func TestTransitionFieldsCoalesce(t *testing.T) {
	db := setupTestDB(t)
	repo := New(db)
	ctx := context.Background()

	tx := newTestTransaction("coalesce-key")
	require.NoError(t, repo.CreateTransaction(ctx, tx))

	chargeID := "pi_abc"
	require.NoError(t, repo.TransitionTransaction(ctx, tx.ID, domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{ProviderChargeID: &chargeID}))

	// A transition with no fields must keep the previously written charge id.
	require.NoError(t, repo.TransitionTransaction(ctx, tx.ID, domain.TxStateChargePending, domain.TxStateChargeSucceeded, models.TransitionFields{}))

	got, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ProviderChargeID)
	assert.Equal(t, "pi_abc", *got.ProviderChargeID)
}

func TestTransactionLookups(t *testing.T) {
	db := setupTestDB(t)
	repo := New(db)
	ctx := context.Background()

	tx := newTestTransaction("lookup-key")
	require.NoError(t, repo.CreateTransaction(ctx, tx))
	chargeID := "pi_lookup"
	require.NoError(t, repo.TransitionTransaction(ctx, tx.ID, domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{ProviderChargeID: &chargeID}))

	byKey, err := repo.GetTransactionByIdempotencyKey(ctx, "lookup-key")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byKey.ID)

	byGroup, err := repo.GetTransactionByTransferGroup(ctx, tx.TransferGroup)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byGroup.ID)

	byCharge, err := repo.GetTransactionByChargeID(ctx, "pi_lookup")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byCharge.ID)

	_, err = repo.GetTransactionByIdempotencyKey(ctx, "no-such-key")
	assert.ErrorIs(t, err, models.ErrNotFound)

	listed, err := repo.ListTransactionsForUser(ctx, tx.SenderUserID, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestSweepQueries(t *testing.T) {
	db := setupTestDB(t)
	repo := New(db)
	ctx := context.Background()

	tx := newTestTransaction("sweep-key")
	require.NoError(t, repo.CreateTransaction(ctx, tx))
	require.NoError(t, repo.TransitionTransaction(ctx, tx.ID, domain.TxStateInitiated, domain.TxStateChargePending, models.TransitionFields{}))

	count, err := repo.CountTransactionsInState(ctx, domain.TxStateChargePending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A cutoff in the future catches the fresh row; one in the past does not.
	stuck, err := repo.ListTransactionsInStateBefore(ctx, domain.TxStateChargePending, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, stuck, 1)

	stuck, err = repo.ListTransactionsInStateBefore(ctx, domain.TxStateChargePending, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestAccountLinks(t *testing.T) {
	db := setupTestDB(t)
	repo := New(db)
	ctx := context.Background()

	link := &models.AccountLink{
		UserID:            "33333333-3333-3333-3333-333333333333",
		ProviderAccountID: "acct_test_1",
		OnboardingStatus:  domain.OnboardingNotStarted,
	}
	require.NoError(t, repo.InsertAccountLink(ctx, link))

	// Second insert for the same user reports the conflict.
	dup := &models.AccountLink{
		UserID:            link.UserID,
		ProviderAccountID: "acct_test_2",
		OnboardingStatus:  domain.OnboardingNotStarted,
	}
	err := repo.InsertAccountLink(ctx, dup)
	assert.ErrorIs(t, err, models.ErrDuplicateTransaction)

	require.NoError(t, repo.RecordAccountStatus(ctx, link.UserID, true, true, domain.OnboardingEnabled, nil))

	got, err := repo.GetAccountLink(ctx, link.UserID)
	require.NoError(t, err)
	assert.True(t, got.ChargesEnabled)
	assert.Equal(t, domain.OnboardingEnabled, got.OnboardingStatus)

	byAccount, err := repo.GetAccountLinkByProviderAccount(ctx, "acct_test_1")
	require.NoError(t, err)
	assert.Equal(t, link.UserID, byAccount.UserID)

	// Enabled links are not candidates for the refresh poll.
	refresh, err := repo.ListAccountLinksToRefresh(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, refresh)
}
