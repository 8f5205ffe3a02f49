package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so every query can run
// either standalone or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DBTX
}

func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a Repository bound to the given transaction.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

const transactionColumns = `id, idempotency_key, sender_user_id, recipient_user_id, amount, currency,
	provider_charge_id, provider_transfer_id, transfer_group, state, failure_reason, created_at, updated_at`

// CreateTransaction inserts a ledger row. The caller sets the initial state.
func (r *Repository) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, idempotency_key, sender_user_id, recipient_user_id, amount, currency,
			transfer_group, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		tx.ID, tx.IdempotencyKey, tx.SenderUserID, tx.RecipientUserID, tx.Amount, tx.Currency,
		tx.TransferGroup, tx.State,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrDuplicateTransaction
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// TransitionTransaction performs the guarded compare-and-swap on state.
// The UPDATE only applies when the stored state still equals fromState, so at
// most one concurrent writer wins per actual state value. A lost race returns
// models.ErrStaleTransition; a missing row returns models.ErrNotFound.
func (r *Repository) TransitionTransaction(ctx context.Context, id uuid.UUID, fromState, toState string, fields models.TransitionFields) error {
	query := `
		UPDATE transactions
		SET state = $3,
			provider_charge_id = COALESCE($4, provider_charge_id),
			provider_transfer_id = COALESCE($5, provider_transfer_id),
			failure_reason = COALESCE($6, failure_reason),
			updated_at = NOW()
		WHERE id = $1 AND state = $2`
	tag, err := r.db.Exec(ctx, query, id, fromState, toState,
		fields.ProviderChargeID, fields.ProviderTransferID, fields.FailureReason)
	if err != nil {
		return fmt.Errorf("transition transaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("transition transaction existence check: %w", err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrStaleTransition
}

func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanTransaction(r.db.QueryRow(ctx, query, id))
}

func (r *Repository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return r.scanTransaction(r.db.QueryRow(ctx, query, key))
}

// GetTransactionByTransferGroup resolves a webhook event back to its ledger
// row; the transfer_group is unique per transaction.
func (r *Repository) GetTransactionByTransferGroup(ctx context.Context, transferGroup string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transfer_group = $1`
	return r.scanTransaction(r.db.QueryRow(ctx, query, transferGroup))
}

func (r *Repository) GetTransactionByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE provider_charge_id = $1`
	return r.scanTransaction(r.db.QueryRow(ctx, query, chargeID))
}

// ListTransactionsForUser returns rows where the user is sender or recipient,
// newest first.
func (r *Repository) ListTransactionsForUser(ctx context.Context, userID string, limit, offset int32) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_user_id = $1 OR recipient_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// ListTransactionsInStateBefore returns rows stuck in a state since before
// the cutoff. Used by the reconciliation sweep.
func (r *Repository) ListTransactionsInStateBefore(ctx context.Context, state string, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, state, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions in state: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (r *Repository) CountTransactionsInState(ctx context.Context, state string) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE state = $1`, state).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transactions in state: %w", err)
	}
	return count, nil
}

func (r *Repository) scanTransaction(row pgx.Row) (*models.Transaction, error) {
	return scanTransactionRow(row)
}

func scanTransactionRow(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID, &tx.IdempotencyKey, &tx.SenderUserID, &tx.RecipientUserID, &tx.Amount, &tx.Currency,
		&tx.ProviderChargeID, &tx.ProviderTransferID, &tx.TransferGroup, &tx.State, &tx.FailureReason,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &tx, nil
}

const accountLinkColumns = `user_id, provider_account_id, provider_customer_id, charges_enabled,
	payouts_enabled, onboarding_status, requirements, last_checked_at, created_at`

// InsertAccountLink creates the user↔provider mapping. At most one link per
// user; a duplicate insert is reported so callers can re-read instead.
func (r *Repository) InsertAccountLink(ctx context.Context, link *models.AccountLink) error {
	query := `
		INSERT INTO account_links (user_id, provider_account_id, provider_customer_id, charges_enabled,
			payouts_enabled, onboarding_status, requirements, last_checked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
		RETURNING last_checked_at, created_at`
	err := r.db.QueryRow(ctx, query,
		link.UserID, link.ProviderAccountID, link.ProviderCustomerID, link.ChargesEnabled,
		link.PayoutsEnabled, link.OnboardingStatus, link.Requirements,
	).Scan(&link.LastCheckedAt, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert account link: %w", err)
	}
	return nil
}

func (r *Repository) GetAccountLink(ctx context.Context, userID string) (*models.AccountLink, error) {
	query := `SELECT ` + accountLinkColumns + ` FROM account_links WHERE user_id = $1`
	return scanAccountLink(r.db.QueryRow(ctx, query, userID))
}

func (r *Repository) GetAccountLinkByProviderAccount(ctx context.Context, providerAccountID string) (*models.AccountLink, error) {
	query := `SELECT ` + accountLinkColumns + ` FROM account_links WHERE provider_account_id = $1`
	return scanAccountLink(r.db.QueryRow(ctx, query, providerAccountID))
}

// RecordAccountStatus refreshes the cached provider flags. Last writer wins
// on last_checked_at; this is a cache of external truth, not a ledger.
func (r *Repository) RecordAccountStatus(ctx context.Context, userID string, chargesEnabled, payoutsEnabled bool, onboardingStatus string, requirements []string) error {
	query := `
		UPDATE account_links
		SET charges_enabled = $2, payouts_enabled = $3, onboarding_status = $4,
			requirements = $5, last_checked_at = NOW()
		WHERE user_id = $1`
	tag, err := r.db.Exec(ctx, query, userID, chargesEnabled, payoutsEnabled, onboardingStatus, requirements)
	if err != nil {
		return fmt.Errorf("record account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListAccountLinksToRefresh returns links that are not yet fully enabled and
// have not been checked since the cutoff. Feed for the status poll worker.
func (r *Repository) ListAccountLinksToRefresh(ctx context.Context, checkedBefore time.Time, limit int32) ([]models.AccountLink, error) {
	query := `
		SELECT ` + accountLinkColumns + `
		FROM account_links
		WHERE onboarding_status <> $1 AND last_checked_at < $2
		ORDER BY last_checked_at ASC
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, domain.OnboardingEnabled, checkedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list account links to refresh: %w", err)
	}
	defer rows.Close()

	var out []models.AccountLink
	for rows.Next() {
		link, err := scanAccountLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *link)
	}
	return out, rows.Err()
}

func scanAccountLink(row pgx.Row) (*models.AccountLink, error) {
	var link models.AccountLink
	err := row.Scan(
		&link.UserID, &link.ProviderAccountID, &link.ProviderCustomerID, &link.ChargesEnabled,
		&link.PayoutsEnabled, &link.OnboardingStatus, &link.Requirements, &link.LastCheckedAt, &link.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan account link: %w", err)
	}
	return &link, nil
}
