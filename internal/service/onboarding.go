package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/gateway"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/observability"
)

var ErrEmailRequired = errors.New("email is required")

// OnboardingService manages the user↔provider account mapping. Links are
// created lazily on first use and refreshed from provider truth by explicit
// polls and account webhooks; the service never decides transfer eligibility.
type OnboardingService struct {
	links   LinkStore
	gateway gateway.Gateway
}

func NewOnboardingService(links LinkStore, gw gateway.Gateway) *OnboardingService {
	return &OnboardingService{links: links, gateway: gw}
}

// Ensure creates-or-fetches the account link for a user, calling the
// provider to provision a connected account only when no link exists yet.
func (s *OnboardingService) Ensure(ctx context.Context, userID, email string) (*models.AccountLink, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrEmailRequired
	}

	link, err := s.links.GetAccountLink(ctx, userID)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("load account link: %w", err)
	}

	accountID, err := s.gateway.CreateConnectedAccount(ctx, userID, email)
	observability.IncrementGatewayCall("create_account", gatewayOutcome(err))
	if err != nil {
		return nil, fmt.Errorf("create connected account: %w", err)
	}

	link = &models.AccountLink{
		UserID:            userID,
		ProviderAccountID: accountID,
		OnboardingStatus:  domain.OnboardingNotStarted,
	}
	if err := s.links.InsertAccountLink(ctx, link); err != nil {
		if errors.Is(err, models.ErrDuplicateTransaction) {
			// Lost a create race; the winner's provider account stands and
			// ours becomes an orphan on the provider side. Harmless: it is
			// never referenced by any link.
			zap.L().Warn("account link create race", zap.String("user_id", userID))
			return s.links.GetAccountLink(ctx, userID)
		}
		return nil, fmt.Errorf("persist account link: %w", err)
	}
	return link, nil
}

// OnboardingURL ensures a link exists and mints a fresh hosted onboarding
// URL for it. Links expire provider-side, so one is generated per request.
func (s *OnboardingService) OnboardingURL(ctx context.Context, userID, email string) (*models.AccountLink, string, error) {
	link, err := s.Ensure(ctx, userID, email)
	if err != nil {
		return nil, "", err
	}

	url, err := s.gateway.CreateAccountLink(ctx, link.ProviderAccountID)
	observability.IncrementGatewayCall("create_account_link", gatewayOutcome(err))
	if err != nil {
		return nil, "", fmt.Errorf("create account link: %w", err)
	}

	if link.OnboardingStatus == domain.OnboardingNotStarted {
		if err := s.links.RecordAccountStatus(ctx, userID, link.ChargesEnabled, link.PayoutsEnabled, domain.OnboardingPending, link.Requirements); err != nil {
			zap.L().Warn("mark onboarding pending failed", zap.Error(err), zap.String("user_id", userID))
		}
	}
	return link, url, nil
}

// RefreshStatus polls the provider for the account's current capability
// flags and records them. Last writer wins; this is a cache of external
// truth, not a ledger.
func (s *OnboardingService) RefreshStatus(ctx context.Context, userID string) (*models.AccountLink, error) {
	link, err := s.links.GetAccountLink(ctx, userID)
	if err != nil {
		return nil, err
	}

	status, err := s.gateway.GetAccountStatus(ctx, link.ProviderAccountID)
	observability.IncrementGatewayCall("get_account_status", gatewayOutcome(err))
	if err != nil {
		return nil, fmt.Errorf("poll account status: %w", err)
	}

	onboarding := deriveOnboardingStatus(status)
	if err := s.links.RecordAccountStatus(ctx, userID, status.ChargesEnabled, status.PayoutsEnabled, onboarding, status.Requirements); err != nil {
		return nil, fmt.Errorf("record account status: %w", err)
	}
	return s.links.GetAccountLink(ctx, userID)
}

// deriveOnboardingStatus folds provider capability flags into the local
// onboarding enum. Both capabilities granted means enabled; outstanding
// requirements mean the user still has KYC steps; otherwise the provider
// has restricted the account.
func deriveOnboardingStatus(status gateway.AccountStatus) string {
	switch {
	case status.ChargesEnabled && status.PayoutsEnabled:
		return domain.OnboardingEnabled
	case len(status.Requirements) > 0:
		return domain.OnboardingPending
	default:
		return domain.OnboardingRestricted
	}
}
