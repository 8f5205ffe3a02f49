package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/gateway"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
)

func newTestOnboarding(t *testing.T) (*OnboardingService, *fakeLinks, *gateway.MockGateway) {
	t.Helper()
	links := newFakeLinks()
	gw := gateway.NewMockGateway()
	return NewOnboardingService(links, gw), links, gw
}

func TestEnsureCreatesAccountOnce(t *testing.T) {
	svc, _, gw := newTestOnboarding(t)

	first, err := svc.Ensure(context.Background(), "user-1", "user1@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ProviderAccountID)
	assert.Equal(t, domain.OnboardingNotStarted, first.OnboardingStatus)

	second, err := svc.Ensure(context.Background(), "user-1", "user1@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ProviderAccountID, second.ProviderAccountID)
	assert.Equal(t, 1, gw.AccountCalls(), "existing link must not provision again")
}

func TestEnsureRequiresEmail(t *testing.T) {
	svc, _, _ := newTestOnboarding(t)
	_, err := svc.Ensure(context.Background(), "user-1", "  ")
	assert.ErrorIs(t, err, ErrEmailRequired)
}

func TestOnboardingURLMarksPending(t *testing.T) {
	svc, links, _ := newTestOnboarding(t)

	link, url, err := svc.OnboardingURL(context.Background(), "user-1", "user1@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	assert.Equal(t, domain.OnboardingNotStarted, link.OnboardingStatus)

	stored, err := links.GetAccountLink(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OnboardingPending, stored.OnboardingStatus)
}

func TestRefreshStatusRecordsProviderTruth(t *testing.T) {
	svc, links, gw := newTestOnboarding(t)
	links.seedLink("user-1", "acct_1")
	gw.StatusByAccount["acct_1"] = gateway.AccountStatus{
		ChargesEnabled: true,
		PayoutsEnabled: false,
		Requirements:   []string{"external_account"},
	}

	link, err := svc.RefreshStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, link.ChargesEnabled)
	assert.False(t, link.PayoutsEnabled)
	assert.Equal(t, domain.OnboardingPending, link.OnboardingStatus)
	assert.Equal(t, []string{"external_account"}, link.Requirements)
}

func TestRefreshStatusNoLink(t *testing.T) {
	svc, _, _ := newTestOnboarding(t)
	_, err := svc.RefreshStatus(context.Background(), "user-unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeriveOnboardingStatus(t *testing.T) {
	assert.Equal(t, domain.OnboardingEnabled, deriveOnboardingStatus(gateway.AccountStatus{ChargesEnabled: true, PayoutsEnabled: true}))
	assert.Equal(t, domain.OnboardingPending, deriveOnboardingStatus(gateway.AccountStatus{Requirements: []string{"tos"}}))
	assert.Equal(t, domain.OnboardingRestricted, deriveOnboardingStatus(gateway.AccountStatus{}))
}
