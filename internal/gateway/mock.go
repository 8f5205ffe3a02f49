package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
)

// MockGateway simulates the payment provider for tests and local runs.
// Outcomes are scriptable per operation; by default everything succeeds.
// It records every mutating call so tests can assert call counts.
type MockGateway struct {
	mu sync.Mutex

	ChargeErr   error
	TransferErr error
	AccountErr  error
	// ChargeStatus overrides the synchronous charge status ("succeeded" by default).
	ChargeStatus string
	// StatusByAccount overrides GetAccountStatus per account id.
	StatusByAccount map[string]AccountStatus

	chargeCalls   []ChargeRequest
	transferCalls []TransferRequest
	accountCalls  int
	seq           int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{StatusByAccount: make(map[string]AccountStatus)}
}

func (g *MockGateway) CreateConnectedAccount(ctx context.Context, userID, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AccountErr != nil {
		return "", g.AccountErr
	}
	g.accountCalls++
	g.seq++
	return fmt.Sprintf("acct_mock_%04d", g.seq), nil
}

func (g *MockGateway) CreateAccountLink(ctx context.Context, accountID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AccountErr != nil {
		return "", g.AccountErr
	}
	return "https://connect.mock.local/onboard/" + accountID, nil
}

func (g *MockGateway) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AccountErr != nil {
		return AccountStatus{}, g.AccountErr
	}
	if status, ok := g.StatusByAccount[accountID]; ok {
		return status, nil
	}
	return AccountStatus{ChargesEnabled: true, PayoutsEnabled: true}, nil
}

func (g *MockGateway) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ChargeErr != nil {
		return ChargeResult{}, g.ChargeErr
	}
	g.chargeCalls = append(g.chargeCalls, req)
	g.seq++
	status := g.ChargeStatus
	if status == "" {
		status = domain.ChargeStatusSucceeded
	}
	return ChargeResult{ChargeID: fmt.Sprintf("pi_mock_%04d", g.seq), Status: status}, nil
}

func (g *MockGateway) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TransferErr != nil {
		return "", g.TransferErr
	}
	g.transferCalls = append(g.transferCalls, req)
	g.seq++
	return fmt.Sprintf("tr_mock_%04d", g.seq), nil
}

func (g *MockGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) (Event, error) {
	if signatureHeader == "" {
		return Event{}, ErrBadSignature
	}
	return decodeEvent(rawBody)
}

// ChargeCalls returns a copy of the recorded charge requests.
func (g *MockGateway) ChargeCalls() []ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ChargeRequest(nil), g.chargeCalls...)
}

// TransferCalls returns a copy of the recorded transfer requests.
func (g *MockGateway) TransferCalls() []TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TransferRequest(nil), g.transferCalls...)
}

// AccountCalls returns how many connected accounts were created.
func (g *MockGateway) AccountCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accountCalls
}
