package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// signatureTolerance bounds how old a webhook timestamp may be before the
// delivery is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// StripeConfig holds everything the client needs. It is assembled once at
// startup from the application config and passed by reference; the client
// never reads environment variables itself.
type StripeConfig struct {
	SecretKey            string
	WebhookSigningSecret string
	BaseURL              string
	OnboardingRefreshURL string
	OnboardingReturnURL  string
	RequestTimeout       time.Duration
	MaxRetries           int
}

// StripeGateway is a typed client over the provider's REST API. Mutating
// calls carry the caller's idempotency key; only transient transport
// failures are retried here, with backoff, bounded by MaxRetries.
type StripeGateway struct {
	cfg    StripeConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewStripeGateway constructs the client. A nil logger falls back to the
// global zap logger.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) *StripeGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.L()
	}
	return &StripeGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
		now:    time.Now,
	}
}

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

func (g *StripeGateway) CreateConnectedAccount(ctx context.Context, userID, email string) (string, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", email)
	form.Set("capabilities[transfers][requested]", "true")
	form.Set("capabilities[card_payments][requested]", "true")
	form.Set("metadata[user_id]", userID)

	var resp struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, http.MethodPost, "/accounts", form, "", &resp); err != nil {
		return "", fmt.Errorf("create connected account: %w", err)
	}
	return resp.ID, nil
}

func (g *StripeGateway) CreateAccountLink(ctx context.Context, accountID string) (string, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", g.cfg.OnboardingRefreshURL)
	form.Set("return_url", g.cfg.OnboardingReturnURL)
	form.Set("type", "account_onboarding")

	var resp struct {
		URL string `json:"url"`
	}
	if err := g.do(ctx, http.MethodPost, "/account_links", form, "", &resp); err != nil {
		return "", fmt.Errorf("create account link: %w", err)
	}
	return resp.URL, nil
}

func (g *StripeGateway) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	var resp struct {
		ChargesEnabled bool `json:"charges_enabled"`
		PayoutsEnabled bool `json:"payouts_enabled"`
		Requirements   struct {
			CurrentlyDue []string `json:"currently_due"`
		} `json:"requirements"`
	}
	if err := g.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID), nil, "", &resp); err != nil {
		return AccountStatus{}, fmt.Errorf("get account status: %w", err)
	}
	return AccountStatus{
		ChargesEnabled: resp.ChargesEnabled,
		PayoutsEnabled: resp.PayoutsEnabled,
		Requirements:   resp.Requirements.CurrentlyDue,
	}, nil
}

func (g *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("payment_method", req.PaymentMethodID)
	form.Set("confirm", "true")
	form.Set("transfer_group", req.TransferGroup)
	if req.CustomerID != "" {
		form.Set("customer", req.CustomerID)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := g.do(ctx, http.MethodPost, "/payment_intents", form, req.IdempotencyKey, &resp); err != nil {
		return ChargeResult{}, fmt.Errorf("create charge: %w", err)
	}
	return ChargeResult{ChargeID: resp.ID, Status: resp.Status}, nil
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("destination", req.DestinationAccountID)
	form.Set("transfer_group", req.TransferGroup)

	var resp struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, http.MethodPost, "/transfers", form, req.IdempotencyKey, &resp); err != nil {
		return "", fmt.Errorf("create transfer: %w", err)
	}
	return resp.ID, nil
}

// VerifyWebhookSignature authenticates a raw delivery against the signing
// secret. The header format is "t=<unix>,v1=<hex hmac>" where the MAC covers
// "<t>.<payload>".
func (g *StripeGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) (Event, error) {
	ts, sigs, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return Event{}, err
	}
	if g.now().Sub(time.Unix(ts, 0)) > signatureTolerance {
		return Event{}, fmt.Errorf("timestamp outside tolerance: %w", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSigningSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	valid := false
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			valid = true
			break
		}
	}
	if !valid {
		return Event{}, ErrBadSignature
	}
	return decodeEvent(rawBody)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var ts int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("bad timestamp: %w", ErrBadSignature)
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("malformed header: %w", ErrBadSignature)
	}
	return ts, sigs, nil
}

// eventEnvelope is the provider's event wire shape.
type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account"`
	Data    struct {
		Object struct {
			ID             string `json:"id"`
			Object         string `json:"object"`
			TransferGroup  string `json:"transfer_group"`
			FailureCode    string `json:"failure_code"`
			FailureMessage string `json:"failure_message"`
			ChargesEnabled bool   `json:"charges_enabled"`
			PayoutsEnabled bool   `json:"payouts_enabled"`
			Requirements   struct {
				CurrentlyDue []string `json:"currently_due"`
			} `json:"requirements"`
		} `json:"object"`
	} `json:"data"`
}

func decodeEvent(rawBody []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev := Event{
		ID:             env.ID,
		Type:           env.Type,
		AccountID:      env.Account,
		TransferGroup:  env.Data.Object.TransferGroup,
		FailureReason:  env.Data.Object.FailureCode,
		ChargesEnabled: env.Data.Object.ChargesEnabled,
		PayoutsEnabled: env.Data.Object.PayoutsEnabled,
		Requirements:   env.Data.Object.Requirements.CurrentlyDue,
	}
	if ev.FailureReason == "" && env.Data.Object.FailureMessage != "" {
		ev.FailureReason = env.Data.Object.FailureMessage
	}
	switch env.Data.Object.Object {
	case "transfer":
		ev.TransferID = env.Data.Object.ID
	case "account":
		if ev.AccountID == "" {
			ev.AccountID = env.Data.Object.ID
		}
	default:
		ev.ChargeID = env.Data.Object.ID
	}
	return ev, nil
}

// do executes one API call, retrying transient failures with backoff.
func (g *StripeGateway) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			g.logger.Warn("gateway retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
			)
		}

		err := g.doOnce(ctx, method, path, form, idempotencyKey, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var de *DeclinedError
	if errors.As(err, &de) {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}

func (g *StripeGateway) doOnce(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	// Raw provider error payloads are logged here, never echoed to callers.
	g.logger.Warn("gateway error response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", payload),
	)

	var apiErr apiError
	_ = json.Unmarshal(payload, &apiErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrAuth
	case resp.StatusCode == http.StatusPaymentRequired || apiErr.Error.Type == "card_error":
		code := apiErr.Error.DeclineCode
		if code == "" {
			code = apiErr.Error.Code
		}
		if code == "" {
			code = "declined"
		}
		return &DeclinedError{Code: code, Message: apiErr.Error.Message}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s", ErrValidation, apiErr.Error.Message)
	}
}
