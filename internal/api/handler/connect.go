package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/KDR9MGR/digital-payments-sub002/internal/gateway"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
	"go.uber.org/zap"
)

// ConnectHandler exposes the provider onboarding surface: creating a
// connected account, minting onboarding links, and reporting capability
// status.
type ConnectHandler struct {
	onboarding *service.OnboardingService
}

func NewConnectHandler(onboarding *service.OnboardingService) *ConnectHandler {
	return &ConnectHandler{onboarding: onboarding}
}

type createAccountRequest struct {
	Email string `json:"email"`
}

type accountLinkResponse struct {
	Account       *models.AccountLink `json:"account"`
	OnboardingURL string              `json:"onboarding_url,omitempty"`
}

// CreateAccount ensures the caller has a provider account. Safe to call
// repeatedly; an existing link is returned unchanged.
func (h *ConnectHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/validation", "email is required")
		return
	}

	link, err := h.onboarding.Ensure(r.Context(), actorID.String(), req.Email)
	if err != nil {
		h.respondOnboardingError(w, r, err, "create connected account")
		return
	}
	RespondJSON(w, http.StatusCreated, accountLinkResponse{Account: link})
}

// CreateAccountLink mints a fresh single-use onboarding URL. Links expire
// provider-side, so each call produces a new one.
func (h *ConnectHandler) CreateAccountLink(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/validation", "email is required")
		return
	}

	link, url, err := h.onboarding.OnboardingURL(r.Context(), actorID.String(), req.Email)
	if err != nil {
		h.respondOnboardingError(w, r, err, "create account link")
		return
	}
	RespondJSON(w, http.StatusCreated, accountLinkResponse{Account: link, OnboardingURL: url})
}

// AccountStatus re-polls the provider and returns the refreshed capability
// flags for the caller's connected account.
func (h *ConnectHandler) AccountStatus(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	link, err := h.onboarding.RefreshStatus(r.Context(), actorID.String())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			RespondError(w, r, http.StatusNotFound, "connect/no-account", "no connected account; create one first")
			return
		}
		h.respondOnboardingError(w, r, err, "refresh account status")
		return
	}
	RespondJSON(w, http.StatusOK, accountLinkResponse{Account: link})
}

func (h *ConnectHandler) respondOnboardingError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		// Transient after bounded retries; the client should back off and retry.
		RespondError(w, r, http.StatusServiceUnavailable, "gateway/unavailable", "payment provider is temporarily unavailable")
	case errors.Is(err, gateway.ErrAuth), errors.Is(err, gateway.ErrValidation):
		zap.L().Error("onboarding gateway rejection", zap.String("op", op), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "gateway/rejected", "payment provider rejected the request")
	default:
		if status, ptype, msg, ok := mapServiceError(err); ok {
			RespondError(w, r, status, ptype, msg)
			return
		}
		zap.L().Error("onboarding failed", zap.String("op", op), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
	}
}
