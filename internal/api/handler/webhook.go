package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
	"go.uber.org/zap"
)

// webhookBodyLimit caps webhook payload size; provider events are a few KB.
const webhookBodyLimit = 1 << 20

// WebhookHandler receives provider event deliveries. Signature verification
// happens over the exact raw bytes, so the body must not be decoded before
// the reconciler sees it.
type WebhookHandler struct {
	reconciler *service.WebhookReconciler
}

func NewWebhookHandler(reconciler *service.WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// Receive handles one delivery. Only a bad signature earns a non-2xx:
// unrecognized or already-applied events are acked so the provider stops
// retrying them.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "failed to read request body")
		return
	}

	outcome, err := h.reconciler.Handle(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrUnauthorizedWebhook) {
			RespondError(w, r, http.StatusUnauthorized, "webhook/bad-signature", "webhook signature verification failed")
			return
		}
		// Transient failure: non-2xx asks the provider to redeliver.
		zap.L().Error("webhook processing failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"outcome": outcome})
}
