package handler

import (
	"encoding/json"
	"net/http"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
	"go.uber.org/zap"
)

// TransferHandler exposes P2P transfer initiation.
type TransferHandler struct {
	engine *service.OrchestrationEngine
}

func NewTransferHandler(engine *service.OrchestrationEngine) *TransferHandler {
	return &TransferHandler{engine: engine}
}

type initiateTransferRequest struct {
	RecipientUserID string `json:"recipient_user_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaymentMethodID string `json:"payment_method_id"`
}

// Initiate starts a P2P transfer. The sender is the authenticated caller and
// the Idempotency-Key header doubles as the transaction's natural key, so a
// retried request returns the original transaction instead of charging twice.
func (h *TransferHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var body initiateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return
	}

	tx, err := h.engine.InitiateTransfer(r.Context(), service.InitiateTransferRequest{
		SenderUserID:    actorID.String(),
		RecipientUserID: body.RecipientUserID,
		Amount:          body.Amount,
		Currency:        body.Currency,
		PaymentMethodID: body.PaymentMethodID,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		if status, ptype, msg, ok := mapServiceError(err); ok {
			RespondError(w, r, status, ptype, msg)
			return
		}
		zap.L().Error("initiate transfer failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	// A declined charge is a completed request with a failed transaction;
	// the caller reads the state, not the status code.
	status := http.StatusCreated
	if tx.State == domain.TxStateChargeFailed || tx.State == domain.TxStateTransferFailed {
		status = http.StatusOK
	}
	RespondJSON(w, status, tx)
}
