package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransactionHandler serves transaction reads for the authenticated user.
type TransactionHandler struct {
	engine *service.OrchestrationEngine
}

func NewTransactionHandler(engine *service.OrchestrationEngine) *TransactionHandler {
	return &TransactionHandler{engine: engine}
}

// Get returns a single transaction. Only a party to the transaction (or an
// admin) may read it.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation", "invalid transaction id")
		return
	}

	tx, err := h.engine.GetTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			RespondError(w, r, http.StatusNotFound, "resource/not-found", "transaction not found")
			return
		}
		zap.L().Error("get transaction failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	actor := actorID.String()
	if !isAdmin && tx.SenderUserID != actor && tx.RecipientUserID != actor {
		// Hide existence from non-parties.
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "transaction not found")
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// List returns the caller's transactions, newest first.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	limit := parseQueryInt(r, "limit", 20, 1, 100)
	offset := parseQueryInt(r, "offset", 0, 0, 1<<30)

	txs, err := h.engine.ListTransactions(r.Context(), actorID.String(), limit, offset)
	if err != nil {
		zap.L().Error("list transactions failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

func parseQueryInt(r *http.Request, name string, def, min, max int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return def
	}
	n := int32(v)
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
