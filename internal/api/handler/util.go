package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/KDR9MGR/digital-payments-sub002/internal/api/middleware"
	"github.com/KDR9MGR/digital-payments-sub002/internal/api/problem"
	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/gateway"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == "admin", nil
}

// mapServiceError translates domain sentinels into HTTP problem responses.
// Anything unmapped falls through to the caller's 500 path.
func mapServiceError(err error) (status int, problemType, message string, ok bool) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "resource/not-found", "resource not found", true
	case errors.Is(err, models.ErrNotOnboarded):
		return http.StatusUnprocessableEntity, "payments/not-onboarded", "both parties must complete onboarding before transacting", true
	case errors.Is(err, models.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency/key-conflict", "idempotency key was already used with a different payload", true
	case errors.Is(err, service.ErrSameParty),
		errors.Is(err, service.ErrMissingKey),
		errors.Is(err, service.ErrMissingPaymentData),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "request/validation", err.Error(), true
	case errors.Is(err, gateway.ErrDeclined):
		// Declined charges still produce a transaction row; handlers that
		// reach here lacked one, so surface the decline directly.
		return http.StatusPaymentRequired, "payments/declined", "payment was declined", true
	default:
		// Constraint violations the repository did not translate still map
		// to a client-attributable status instead of a blanket 500.
		return mapDBError(err)
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
