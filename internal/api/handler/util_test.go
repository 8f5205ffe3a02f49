package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/KDR9MGR/digital-payments-sub002/internal/domain"
	"github.com/KDR9MGR/digital-payments-sub002/internal/models"
	"github.com/KDR9MGR/digital-payments-sub002/internal/service"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantOK     bool
	}{
		{"not found", models.ErrNotFound, http.StatusNotFound, "resource/not-found", true},
		{"not onboarded", models.ErrNotOnboarded, http.StatusUnprocessableEntity, "payments/not-onboarded", true},
		{"key conflict", models.ErrIdempotencyConflict, http.StatusConflict, "idempotency/key-conflict", true},
		{"same party", service.ErrSameParty, http.StatusBadRequest, "request/validation", true},
		{"bad amount", fmt.Errorf("%w, got -5", domain.ErrInvalidAmount), http.StatusBadRequest, "request/validation", true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, http.StatusConflict, "db/unique-violation", true},
		{"check violation", &pgconn.PgError{Code: "23514"}, http.StatusBadRequest, "db/check-violation", true},
		{"unknown pg code", &pgconn.PgError{Code: "57014"}, 0, "", false},
		{"unmapped", errors.New("boom"), 0, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, ptype, _, ok := mapServiceError(tc.err)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantType, ptype)
		})
	}
}
