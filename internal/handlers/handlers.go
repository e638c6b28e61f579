package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"plexledger/internal/apperrors"
	"plexledger/internal/middleware"
	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/reports"
	"plexledger/internal/scheduler"
	"plexledger/internal/services"
	"plexledger/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func pagination(r *http.Request) (int, int) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	if limit > 500 {
		limit = 500
	}
	page := parseInt(query.Get("page"), 1)
	return limit, (page - 1) * limit
}

func actorID(r *http.Request) string {
	userID, _ := middleware.UserIDFromContext(r.Context())
	return userID
}

var notFoundErrors = []error{
	services.ErrUserNotFound,
	services.ErrHolderNotFound,
	services.ErrObligationNotFound,
	services.ErrSessionNotFound,
	reports.ErrSessionNotFound,
	scheduler.ErrUnknownTask,
}

var conflictErrors = []error{
	services.ErrAlreadyConsolidated,
	services.ErrNothingToConsolidate,
	services.ErrSessionInactive,
	services.ErrBonusNotActive,
	services.ErrTransferAlreadyApplied,
	services.ErrDuplicateDeposit,
	scheduler.ErrTaskLocked,
}

var badRequestErrors = []error{
	services.ErrPaymentTooSmall,
	services.ErrReasonRequired,
	services.ErrInvalidAmount,
	models.ErrHolderKind,
	models.ErrHolderMissing,
	money.ErrInvalidAmount,
	money.ErrNotPositive,
	money.ErrTooManyDecimals,
	money.ErrTooLarge,
	validator.ErrInvalidTxHash,
	validator.ErrInvalidWalletAddress,
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorStatus maps service outcomes to HTTP statuses. Anything unknown is a 500.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrCapInvariant):
		return http.StatusUnprocessableEntity, err.Error()
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound, err.Error()
	case matchesAny(err, conflictErrors):
		return http.StatusConflict, err.Error()
	case matchesAny(err, badRequestErrors):
		return http.StatusBadRequest, err.Error()
	}
	if appErr, ok := apperrors.As(err); ok {
		switch appErr.Code {
		case apperrors.CodeValidation:
			return http.StatusBadRequest, appErr.UserMessage
		case apperrors.CodeConflict:
			return http.StatusConflict, "concurrent update, retry the request"
		case apperrors.CodeExternal:
			return http.StatusBadGateway, "upstream dependency unavailable"
		case apperrors.CodeInvariant:
			return http.StatusUnprocessableEntity, "ledger invariant would be violated"
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError || status == http.StatusUnprocessableEntity {
		if h.errs != nil {
			h.errs.Handle(r.Context(), err)
		} else {
			h.log.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	}
	respondError(w, status, message)
}
