package handlers

import (
	"context"
	"net/http"
	"strings"

	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (h *Handler) Consolidate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	deposit, err := h.svc.Consolidation.Consolidate(r.Context(), userID, actorID(r), h.now())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, deposit)
}

type withdrawalRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

func (h *Handler) decodeWithdrawal(w http.ResponseWriter, r *http.Request) (withdrawalRequest, bool) {
	var req withdrawalRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return req, false
	}
	return req, true
}

func (h *Handler) AuthorizeWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeWithdrawal(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := h.svc.Withdrawals.Authorize(r.Context(), req.UserID, amount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// RequestWithdrawal persists the decision either way; a denial is still 201 with allowed=false.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeWithdrawal(w, r)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	withdrawal, decision, err := h.svc.Withdrawals.Request(r.Context(), req.UserID, amount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"withdrawal": withdrawal,
		"decision":   decision,
	})
}

type paymentRequest struct {
	HolderKind string `json:"holder_kind"`
	HolderID   string `json:"holder_id"`
	Amount     string `json:"amount"`
	TxHash     string `json:"tx_hash"`
	PaidAt     string `json:"paid_at"`
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	ref, err := parseHolderRef(req.HolderKind, req.HolderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	paidAt, err := parseTime(req.PaidAt, h.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	txHash, err := parseTxHash(req.TxHash)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.svc.Payments.RecordPayment(r.Context(), actorID(r), ref, amount, txHash, paidAt)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type depositRequest struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	TxHash      string `json:"tx_hash"`
	ConfirmedAt string `json:"confirmed_at"`
}

func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	confirmedAt, err := parseTime(req.ConfirmedAt, h.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	txHash, err := parseTxHash(req.TxHash)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	deposit, err := h.svc.Holders.ConfirmDeposit(r.Context(), actorID(r), services.DepositInput{
		UserID:      req.UserID,
		Amount:      amount,
		TxHash:      txHash,
		ConfirmedAt: confirmedAt,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, deposit)
}

type bonusRequest struct {
	UserID  string `json:"user_id"`
	Amount  string `json:"amount"`
	ROIRate string `json:"roi_rate"`
	Reason  string `json:"reason"`
}

func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	var req bonusRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rate, err := parseRate(req.ROIRate)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	bonus, err := h.svc.Holders.GrantBonus(r.Context(), actorID(r), services.BonusInput{
		UserID:  req.UserID,
		Amount:  amount,
		ROIRate: rate,
		Reason:  req.Reason,
		At:      h.now(),
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, bonus)
}

type overrideRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) SetROIPaid(w http.ResponseWriter, r *http.Request) {
	h.applyOverride(w, r, h.svc.Overrides.SetROIPaid)
}

func (h *Handler) SetCapAmount(w http.ResponseWriter, r *http.Request) {
	h.applyOverride(w, r, h.svc.Overrides.SetCapAmount)
}

type overrideFunc func(ctx context.Context, actorID string, ref models.HolderRef, amount decimal.Decimal, reason string) (models.Holder, error)

func (h *Handler) applyOverride(w http.ResponseWriter, r *http.Request, apply overrideFunc) {
	ref, err := parseHolderRef(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := parseNonNegative(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := apply(r.Context(), actorID(r), ref, amount, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, holderView(holder))
}

func holderView(holder models.Holder) map[string]any {
	return map[string]any{
		"holder_kind":     holder.Ref.Kind,
		"holder_id":       holder.Ref.ID,
		"user_id":         holder.UserID,
		"level":           holder.Level,
		"principal":       money.Format(holder.Principal),
		"roi_rate":        holder.ROIRate.String(),
		"roi_cap_amount":  money.Format(holder.CapAmount),
		"roi_paid_amount": money.Format(holder.ROIPaid),
		"remaining":       money.Format(holder.Remaining()),
		"roi_completed":   holder.ROICompleted,
		"next_accrual_at": holder.NextAccrualAt,
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelBonusCredit(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Overrides.CancelBonusCredit(r.Context(), actorID(r), id, req.Reason); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "bonus_credit_id": id})
}

type userFlagsRequest struct {
	IsBanned          bool   `json:"is_banned"`
	WithdrawalBlocked bool   `json:"withdrawal_blocked"`
	EarningsBlocked   bool   `json:"earnings_blocked"`
	Reason            string `json:"reason"`
}

func (h *Handler) SetUserFlags(w http.ResponseWriter, r *http.Request) {
	var req userFlagsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.svc.Overrides.SetUserFlags(r.Context(), actorID(r), chi.URLParam(r, "id"), services.UserFlags{
		Banned:            req.IsBanned,
		WithdrawalBlocked: req.WithdrawalBlocked,
		EarningsBlocked:   req.EarningsBlocked,
	}, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}
