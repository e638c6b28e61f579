package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"plexledger/internal/apperrors"
	"plexledger/internal/config"
	"plexledger/internal/db"
	"plexledger/internal/metrics"
	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/notify"
	"plexledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type DenyReason string

const (
	DenyEmergencyStop DenyReason = "emergency_stop"
	DenyBelowMinimum  DenyReason = "below_minimum"
	DenyUserBlocked   DenyReason = "user_blocked"
	DenyNoPrincipal   DenyReason = "no_principal"
	DenyCapExceeded   DenyReason = "cap_exceeded"
	DenyDailyLimit    DenyReason = "daily_limit"
)

const dailyWindow = 24 * time.Hour

type Decision struct {
	Allowed   bool            `json:"allowed"`
	Reason    DenyReason      `json:"reason,omitempty"`
	MaxPayout decimal.Decimal `json:"max_payout"`
	Remaining decimal.Decimal `json:"remaining"`
}

// GuardInput is everything Evaluate looks at, already read from storage.
type GuardInput struct {
	User          models.User
	Amount        decimal.Decimal
	PlatformToday decimal.Decimal
	Limits        config.RuntimeLimits
}

// Evaluate applies the payout checks in order; the first failing one decides.
func Evaluate(in GuardInput) Decision {
	maxPayout := in.User.TotalDeposited.Mul(in.Limits.PayoutMultiplier)
	remaining := maxPayout.Sub(in.User.TotalWithdrawn)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	decision := Decision{MaxPayout: maxPayout, Remaining: remaining}

	switch {
	case in.Limits.WithdrawalEmergencyStop:
		decision.Reason = DenyEmergencyStop
	case in.Amount.LessThan(in.Limits.MinWithdrawal):
		decision.Reason = DenyBelowMinimum
	case in.User.IsBanned || in.User.WithdrawalBlocked:
		decision.Reason = DenyUserBlocked
	case !in.User.TotalDeposited.IsPositive():
		decision.Reason = DenyNoPrincipal
	case in.User.TotalWithdrawn.Add(in.Amount).GreaterThan(maxPayout):
		decision.Reason = DenyCapExceeded
	case in.Limits.DailyLimitEnabled && in.PlatformToday.Add(in.Amount).GreaterThan(in.Limits.DailyWithdrawalLimit):
		decision.Reason = DenyDailyLimit
	default:
		decision.Allowed = true
	}
	return decision
}

// WithdrawalGuard enforces the lifetime payout cap and the platform limits.
type WithdrawalGuard struct {
	txRunner    db.TxRunner
	users       UserStore
	withdrawals WithdrawalStore
	audit       AuditStore
	limits      LimitsSource
	dispatcher  *notify.Dispatcher
	log         *slog.Logger
	now         func() time.Time
}

func NewWithdrawalGuard(txRunner db.TxRunner, users UserStore, withdrawals WithdrawalStore, audit AuditStore, limits LimitsSource, dispatcher *notify.Dispatcher, log *slog.Logger) *WithdrawalGuard {
	if log == nil {
		log = slog.Default()
	}
	return &WithdrawalGuard{
		txRunner:    txRunner,
		users:       users,
		withdrawals: withdrawals,
		audit:       audit,
		limits:      limits,
		dispatcher:  dispatcher,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func validateWithdrawalAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewValidationError("withdrawal amount must be positive")
	}
	if err := money.Check(amount); err != nil {
		return apperrors.NewValidationError("withdrawal amount: " + err.Error())
	}
	return nil
}

// Authorize answers whether amount may be paid out now, without recording anything.
func (g *WithdrawalGuard) Authorize(ctx context.Context, userID string, amount decimal.Decimal) (Decision, error) {
	if err := validateWithdrawalAmount(amount); err != nil {
		return Decision{}, err
	}
	var decision Decision
	err := g.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		decision, _, err = g.evaluate(ctx, tx, userID, amount)
		return err
	})
	if err != nil {
		return Decision{}, err
	}
	metrics.RecordWithdrawalDecision(string(decision.Reason))
	return decision, nil
}

// Request runs the same checks and records the withdrawal as approved or denied.
func (g *WithdrawalGuard) Request(ctx context.Context, userID string, amount decimal.Decimal) (models.Withdrawal, Decision, error) {
	if err := validateWithdrawalAmount(amount); err != nil {
		return models.Withdrawal{}, Decision{}, err
	}
	var decision Decision
	var withdrawal models.Withdrawal
	var limits config.RuntimeLimits
	err := g.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		decision, limits, err = g.evaluate(ctx, tx, userID, amount)
		if err != nil {
			return err
		}

		withdrawal = models.Withdrawal{
			ID:           uuid.NewString(),
			UserID:       userID,
			Amount:       amount,
			Status:       models.WithdrawalDenied,
			AutoApproved: decision.Allowed,
			CreatedAt:    g.now(),
		}
		if decision.Allowed {
			withdrawal.Status = models.WithdrawalApproved
		} else {
			reason := string(decision.Reason)
			withdrawal.Reason = &reason
		}
		if err := g.withdrawals.Create(ctx, tx, withdrawal); err != nil {
			return err
		}
		if decision.Allowed {
			if err := g.users.AddWithdrawn(ctx, tx, userID, amount); err != nil {
				return err
			}
		}
		return g.audit.Log(ctx, tx, "", "withdrawal_"+string(withdrawal.Status), "withdrawal", withdrawal.ID, map[string]any{
			"user_id":    userID,
			"amount":     amount.String(),
			"reason":     decision.Reason,
			"max_payout": decision.MaxPayout.String(),
			"remaining":  decision.Remaining.String(),
		})
	})
	if err != nil {
		return models.Withdrawal{}, Decision{}, err
	}

	metrics.RecordWithdrawalDecision(string(decision.Reason))
	if decision.Allowed && limits.LargeWithdrawalThreshold.IsPositive() && amount.GreaterThanOrEqual(limits.LargeWithdrawalThreshold) {
		g.dispatcher.Send(ctx, notify.Event{Kind: notify.KindWithdrawalLarge, UserID: userID}.WithAmount(amount))
	}
	g.log.InfoContext(ctx, "withdrawal decided",
		slog.String("user_id", userID),
		slog.String("withdrawal_id", withdrawal.ID),
		slog.Bool("allowed", decision.Allowed),
		slog.String("reason", string(decision.Reason)),
	)
	return withdrawal, decision, nil
}

func (g *WithdrawalGuard) evaluate(ctx context.Context, tx store.Tx, userID string, amount decimal.Decimal) (Decision, config.RuntimeLimits, error) {
	limits := g.limits.Limits()
	user, err := g.users.GetForUpdate(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Decision{}, limits, ErrUserNotFound
		}
		return Decision{}, limits, err
	}
	today := decimal.Zero
	if limits.DailyLimitEnabled {
		today, err = g.withdrawals.SumSince(ctx, tx, g.now().Add(-dailyWindow))
		if err != nil {
			return Decision{}, limits, err
		}
	}
	return Evaluate(GuardInput{User: user, Amount: amount, PlatformToday: today, Limits: limits}), limits, nil
}
