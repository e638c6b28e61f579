package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"plexledger/internal/accrual"
	"plexledger/internal/db"
	"plexledger/internal/metrics"
	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// OverrideService applies operator corrections. Each one is audited and must leave
// reward paid within the cap.
type OverrideService struct {
	txRunner db.TxRunner
	users    UserStore
	holders  HolderStore
	bonuses  BonusCreditStore
	audit    AuditStore
	log      *slog.Logger
	now      func() time.Time
}

func NewOverrideService(txRunner db.TxRunner, users UserStore, holders HolderStore, bonuses BonusCreditStore, audit AuditStore, log *slog.Logger) *OverrideService {
	if log == nil {
		log = slog.Default()
	}
	return &OverrideService{
		txRunner: txRunner,
		users:    users,
		holders:  holders,
		bonuses:  bonuses,
		audit:    audit,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func checkOverrideAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if err := money.Check(amount); err != nil {
		return ErrInvalidAmount
	}
	return nil
}

// SetROIPaid overwrites a holder's paid counter.
func (s *OverrideService) SetROIPaid(ctx context.Context, actorID string, ref models.HolderRef, paid decimal.Decimal, reason string) (models.Holder, error) {
	if err := checkOverrideAmount(paid); err != nil {
		return models.Holder{}, err
	}
	return s.override(ctx, actorID, ref, reason, "override_roi_paid", func(tx store.Tx, h models.Holder, at time.Time) error {
		if !accrual.WithinCap(paid, h.CapAmount) {
			return ErrCapInvariant
		}
		return s.holders.SetROIPaid(ctx, tx, ref, paid, at)
	})
}

// SetCapAmount overwrites a holder's cap. It may not drop below what was already paid.
func (s *OverrideService) SetCapAmount(ctx context.Context, actorID string, ref models.HolderRef, capAmount decimal.Decimal, reason string) (models.Holder, error) {
	if err := checkOverrideAmount(capAmount); err != nil {
		return models.Holder{}, err
	}
	return s.override(ctx, actorID, ref, reason, "override_cap_amount", func(tx store.Tx, h models.Holder, at time.Time) error {
		if !accrual.WithinCap(h.ROIPaid, capAmount) {
			return ErrCapInvariant
		}
		return s.holders.SetCapAmount(ctx, tx, ref, capAmount, at)
	})
}

func (s *OverrideService) override(ctx context.Context, actorID string, ref models.HolderRef, reason, action string, apply func(store.Tx, models.Holder, time.Time) error) (models.Holder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Holder{}, ErrReasonRequired
	}
	if err := ref.Validate(); err != nil {
		return models.Holder{}, err
	}
	var after models.Holder
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		before, err := s.holders.GetForUpdate(ctx, tx, ref)
		if err != nil {
			return err
		}
		if err := apply(tx, before, s.now()); err != nil {
			return err
		}
		after, err = s.holders.GetForUpdate(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !accrual.WithinCap(after.ROIPaid, after.CapAmount) {
			metrics.RecordInvariantViolation(action)
			return ErrCapInvariant
		}
		return s.audit.Log(ctx, tx, actorID, action, string(ref.Kind), ref.ID, map[string]any{
			"reason":          reason,
			"roi_paid_before": before.ROIPaid.String(),
			"roi_paid_after":  after.ROIPaid.String(),
			"cap_before":      before.CapAmount.String(),
			"cap_after":       after.CapAmount.String(),
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Holder{}, ErrHolderNotFound
		}
		return models.Holder{}, err
	}
	s.log.InfoContext(ctx, "holder override applied",
		slog.String("action", action),
		slog.String("holder", ref.String()),
		slog.String("actor_id", actorID),
	)
	return after, nil
}

// CancelBonusCredit deactivates a bonus credit so it stops accruing.
func (s *OverrideService) CancelBonusCredit(ctx context.Context, actorID, bonusCreditID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		bonus, err := s.bonuses.GetForUpdate(ctx, tx, bonusCreditID)
		if err != nil {
			return err
		}
		if !bonus.IsActive {
			return ErrBonusNotActive
		}
		if err := s.bonuses.Cancel(ctx, tx, bonusCreditID, actorID, reason, s.now()); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, actorID, "bonus_credit_cancelled", string(models.HolderBonusCredit), bonusCreditID, map[string]any{
			"reason":   reason,
			"user_id":  bonus.UserID,
			"roi_paid": bonus.ROIPaidAmount.String(),
		})
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrHolderNotFound
	}
	return err
}

type UserFlags struct {
	Banned            bool `json:"is_banned"`
	WithdrawalBlocked bool `json:"withdrawal_blocked"`
	EarningsBlocked   bool `json:"earnings_blocked"`
}

// SetUserFlags replaces a user's block flags. The withdrawal guard and accrual gates read them.
func (s *OverrideService) SetUserFlags(ctx context.Context, actorID, userID string, flags UserFlags, reason string) (models.User, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.User{}, ErrReasonRequired
	}
	var updated models.User
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		user, err := s.users.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		before := UserFlags{Banned: user.IsBanned, WithdrawalBlocked: user.WithdrawalBlocked, EarningsBlocked: user.EarningsBlocked}
		if err := s.users.SetFlags(ctx, tx, userID, flags.Banned, flags.WithdrawalBlocked, flags.EarningsBlocked); err != nil {
			return err
		}
		user.IsBanned, user.WithdrawalBlocked, user.EarningsBlocked = flags.Banned, flags.WithdrawalBlocked, flags.EarningsBlocked
		updated = user
		return s.audit.Log(ctx, tx, actorID, "user_flags_set", "user", userID, map[string]any{
			"before": before,
			"after":  flags,
			"reason": reason,
		})
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	s.log.InfoContext(ctx, "user flags updated",
		slog.String("user_id", userID),
		slog.String("actor_id", actorID),
		slog.Bool("banned", flags.Banned),
		slog.Bool("withdrawal_blocked", flags.WithdrawalBlocked),
		slog.Bool("earnings_blocked", flags.EarningsBlocked),
	)
	return updated, nil
}
