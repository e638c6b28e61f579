package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"plexledger/internal/accrual"
	"plexledger/internal/apperrors"
	"plexledger/internal/db"
	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/obligation"
	"plexledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var defaultBonusCapMultiplier = decimal.NewFromInt(5)

// HolderService opens new holders: confirmed deposits and granted bonus credits.
// Each gets its payment obligation in the same transaction.
type HolderService struct {
	txRunner      db.TxRunner
	users         UserStore
	deposits      DepositStore
	bonuses       BonusCreditStore
	obligations   ObligationStore
	audit         AuditStore
	levels        []models.Level
	plexPerDollar decimal.Decimal
	log           *slog.Logger
}

func NewHolderService(txRunner db.TxRunner, users UserStore, deposits DepositStore, bonuses BonusCreditStore, obligations ObligationStore, audit AuditStore, levels []models.Level, plexPerDollar decimal.Decimal, log *slog.Logger) *HolderService {
	if log == nil {
		log = slog.Default()
	}
	if len(levels) == 0 {
		levels = models.DefaultLevels
	}
	return &HolderService{
		txRunner:      txRunner,
		users:         users,
		deposits:      deposits,
		bonuses:       bonuses,
		obligations:   obligations,
		audit:         audit,
		levels:        levels,
		plexPerDollar: plexPerDollar,
		log:           log,
	}
}

type DepositInput struct {
	UserID      string
	Amount      decimal.Decimal
	TxHash      string
	ConfirmedAt time.Time
}

// ConfirmDeposit records a funded deposit. The amount must fall inside a level corridor.
func (s *HolderService) ConfirmDeposit(ctx context.Context, actorID string, in DepositInput) (models.Deposit, error) {
	if !in.Amount.IsPositive() || money.Check(in.Amount) != nil {
		return models.Deposit{}, ErrInvalidAmount
	}
	level, err := models.LevelFor(s.levels, in.Amount)
	if err != nil {
		return models.Deposit{}, apperrors.NewValidationError(fmt.Sprintf("deposit amount %s is outside every level corridor", in.Amount))
	}

	var deposit models.Deposit
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.users.GetForUpdate(ctx, tx, in.UserID); err != nil {
			return err
		}
		next := in.ConfirmedAt.Add(accrual.Day)
		deposit = models.Deposit{
			ID:                   uuid.NewString(),
			UserID:               in.UserID,
			Level:                level.Name,
			Amount:               in.Amount,
			ROIRate:              level.ROIRate,
			ROICapMultiplier:     level.CapMultiplier,
			ROICapAmount:         in.Amount.Mul(level.CapMultiplier),
			ROIPaidAmount:        decimal.Zero,
			Status:               models.DepositConfirmed,
			ConsolidatedTxHashes: models.StringList{},
			CycleStart:           in.ConfirmedAt,
			NextAccrualAt:        &next,
			CreatedAt:            in.ConfirmedAt,
		}
		if hash := strings.TrimSpace(in.TxHash); hash != "" {
			deposit.TxHash = &hash
		}
		if err := s.deposits.Create(ctx, tx, deposit); err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateDeposit
			}
			return err
		}
		o := obligation.New(uuid.NewString(), in.UserID, models.DepositRef(deposit.ID), obligation.DailyFee(in.Amount, s.plexPerDollar), in.ConfirmedAt)
		if err := s.obligations.Create(ctx, tx, o); err != nil {
			return err
		}
		if err := s.users.AddDeposited(ctx, tx, in.UserID, in.Amount); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, actorID, "deposit_confirmed", string(models.HolderDeposit), deposit.ID, map[string]any{
			"user_id":       in.UserID,
			"amount":        in.Amount.String(),
			"level":         level.Name,
			"tx_hash":       deposit.TxHash,
			"obligation_id": o.ID,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Deposit{}, ErrUserNotFound
		}
		return models.Deposit{}, err
	}
	s.log.InfoContext(ctx, "deposit confirmed",
		slog.String("user_id", in.UserID),
		slog.String("deposit_id", deposit.ID),
		slog.String("level", deposit.Level),
	)
	return deposit, nil
}

type BonusInput struct {
	UserID  string
	Amount  decimal.Decimal
	ROIRate decimal.Decimal
	Reason  string
	At      time.Time
}

// GrantBonus creates a bonus credit that earns like a deposit but does not count as principal.
func (s *HolderService) GrantBonus(ctx context.Context, actorID string, in BonusInput) (models.BonusCredit, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return models.BonusCredit{}, ErrReasonRequired
	}
	if !in.Amount.IsPositive() || money.Check(in.Amount) != nil || in.ROIRate.IsNegative() {
		return models.BonusCredit{}, ErrInvalidAmount
	}

	var bonus models.BonusCredit
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.users.GetForUpdate(ctx, tx, in.UserID); err != nil {
			return err
		}
		next := in.At.Add(accrual.Day)
		bonus = models.BonusCredit{
			ID:               uuid.NewString(),
			UserID:           in.UserID,
			Amount:           in.Amount,
			ROIRate:          in.ROIRate,
			ROICapMultiplier: defaultBonusCapMultiplier,
			ROICapAmount:     in.Amount.Mul(defaultBonusCapMultiplier),
			ROIPaidAmount:    decimal.Zero,
			NextAccrualAt:    &next,
			IsActive:         true,
			Reason:           reason,
			CreatedAt:        in.At,
		}
		if actorID != "" {
			bonus.GrantedBy = &actorID
		}
		if err := s.bonuses.Create(ctx, tx, bonus); err != nil {
			return err
		}
		o := obligation.New(uuid.NewString(), in.UserID, models.BonusCreditRef(bonus.ID), obligation.DailyFee(in.Amount, s.plexPerDollar), in.At)
		if err := s.obligations.Create(ctx, tx, o); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, actorID, "bonus_credit_granted", string(models.HolderBonusCredit), bonus.ID, map[string]any{
			"user_id":       in.UserID,
			"amount":        in.Amount.String(),
			"roi_rate":      in.ROIRate.String(),
			"reason":        reason,
			"obligation_id": o.ID,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.BonusCredit{}, ErrUserNotFound
		}
		return models.BonusCredit{}, err
	}
	return bonus, nil
}
