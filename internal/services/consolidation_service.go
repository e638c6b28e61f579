package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"plexledger/internal/accrual"
	"plexledger/internal/apperrors"
	"plexledger/internal/db"
	"plexledger/internal/metrics"
	"plexledger/internal/models"
	"plexledger/internal/obligation"
	"plexledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ConsolidationService merges a user's deposits into one.
type ConsolidationService struct {
	txRunner      db.TxRunner
	users         UserStore
	deposits      DepositStore
	obligations   ObligationStore
	audit         AuditStore
	levels        []models.Level
	plexPerDollar decimal.Decimal
	log           *slog.Logger
}

func NewConsolidationService(txRunner db.TxRunner, users UserStore, deposits DepositStore, obligations ObligationStore, audit AuditStore, levels []models.Level, plexPerDollar decimal.Decimal, log *slog.Logger) *ConsolidationService {
	if log == nil {
		log = slog.Default()
	}
	if len(levels) == 0 {
		levels = models.DefaultLevels
	}
	return &ConsolidationService{
		txRunner:      txRunner,
		users:         users,
		deposits:      deposits,
		obligations:   obligations,
		audit:         audit,
		levels:        levels,
		plexPerDollar: plexPerDollar,
		log:           log,
	}
}

// Consolidate replaces every open deposit of the user with a single deposit and obligation.
// Paid ROI carries over; originals are archived and point at the new deposit.
func (s *ConsolidationService) Consolidate(ctx context.Context, userID, actorID string, now time.Time) (models.Deposit, error) {
	var merged models.Deposit
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		user, err := s.users.GetForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if user.DepositsConsolidated {
			return ErrAlreadyConsolidated
		}

		originals, err := s.deposits.LockConsolidatable(ctx, tx, userID)
		if err != nil {
			return err
		}
		if len(originals) == 0 {
			return ErrNothingToConsolidate
		}

		total := decimal.Zero
		paid := decimal.Zero
		ids := make([]string, 0, len(originals))
		hashes := make([]string, 0, len(originals))
		workActive := false
		for _, d := range originals {
			total = total.Add(d.Amount)
			paid = paid.Add(d.ROIPaidAmount)
			ids = append(ids, d.ID)
			hashes = append(hashes, d.ConsolidatedTxHashes...)
			if d.TxHash != nil {
				hashes = append(hashes, *d.TxHash)
			}
			o, err := s.obligations.GetByHolder(ctx, tx, models.DepositRef(d.ID))
			switch {
			case err == nil:
				workActive = workActive || (o.IsWorkActive && o.Status != models.ObligationBlocked)
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		level, err := models.LevelForConsolidated(s.levels, total)
		if err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("consolidated amount %s: %v", total, err))
		}
		capAmount := total.Mul(level.CapMultiplier)
		next := now.Add(accrual.Day)
		merged = models.Deposit{
			ID:                   uuid.NewString(),
			UserID:               userID,
			Level:                level.Name,
			Amount:               total,
			ROIRate:              level.ROIRate,
			ROICapMultiplier:     level.CapMultiplier,
			ROICapAmount:         capAmount,
			ROIPaidAmount:        paid,
			IsROICompleted:       paid.GreaterThanOrEqual(capAmount),
			Status:               models.DepositActive,
			IsConsolidated:       true,
			ConsolidatedTxHashes: models.Union(hashes),
			CycleStart:           now,
			NextAccrualAt:        &next,
			CreatedAt:            now,
		}
		if err := s.deposits.Create(ctx, tx, merged); err != nil {
			return err
		}

		o := obligation.New(uuid.NewString(), userID, models.DepositRef(merged.ID), obligation.DailyFee(total, s.plexPerDollar), now)
		o.IsWorkActive = workActive
		if err := s.obligations.Create(ctx, tx, o); err != nil {
			return err
		}

		archived, err := s.deposits.Archive(ctx, tx, ids, merged.ID)
		if err != nil {
			return err
		}
		if archived != int64(len(ids)) {
			return consolidationInvariant(fmt.Sprintf("archived %d of %d deposits", archived, len(ids)))
		}
		stored, err := s.deposits.SumPrincipal(ctx, tx, ids)
		if err != nil {
			return err
		}
		if !stored.Equal(total) {
			return consolidationInvariant(fmt.Sprintf("stored principal %s differs from merged %s", stored, total))
		}

		if err := s.users.MarkConsolidated(ctx, tx, userID); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, actorID, "deposits_consolidated", "user", userID, map[string]any{
			"deposit_id":     merged.ID,
			"obligation_id":  o.ID,
			"originals":      ids,
			"total":          total.String(),
			"roi_paid":       paid.String(),
			"level":          level.Name,
			"work_inherited": workActive,
		})
	})
	if err != nil {
		return models.Deposit{}, err
	}
	s.log.InfoContext(ctx, "deposits consolidated",
		slog.String("user_id", userID),
		slog.String("deposit_id", merged.ID),
		slog.String("total", merged.Amount.String()),
	)
	return merged, nil
}

func consolidationInvariant(msg string) error {
	metrics.RecordInvariantViolation("consolidation")
	return apperrors.NewInvariantError(msg)
}
