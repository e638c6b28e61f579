package store

import (
	"context"

	"plexledger/internal/models"

	"github.com/shopspring/decimal"
)

type RewardStore struct {
	db DB
}

func NewRewardStore(db DB) *RewardStore {
	return &RewardStore{db: db}
}

const rewardColumns = `
	id, user_id, deposit_id, bonus_credit_id, reward_session_id, amount, rate, days,
	period_start, period_end, created_at
`

// Insert writes one reward record. A session-keyed duplicate surfaces as a unique violation.
func (s *RewardStore) Insert(ctx context.Context, tx Execer, r models.RewardRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reward_records (
			id, user_id, deposit_id, bonus_credit_id, reward_session_id, amount, rate, days,
			period_start, period_end
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.UserID, r.DepositID, r.BonusCreditID, r.RewardSessionID, r.Amount, r.Rate, r.Days,
		r.PeriodStart, r.PeriodEnd)
	return err
}

// ExistsForSession is a cheap pre-check; the unique index stays authoritative.
func (s *RewardStore) ExistsForSession(ctx context.Context, getter Getter, ref models.HolderRef, sessionID string) (bool, error) {
	column := "deposit_id"
	if ref.Kind == models.HolderBonusCredit {
		column = "bonus_credit_id"
	}
	var exists bool
	err := getter.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM reward_records WHERE `+column+` = $1 AND reward_session_id = $2
		)
	`, ref.ID, sessionID)
	return exists, err
}

func (s *RewardStore) ListBySession(ctx context.Context, sessionID string) ([]models.RewardRecord, error) {
	var rows []models.RewardRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+rewardColumns+`
		FROM reward_records
		WHERE reward_session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SumByHolder is used to reconcile a holder's paid counter against its records.
func (s *RewardStore) SumByHolder(ctx context.Context, getter Getter, ref models.HolderRef) (decimal.Decimal, error) {
	column := "deposit_id"
	if ref.Kind == models.HolderBonusCredit {
		column = "bonus_credit_id"
	}
	var total decimal.Decimal
	err := getter.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0) FROM reward_records WHERE `+column+` = $1
	`, ref.ID)
	return total, err
}
