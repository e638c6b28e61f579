package store

import (
	"context"
	"time"

	"plexledger/internal/models"
)

type BonusCreditStore struct {
	db DB
}

func NewBonusCreditStore(db DB) *BonusCreditStore {
	return &BonusCreditStore{db: db}
}

const bonusCreditColumns = `
	id, user_id, amount, roi_rate, roi_cap_multiplier, roi_cap_amount, roi_paid_amount,
	next_accrual_at, is_active, is_roi_completed, reason, granted_by, completed_at,
	cancelled_at, cancelled_by, cancel_reason, created_at
`

func (s *BonusCreditStore) Create(ctx context.Context, tx Execer, b models.BonusCredit) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bonus_credits (
			id, user_id, amount, roi_rate, roi_cap_multiplier, roi_cap_amount,
			next_accrual_at, is_active, reason, granted_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $9)
	`, b.ID, b.UserID, b.Amount, b.ROIRate, b.ROICapMultiplier, b.ROICapAmount, b.NextAccrualAt, b.Reason, b.GrantedBy)
	return err
}

func (s *BonusCreditStore) GetByID(ctx context.Context, id string) (models.BonusCredit, error) {
	var b models.BonusCredit
	err := s.db.GetContext(ctx, &b, `SELECT `+bonusCreditColumns+` FROM bonus_credits WHERE id = $1`, id)
	return b, notFound(err)
}

func (s *BonusCreditStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.BonusCredit, error) {
	var b models.BonusCredit
	err := tx.GetContext(ctx, &b, `SELECT `+bonusCreditColumns+` FROM bonus_credits WHERE id = $1 FOR UPDATE`, id)
	return b, notFound(err)
}

func (s *BonusCreditStore) ListByUser(ctx context.Context, userID string) ([]models.BonusCredit, error) {
	var rows []models.BonusCredit
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+bonusCreditColumns+`
		FROM bonus_credits
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *BonusCreditStore) Cancel(ctx context.Context, tx Execer, id, actorID, reason string, at time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE bonus_credits
		SET is_active = false, cancelled_at = $2, cancelled_by = $3, cancel_reason = $4
		WHERE id = $1 AND is_active
	`, id, at, actorID, reason))
}
