package store

import (
	"context"
	"time"

	"plexledger/internal/models"

	"github.com/shopspring/decimal"
)

type WithdrawalStore struct {
	db DB
}

func NewWithdrawalStore(db DB) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

func (s *WithdrawalStore) Create(ctx context.Context, tx Execer, w models.Withdrawal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, user_id, amount, status, reason, auto_approved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.ID, w.UserID, w.Amount, w.Status, w.Reason, w.AutoApproved, w.CreatedAt)
	return err
}

// SumSince totals non-denied withdrawals across the platform from since onward.
func (s *WithdrawalStore) SumSince(ctx context.Context, getter Getter, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := getter.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE status <> 'denied' AND created_at >= $1
	`, since)
	return total, err
}

func (s *WithdrawalStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	var rows []models.Withdrawal
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, amount, status, reason, auto_approved, created_at
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
