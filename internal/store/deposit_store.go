package store

import (
	"context"

	"plexledger/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type DepositStore struct {
	db DB
}

func NewDepositStore(db DB) *DepositStore {
	return &DepositStore{db: db}
}

const depositColumns = `
	id, user_id, level, amount, roi_rate, roi_cap_multiplier, roi_cap_amount, roi_paid_amount,
	is_roi_completed, completed_at, status, tx_hash, is_consolidated, consolidated_tx_hashes,
	superseded_by, cycle_start, next_accrual_at, created_at
`

func (s *DepositStore) Create(ctx context.Context, tx Execer, d models.Deposit) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (
			id, user_id, level, amount, roi_rate, roi_cap_multiplier, roi_cap_amount, roi_paid_amount,
			status, tx_hash, is_consolidated, consolidated_tx_hashes, cycle_start, next_accrual_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, d.ID, d.UserID, d.Level, d.Amount, d.ROIRate, d.ROICapMultiplier, d.ROICapAmount, d.ROIPaidAmount,
		d.Status, d.TxHash, d.IsConsolidated, d.ConsolidatedTxHashes, d.CycleStart, d.NextAccrualAt)
	return err
}

func (s *DepositStore) GetByID(ctx context.Context, id string) (models.Deposit, error) {
	var d models.Deposit
	err := s.db.GetContext(ctx, &d, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id)
	return d, notFound(err)
}

func (s *DepositStore) ListByUser(ctx context.Context, userID string) ([]models.Deposit, error) {
	var rows []models.Deposit
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LockConsolidatable locks every confirmed or active deposit of the user that has not
// already been merged.
func (s *DepositStore) LockConsolidatable(ctx context.Context, tx Selecter, userID string) ([]models.Deposit, error) {
	var rows []models.Deposit
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE user_id = $1
		  AND status IN ('confirmed', 'active')
		  AND superseded_by IS NULL
		ORDER BY created_at, id
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Archive marks originals as superseded and returns how many rows changed.
func (s *DepositStore) Archive(ctx context.Context, tx Execer, ids []string, supersededBy string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET status = 'archived', superseded_by = $2
		WHERE id = ANY($1) AND status IN ('confirmed', 'active')
	`, pq.Array(ids), supersededBy)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SumPrincipal totals the principal of the given deposits as the database sees it.
func (s *DepositStore) SumPrincipal(ctx context.Context, tx Getter, ids []string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0) FROM deposits WHERE id = ANY($1)
	`, pq.Array(ids))
	return total, err
}
