package store

import (
	"context"
	"time"

	"plexledger/internal/models"

	"github.com/shopspring/decimal"
)

// HolderStore reads and writes the yield side of deposits and bonus credits through one shape.
type HolderStore struct {
	db DB
}

func NewHolderStore(db DB) *HolderStore {
	return &HolderStore{db: db}
}

type holderRow struct {
	ID            string          `db:"id"`
	UserID        string          `db:"user_id"`
	Level         string          `db:"level"`
	Principal     decimal.Decimal `db:"principal"`
	ROIRate       decimal.Decimal `db:"roi_rate"`
	CapAmount     decimal.Decimal `db:"roi_cap_amount"`
	ROIPaid       decimal.Decimal `db:"roi_paid_amount"`
	NextAccrualAt *time.Time      `db:"next_accrual_at"`
	Inactive      bool            `db:"inactive"`
	ROICompleted  bool            `db:"is_roi_completed"`
	CreatedAt     time.Time       `db:"created_at"`
}

const depositHolderSelect = `
	SELECT id, user_id, level, amount AS principal, roi_rate, roi_cap_amount, roi_paid_amount,
	       next_accrual_at, status NOT IN ('confirmed', 'active') AS inactive, is_roi_completed, created_at
	FROM deposits
	WHERE id = $1
`

const bonusHolderSelect = `
	SELECT id, user_id, '' AS level, amount AS principal, roi_rate, roi_cap_amount, roi_paid_amount,
	       next_accrual_at, NOT is_active AS inactive, is_roi_completed, created_at
	FROM bonus_credits
	WHERE id = $1
`

func holderTable(ref models.HolderRef) string {
	if ref.Kind == models.HolderBonusCredit {
		return "bonus_credits"
	}
	return "deposits"
}

func (s *HolderStore) Get(ctx context.Context, ref models.HolderRef) (models.Holder, error) {
	return s.get(ctx, s.db, ref, "")
}

func (s *HolderStore) GetForUpdate(ctx context.Context, tx Getter, ref models.HolderRef) (models.Holder, error) {
	return s.get(ctx, tx, ref, " FOR UPDATE")
}

func (s *HolderStore) get(ctx context.Context, getter Getter, ref models.HolderRef, suffix string) (models.Holder, error) {
	if err := ref.Validate(); err != nil {
		return models.Holder{}, err
	}
	query := depositHolderSelect
	if ref.Kind == models.HolderBonusCredit {
		query = bonusHolderSelect
	}
	var row holderRow
	if err := getter.GetContext(ctx, &row, query+suffix, ref.ID); err != nil {
		return models.Holder{}, notFound(err)
	}
	return models.Holder{
		Ref:           ref,
		UserID:        row.UserID,
		Level:         row.Level,
		Principal:     row.Principal,
		ROIRate:       row.ROIRate,
		CapAmount:     row.CapAmount,
		ROIPaid:       row.ROIPaid,
		NextAccrualAt: row.NextAccrualAt,
		Inactive:      row.Inactive,
		ROICompleted:  row.ROICompleted,
		CreatedAt:     row.CreatedAt,
	}, nil
}

type holderKey struct {
	Kind string `db:"kind"`
	ID   string `db:"id"`
}

// ListAccruable returns holders that can still earn, oldest first.
func (s *HolderStore) ListAccruable(ctx context.Context) ([]models.HolderRef, error) {
	var keys []holderKey
	err := s.db.SelectContext(ctx, &keys, `
		SELECT kind, id FROM (
			SELECT 'deposit' AS kind, id, created_at
			FROM deposits
			WHERE status IN ('confirmed', 'active') AND NOT is_roi_completed
			UNION ALL
			SELECT 'bonus_credit' AS kind, id, created_at
			FROM bonus_credits
			WHERE is_active AND NOT is_roi_completed
		) holders
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	refs := make([]models.HolderRef, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, models.HolderRef{Kind: models.HolderKind(key.Kind), ID: key.ID})
	}
	return refs, nil
}

// ApplyReward writes the new paid total and watermark; completedAt marks the cap as reached.
func (s *HolderStore) ApplyReward(ctx context.Context, tx Execer, ref models.HolderRef, paid decimal.Decimal, nextAccrualAt time.Time, completedAt *time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE `+holderTable(ref)+`
		SET roi_paid_amount = $2,
		    next_accrual_at = $3,
		    is_roi_completed = $4,
		    completed_at = COALESCE(completed_at, $5)
		WHERE id = $1
	`, ref.ID, paid, nextAccrualAt, completedAt != nil, completedAt))
}

// SetROIPaid overrides the paid counter; the completion flag follows the cap.
func (s *HolderStore) SetROIPaid(ctx context.Context, tx Execer, ref models.HolderRef, paid decimal.Decimal, at time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE `+holderTable(ref)+`
		SET roi_paid_amount = $2,
		    is_roi_completed = $2 >= roi_cap_amount,
		    completed_at = CASE WHEN $2 >= roi_cap_amount THEN COALESCE(completed_at, $3) ELSE NULL END
		WHERE id = $1
	`, ref.ID, paid, at))
}

func (s *HolderStore) SetCapAmount(ctx context.Context, tx Execer, ref models.HolderRef, capAmount decimal.Decimal, at time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE `+holderTable(ref)+`
		SET roi_cap_amount = $2,
		    is_roi_completed = roi_paid_amount >= $2,
		    completed_at = CASE WHEN roi_paid_amount >= $2 THEN COALESCE(completed_at, $3) ELSE NULL END
		WHERE id = $1
	`, ref.ID, capAmount, at))
}
