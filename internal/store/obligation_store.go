package store

import (
	"context"
	"time"

	"plexledger/internal/models"
)

type ObligationStore struct {
	db DB
}

func NewObligationStore(db DB) *ObligationStore {
	return &ObligationStore{db: db}
}

const obligationColumns = `
	id, user_id, deposit_id, bonus_credit_id, daily_fee_required, cycle_start, next_payment_due,
	warning_due, block_due, status, total_paid, days_paid, warning_sent_at, warning_count,
	is_work_active, first_payment_at, last_payment_tx, updated_at
`

func (s *ObligationStore) Create(ctx context.Context, tx Execer, o models.PaymentObligation) error {
	if _, err := o.Holder(); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_obligations (
			id, user_id, deposit_id, bonus_credit_id, daily_fee_required, cycle_start,
			next_payment_due, warning_due, block_due, status, is_work_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, o.ID, o.UserID, o.DepositID, o.BonusCreditID, o.DailyFeeRequired, o.CycleStart,
		o.NextPaymentDue, o.WarningDue, o.BlockDue, o.Status, o.IsWorkActive)
	return err
}

func (s *ObligationStore) GetByID(ctx context.Context, id string) (models.PaymentObligation, error) {
	var o models.PaymentObligation
	err := s.db.GetContext(ctx, &o, `SELECT `+obligationColumns+` FROM payment_obligations WHERE id = $1`, id)
	return o, notFound(err)
}

func (s *ObligationStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.PaymentObligation, error) {
	var o models.PaymentObligation
	err := tx.GetContext(ctx, &o, `SELECT `+obligationColumns+` FROM payment_obligations WHERE id = $1 FOR UPDATE`, id)
	return o, notFound(err)
}

func (s *ObligationStore) GetByHolder(ctx context.Context, getter Getter, ref models.HolderRef) (models.PaymentObligation, error) {
	column := "deposit_id"
	if ref.Kind == models.HolderBonusCredit {
		column = "bonus_credit_id"
	}
	var o models.PaymentObligation
	err := getter.GetContext(ctx, &o, `SELECT `+obligationColumns+` FROM payment_obligations WHERE `+column+` = $1`, ref.ID)
	return o, notFound(err)
}

func (s *ObligationStore) ListByUser(ctx context.Context, userID string) ([]models.PaymentObligation, error) {
	var rows []models.PaymentObligation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+obligationColumns+`
		FROM payment_obligations
		WHERE user_id = $1
		ORDER BY cycle_start
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TrackCursor marks the last obligation of a ListTracked page. The zero value starts from the beginning.
type TrackCursor struct {
	Due time.Time
	ID  string
}

// After returns the cursor that follows o.
func (c TrackCursor) After(o models.PaymentObligation) TrackCursor {
	return TrackCursor{Due: o.NextPaymentDue, ID: o.ID}
}

// ListTracked returns one page of obligations whose holder can still accrue,
// soonest deadline first, strictly after the cursor.
func (s *ObligationStore) ListTracked(ctx context.Context, after TrackCursor, limit int) ([]models.PaymentObligation, error) {
	var rows []models.PaymentObligation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+prefixed("o", obligationColumns)+`
		FROM payment_obligations o
		LEFT JOIN deposits d ON d.id = o.deposit_id
		LEFT JOIN bonus_credits b ON b.id = o.bonus_credit_id
		WHERE (d.status IN ('confirmed', 'active') OR b.is_active)
		  AND ($1 = '' OR (o.next_payment_due, o.id) > ($2, $1))
		ORDER BY o.next_payment_due, o.id
		LIMIT $3
	`, after.ID, after.Due, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Save persists the tracker-owned fields of an obligation.
func (s *ObligationStore) Save(ctx context.Context, tx Execer, o models.PaymentObligation, now time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE payment_obligations
		SET cycle_start = $2,
		    next_payment_due = $3,
		    warning_due = $4,
		    block_due = $5,
		    status = $6,
		    total_paid = $7,
		    days_paid = GREATEST(days_paid, $8),
		    warning_sent_at = $9,
		    warning_count = $10,
		    is_work_active = $11,
		    first_payment_at = $12,
		    last_payment_tx = $13,
		    updated_at = $14
		WHERE id = $1
	`, o.ID, o.CycleStart, o.NextPaymentDue, o.WarningDue, o.BlockDue, o.Status, o.TotalPaid, o.DaysPaid,
		o.WarningSentAt, o.WarningCount, o.IsWorkActive, o.FirstPaymentAt, o.LastPaymentTx, now))
}

// CountBlocked counts the user's blocked obligations on live holders, optionally ignoring one.
// Obligations of archived deposits and cancelled bonus credits do not count.
func (s *ObligationStore) CountBlocked(ctx context.Context, getter Getter, userID, exceptID string) (int, error) {
	var count int
	err := getter.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM payment_obligations o
		LEFT JOIN deposits d ON d.id = o.deposit_id
		LEFT JOIN bonus_credits b ON b.id = o.bonus_credit_id
		WHERE o.user_id = $1 AND o.status = 'blocked' AND o.id <> $2
		  AND (d.status IN ('confirmed', 'active') OR b.is_active)
	`, userID, exceptID)
	return count, err
}

// SumDailyFees totals the daily fee over the user's tracked obligations.
func (s *ObligationStore) SumDailyFees(ctx context.Context, getter Getter, userID string) (models.FeeSummary, error) {
	var summary models.FeeSummary
	err := getter.GetContext(ctx, &summary, `
		SELECT COALESCE(SUM(o.daily_fee_required), 0) AS total_daily_fee,
		       COUNT(1) FILTER (WHERE o.status = 'blocked') AS blocked_count
		FROM payment_obligations o
		LEFT JOIN deposits d ON d.id = o.deposit_id
		LEFT JOIN bonus_credits b ON b.id = o.bonus_credit_id
		WHERE o.user_id = $1 AND (d.status IN ('confirmed', 'active') OR b.is_active)
	`, userID)
	return summary, err
}
