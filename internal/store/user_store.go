package store

import (
	"context"
	"time"

	"plexledger/internal/models"

	"github.com/shopspring/decimal"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `
	id, telegram_id, wallet_address, work_status, plex_last_check_at, plex_last_balance,
	plex_insufficient_since, total_deposited, total_withdrawn, is_banned, withdrawal_blocked,
	earnings_blocked, deposits_consolidated, last_scanned_block, created_at
`

func (s *UserStore) Create(ctx context.Context, tx Execer, id string, telegramID *int64, walletAddress string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, telegram_id, wallet_address)
		VALUES ($1, $2, $3)
	`, id, telegramID, walletAddress)
	return err
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return user, notFound(err)
}

func (s *UserStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.User, error) {
	var user models.User
	err := tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	return user, notFound(err)
}

// ListWithObligations returns users that own at least one obligation on an accruing holder.
func (s *UserStore) ListWithObligations(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.SelectContext(ctx, &users, `
		SELECT `+userColumns+`
		FROM users u
		WHERE EXISTS (
			SELECT 1
			FROM payment_obligations o
			LEFT JOIN deposits d ON d.id = o.deposit_id
			LEFT JOIN bonus_credits b ON b.id = o.bonus_credit_id
			WHERE o.user_id = u.id
			  AND (d.status IN ('confirmed', 'active') OR b.is_active)
		)
		ORDER BY u.created_at
	`)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *UserStore) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := s.db.SelectContext(ctx, &users, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *UserStore) UpdateWorkStatus(ctx context.Context, tx Execer, userID string, status models.WorkStatus) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE users SET work_status = $2 WHERE id = $1
	`, userID, status))
}

// RecordFeeCheck stores the latest on-chain fee-token observation for a user.
func (s *UserStore) RecordFeeCheck(ctx context.Context, tx Execer, userID string, balance decimal.Decimal, checkedAt time.Time, insufficientSince *time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE users
		SET plex_last_balance = $2,
		    plex_last_check_at = $3,
		    plex_insufficient_since = $4
		WHERE id = $1
	`, userID, balance, checkedAt, insufficientSince))
}

func (s *UserStore) AddDeposited(ctx context.Context, tx Execer, userID string, amount decimal.Decimal) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE users SET total_deposited = total_deposited + $2 WHERE id = $1
	`, userID, amount))
}

func (s *UserStore) AddWithdrawn(ctx context.Context, tx Execer, userID string, amount decimal.Decimal) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE users SET total_withdrawn = total_withdrawn + $2 WHERE id = $1
	`, userID, amount))
}

func (s *UserStore) MarkConsolidated(ctx context.Context, tx Execer, userID string) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE users SET deposits_consolidated = true WHERE id = $1
	`, userID))
}

func (s *UserStore) UpdateLastScannedBlock(ctx context.Context, tx Execer, userID string, block int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET last_scanned_block = $2 WHERE id = $1 AND last_scanned_block < $2
	`, userID, block)
	return err
}

func (s *UserStore) SetFlags(ctx context.Context, tx Execer, userID string, banned, withdrawalBlocked, earningsBlocked bool) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE users
		SET is_banned = $2, withdrawal_blocked = $3, earnings_blocked = $4
		WHERE id = $1
	`, userID, banned, withdrawalBlocked, earningsBlocked))
}
