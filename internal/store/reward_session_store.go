package store

import (
	"context"
	"time"

	"plexledger/internal/models"
)

type RewardSessionStore struct {
	db DB
}

func NewRewardSessionStore(db DB) *RewardSessionStore {
	return &RewardSessionStore{db: db}
}

const sessionColumns = `
	id, name, rate_level_1, rate_level_2, rate_level_3, rate_level_4, rate_level_5,
	start_date, end_date, is_active, created_by, started_at, completed_at, total_amount,
	record_count, created_at
`

func (s *RewardSessionStore) Create(ctx context.Context, tx Execer, rs models.RewardSession) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reward_sessions (
			id, name, rate_level_1, rate_level_2, rate_level_3, rate_level_4, rate_level_5,
			start_date, end_date, is_active, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rs.ID, rs.Name, rs.RateLevel1, rs.RateLevel2, rs.RateLevel3, rs.RateLevel4, rs.RateLevel5,
		rs.StartDate, rs.EndDate, rs.IsActive, rs.CreatedBy)
	return err
}

func (s *RewardSessionStore) GetByID(ctx context.Context, id string) (models.RewardSession, error) {
	var rs models.RewardSession
	err := s.db.GetContext(ctx, &rs, `SELECT `+sessionColumns+` FROM reward_sessions WHERE id = $1`, id)
	return rs, notFound(err)
}

func (s *RewardSessionStore) List(ctx context.Context, limit, offset int) ([]models.RewardSession, error) {
	var rows []models.RewardSession
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+`
		FROM reward_sessions
		ORDER BY start_date DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListRunnable returns active, unfinished sessions that have started by at.
func (s *RewardSessionStore) ListRunnable(ctx context.Context, at time.Time) ([]models.RewardSession, error) {
	var rows []models.RewardSession
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+sessionColumns+`
		FROM reward_sessions
		WHERE is_active AND completed_at IS NULL AND start_date <= $1
		ORDER BY start_date
	`, at)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *RewardSessionStore) MarkStarted(ctx context.Context, tx Execer, id string, at time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE reward_sessions SET started_at = COALESCE(started_at, $2) WHERE id = $1
	`, id, at))
}

// MarkCompleted refreshes totals from the records so reruns stay accurate.
func (s *RewardSessionStore) MarkCompleted(ctx context.Context, tx Execer, id string, at time.Time) error {
	return expectOne(tx.ExecContext(ctx, `
		UPDATE reward_sessions rs
		SET completed_at = $2,
		    total_amount = totals.total_amount,
		    record_count = totals.record_count
		FROM (
			SELECT COALESCE(SUM(amount), 0) AS total_amount, COUNT(1) AS record_count
			FROM reward_records
			WHERE reward_session_id = $1
		) totals
		WHERE rs.id = $1
	`, id, at))
}

func (s *RewardSessionStore) SetActive(ctx context.Context, tx Execer, id string, active bool) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE reward_sessions SET is_active = $2 WHERE id = $1`, id, active))
}
