package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"plexledger/internal/apperrors"
	"plexledger/internal/db"
	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SessionService manages reward sessions. Running them belongs to AccrualService.
type SessionService struct {
	txRunner db.TxRunner
	sessions RewardSessionStore
	audit    AuditStore
}

func NewSessionService(txRunner db.TxRunner, sessions RewardSessionStore, audit AuditStore) *SessionService {
	return &SessionService{txRunner: txRunner, sessions: sessions, audit: audit}
}

type SessionInput struct {
	Name      string
	Rates     [5]decimal.Decimal
	StartDate time.Time
	EndDate   time.Time
}

func (in SessionInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.NewValidationError("session name is required")
	}
	if in.StartDate.IsZero() || !in.EndDate.After(in.StartDate) {
		return apperrors.NewValidationError("session end must be after its start")
	}
	for _, rate := range in.Rates {
		if rate.IsNegative() || money.Check(rate) != nil {
			return apperrors.NewValidationError("session rates must be non-negative")
		}
	}
	return nil
}

func (s *SessionService) Create(ctx context.Context, actorID string, in SessionInput) (models.RewardSession, error) {
	if err := in.validate(); err != nil {
		return models.RewardSession{}, err
	}
	session := models.RewardSession{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(in.Name),
		RateLevel1: in.Rates[0],
		RateLevel2: in.Rates[1],
		RateLevel3: in.Rates[2],
		RateLevel4: in.Rates[3],
		RateLevel5: in.Rates[4],
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		IsActive:   true,
	}
	if actorID != "" {
		session.CreatedBy = &actorID
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.sessions.Create(ctx, tx, session); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, actorID, "reward_session_created", "reward_session", session.ID, map[string]any{
			"name":       session.Name,
			"start_date": session.StartDate,
			"end_date":   session.EndDate,
		})
	})
	if err != nil {
		return models.RewardSession{}, err
	}
	return session, nil
}

func (s *SessionService) List(ctx context.Context, limit, offset int) ([]models.RewardSession, error) {
	return s.sessions.List(ctx, limit, offset)
}

func (s *SessionService) Get(ctx context.Context, id string) (models.RewardSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.RewardSession{}, ErrSessionNotFound
	}
	return session, err
}

func (s *SessionService) SetActive(ctx context.Context, actorID, id string, active bool) error {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.sessions.SetActive(ctx, tx, id, active); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, actorID, "reward_session_active_changed", "reward_session", id, map[string]any{
			"active": active,
		})
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
