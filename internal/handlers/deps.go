package handlers

import (
	"context"
	"time"

	"plexledger/internal/models"
	"plexledger/internal/reports"
	"plexledger/internal/services"

	"github.com/shopspring/decimal"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

type AuditStore interface {
	List(ctx context.Context, entityType string, limit, offset int) ([]models.AuditEntry, error)
}

type TaskRunner interface {
	Names() []string
	RunNow(ctx context.Context, name string) (any, error)
}

type Consolidator interface {
	Consolidate(ctx context.Context, userID, actorID string, now time.Time) (models.Deposit, error)
}

type WithdrawalGuard interface {
	Authorize(ctx context.Context, userID string, amount decimal.Decimal) (services.Decision, error)
	Request(ctx context.Context, userID string, amount decimal.Decimal) (models.Withdrawal, services.Decision, error)
}

type PaymentRecorder interface {
	RecordPayment(ctx context.Context, actorID string, ref models.HolderRef, amount decimal.Decimal, txHash string, at time.Time) (models.PaymentObligation, error)
}

type HolderService interface {
	ConfirmDeposit(ctx context.Context, actorID string, in services.DepositInput) (models.Deposit, error)
	GrantBonus(ctx context.Context, actorID string, in services.BonusInput) (models.BonusCredit, error)
}

type OverrideService interface {
	SetROIPaid(ctx context.Context, actorID string, ref models.HolderRef, paid decimal.Decimal, reason string) (models.Holder, error)
	SetCapAmount(ctx context.Context, actorID string, ref models.HolderRef, capAmount decimal.Decimal, reason string) (models.Holder, error)
	CancelBonusCredit(ctx context.Context, actorID, bonusCreditID, reason string) error
	SetUserFlags(ctx context.Context, actorID, userID string, flags services.UserFlags, reason string) (models.User, error)
}

type SessionService interface {
	Create(ctx context.Context, actorID string, in services.SessionInput) (models.RewardSession, error)
	List(ctx context.Context, limit, offset int) ([]models.RewardSession, error)
	Get(ctx context.Context, id string) (models.RewardSession, error)
	SetActive(ctx context.Context, actorID, id string, active bool) error
}

type SessionRunner interface {
	RunSession(ctx context.Context, sessionID string, asOf time.Time) (services.RunSummary, error)
}

type ReportExporter interface {
	Export(ctx context.Context, sessionID string) (reports.Result, error)
}
