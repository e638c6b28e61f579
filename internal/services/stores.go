package services

import (
	"context"
	"time"

	"plexledger/internal/config"
	"plexledger/internal/models"
	"plexledger/internal/store"

	"github.com/shopspring/decimal"
)

type UserStore interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.User, error)
	ListWithObligations(ctx context.Context) ([]models.User, error)
	UpdateWorkStatus(ctx context.Context, tx store.Execer, userID string, status models.WorkStatus) error
	RecordFeeCheck(ctx context.Context, tx store.Execer, userID string, balance decimal.Decimal, checkedAt time.Time, insufficientSince *time.Time) error
	AddDeposited(ctx context.Context, tx store.Execer, userID string, amount decimal.Decimal) error
	AddWithdrawn(ctx context.Context, tx store.Execer, userID string, amount decimal.Decimal) error
	MarkConsolidated(ctx context.Context, tx store.Execer, userID string) error
	UpdateLastScannedBlock(ctx context.Context, tx store.Execer, userID string, block int64) error
	SetFlags(ctx context.Context, tx store.Execer, userID string, banned, withdrawalBlocked, earningsBlocked bool) error
}

type HolderStore interface {
	Get(ctx context.Context, ref models.HolderRef) (models.Holder, error)
	GetForUpdate(ctx context.Context, tx store.Getter, ref models.HolderRef) (models.Holder, error)
	ListAccruable(ctx context.Context) ([]models.HolderRef, error)
	ApplyReward(ctx context.Context, tx store.Execer, ref models.HolderRef, paid decimal.Decimal, nextAccrualAt time.Time, completedAt *time.Time) error
	SetROIPaid(ctx context.Context, tx store.Execer, ref models.HolderRef, paid decimal.Decimal, at time.Time) error
	SetCapAmount(ctx context.Context, tx store.Execer, ref models.HolderRef, capAmount decimal.Decimal, at time.Time) error
}

type ObligationStore interface {
	Create(ctx context.Context, tx store.Execer, o models.PaymentObligation) error
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.PaymentObligation, error)
	GetByHolder(ctx context.Context, getter store.Getter, ref models.HolderRef) (models.PaymentObligation, error)
	ListTracked(ctx context.Context, after store.TrackCursor, limit int) ([]models.PaymentObligation, error)
	Save(ctx context.Context, tx store.Execer, o models.PaymentObligation, now time.Time) error
	CountBlocked(ctx context.Context, getter store.Getter, userID, exceptID string) (int, error)
	SumDailyFees(ctx context.Context, getter store.Getter, userID string) (models.FeeSummary, error)
}

type DepositStore interface {
	Create(ctx context.Context, tx store.Execer, d models.Deposit) error
	LockConsolidatable(ctx context.Context, tx store.Selecter, userID string) ([]models.Deposit, error)
	Archive(ctx context.Context, tx store.Execer, ids []string, supersededBy string) (int64, error)
	SumPrincipal(ctx context.Context, tx store.Getter, ids []string) (decimal.Decimal, error)
}

type BonusCreditStore interface {
	Create(ctx context.Context, tx store.Execer, b models.BonusCredit) error
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.BonusCredit, error)
	Cancel(ctx context.Context, tx store.Execer, id, actorID, reason string, at time.Time) error
}

type RewardStore interface {
	Insert(ctx context.Context, tx store.Execer, r models.RewardRecord) error
	ExistsForSession(ctx context.Context, getter store.Getter, ref models.HolderRef, sessionID string) (bool, error)
}

type RewardSessionStore interface {
	Create(ctx context.Context, tx store.Execer, rs models.RewardSession) error
	GetByID(ctx context.Context, id string) (models.RewardSession, error)
	List(ctx context.Context, limit, offset int) ([]models.RewardSession, error)
	SetActive(ctx context.Context, tx store.Execer, id string, active bool) error
	ListRunnable(ctx context.Context, at time.Time) ([]models.RewardSession, error)
	MarkStarted(ctx context.Context, tx store.Execer, id string, at time.Time) error
	MarkCompleted(ctx context.Context, tx store.Execer, id string, at time.Time) error
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx store.Execer, w models.Withdrawal) error
	SumSince(ctx context.Context, getter store.Getter, since time.Time) (decimal.Decimal, error)
}

type TransferStore interface {
	FilterProcessed(ctx context.Context, hashes []string) (map[string]bool, error)
	Record(ctx context.Context, tx store.Execer, t store.ProcessedTransfer) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
}

// LimitsSource serves the current hot-reloadable limits.
type LimitsSource interface {
	Limits() config.RuntimeLimits
}

type staticLimits config.RuntimeLimits

func (s staticLimits) Limits() config.RuntimeLimits {
	return config.RuntimeLimits(s)
}

// StaticLimits wraps fixed limits, mostly for the CLI and tests.
func StaticLimits(limits config.RuntimeLimits) LimitsSource {
	return staticLimits(limits)
}
