package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPendingConfirmation DepositStatus = "pending_confirmation"
	DepositConfirmed           DepositStatus = "confirmed"
	DepositActive              DepositStatus = "active"
	DepositClosed              DepositStatus = "closed"
	DepositCancelled           DepositStatus = "cancelled"
	DepositArchived            DepositStatus = "archived"
)

// Accruing reports whether a deposit in this status may still earn.
func (s DepositStatus) Accruing() bool {
	return s == DepositConfirmed || s == DepositActive
}

type ObligationStatus string

const (
	ObligationActive  ObligationStatus = "active"
	ObligationWarning ObligationStatus = "warning"
	ObligationBlocked ObligationStatus = "blocked"
	ObligationPaid    ObligationStatus = "paid"
)

type WorkStatus string

const (
	WorkActive             WorkStatus = "active"
	WorkSuspendedNoFee     WorkStatus = "suspended_no_fee"
	WorkSuspendedNoPayment WorkStatus = "suspended_no_payment"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalDenied   WithdrawalStatus = "denied"
)

type User struct {
	ID                    string          `db:"id" json:"id"`
	TelegramID            *int64          `db:"telegram_id" json:"telegram_id,omitempty"`
	WalletAddress         string          `db:"wallet_address" json:"wallet_address"`
	WorkStatus            WorkStatus      `db:"work_status" json:"work_status"`
	PlexLastCheckAt       *time.Time      `db:"plex_last_check_at" json:"plex_last_check_at,omitempty"`
	PlexLastBalance       decimal.Decimal `db:"plex_last_balance" json:"plex_last_balance"`
	PlexInsufficientSince *time.Time      `db:"plex_insufficient_since" json:"plex_insufficient_since,omitempty"`
	TotalDeposited        decimal.Decimal `db:"total_deposited" json:"total_deposited"`
	TotalWithdrawn        decimal.Decimal `db:"total_withdrawn" json:"total_withdrawn"`
	IsBanned              bool            `db:"is_banned" json:"is_banned"`
	WithdrawalBlocked     bool            `db:"withdrawal_blocked" json:"withdrawal_blocked"`
	EarningsBlocked       bool            `db:"earnings_blocked" json:"earnings_blocked"`
	DepositsConsolidated  bool            `db:"deposits_consolidated" json:"deposits_consolidated"`
	LastScannedBlock      int64           `db:"last_scanned_block" json:"last_scanned_block"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

type Deposit struct {
	ID                   string          `db:"id" json:"id"`
	UserID               string          `db:"user_id" json:"user_id"`
	Level                string          `db:"level" json:"level"`
	Amount               decimal.Decimal `db:"amount" json:"amount"`
	ROIRate              decimal.Decimal `db:"roi_rate" json:"roi_rate"`
	ROICapMultiplier     decimal.Decimal `db:"roi_cap_multiplier" json:"roi_cap_multiplier"`
	ROICapAmount         decimal.Decimal `db:"roi_cap_amount" json:"roi_cap_amount"`
	ROIPaidAmount        decimal.Decimal `db:"roi_paid_amount" json:"roi_paid_amount"`
	IsROICompleted       bool            `db:"is_roi_completed" json:"is_roi_completed"`
	CompletedAt          *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	Status               DepositStatus   `db:"status" json:"status"`
	TxHash               *string         `db:"tx_hash" json:"tx_hash,omitempty"`
	IsConsolidated       bool            `db:"is_consolidated" json:"is_consolidated"`
	ConsolidatedTxHashes StringList      `db:"consolidated_tx_hashes" json:"consolidated_tx_hashes"`
	SupersededBy         *string         `db:"superseded_by" json:"superseded_by,omitempty"`
	CycleStart           time.Time       `db:"cycle_start" json:"cycle_start"`
	NextAccrualAt        *time.Time      `db:"next_accrual_at" json:"next_accrual_at,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}

type BonusCredit struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"user_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	ROIRate          decimal.Decimal `db:"roi_rate" json:"roi_rate"`
	ROICapMultiplier decimal.Decimal `db:"roi_cap_multiplier" json:"roi_cap_multiplier"`
	ROICapAmount     decimal.Decimal `db:"roi_cap_amount" json:"roi_cap_amount"`
	ROIPaidAmount    decimal.Decimal `db:"roi_paid_amount" json:"roi_paid_amount"`
	NextAccrualAt    *time.Time      `db:"next_accrual_at" json:"next_accrual_at,omitempty"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	IsROICompleted   bool            `db:"is_roi_completed" json:"is_roi_completed"`
	Reason           string          `db:"reason" json:"reason"`
	GrantedBy        *string         `db:"granted_by" json:"granted_by,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt      *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy      *string         `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason     *string         `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

type PaymentObligation struct {
	ID               string           `db:"id" json:"id"`
	UserID           string           `db:"user_id" json:"user_id"`
	DepositID        *string          `db:"deposit_id" json:"deposit_id,omitempty"`
	BonusCreditID    *string          `db:"bonus_credit_id" json:"bonus_credit_id,omitempty"`
	DailyFeeRequired decimal.Decimal  `db:"daily_fee_required" json:"daily_fee_required"`
	CycleStart       time.Time        `db:"cycle_start" json:"cycle_start"`
	NextPaymentDue   time.Time        `db:"next_payment_due" json:"next_payment_due"`
	WarningDue       time.Time        `db:"warning_due" json:"warning_due"`
	BlockDue         time.Time        `db:"block_due" json:"block_due"`
	Status           ObligationStatus `db:"status" json:"status"`
	TotalPaid        decimal.Decimal  `db:"total_paid" json:"total_paid"`
	DaysPaid         int              `db:"days_paid" json:"days_paid"`
	WarningSentAt    *time.Time       `db:"warning_sent_at" json:"warning_sent_at,omitempty"`
	WarningCount     int              `db:"warning_count" json:"warning_count"`
	IsWorkActive     bool             `db:"is_work_active" json:"is_work_active"`
	FirstPaymentAt   *time.Time       `db:"first_payment_at" json:"first_payment_at,omitempty"`
	LastPaymentTx    *string          `db:"last_payment_tx" json:"last_payment_tx,omitempty"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Holder resolves the obligation's owner from its nullable key pair.
func (o PaymentObligation) Holder() (HolderRef, error) {
	return HolderFromColumns(o.DepositID, o.BonusCreditID)
}

type RewardRecord struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	DepositID       *string         `db:"deposit_id" json:"deposit_id,omitempty"`
	BonusCreditID   *string         `db:"bonus_credit_id" json:"bonus_credit_id,omitempty"`
	RewardSessionID *string         `db:"reward_session_id" json:"reward_session_id,omitempty"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Rate            decimal.Decimal `db:"rate" json:"rate"`
	Days            int             `db:"days" json:"days"`
	PeriodStart     time.Time       `db:"period_start" json:"period_start"`
	PeriodEnd       time.Time       `db:"period_end" json:"period_end"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

type RewardSession struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	RateLevel1  decimal.Decimal `db:"rate_level_1" json:"rate_level_1"`
	RateLevel2  decimal.Decimal `db:"rate_level_2" json:"rate_level_2"`
	RateLevel3  decimal.Decimal `db:"rate_level_3" json:"rate_level_3"`
	RateLevel4  decimal.Decimal `db:"rate_level_4" json:"rate_level_4"`
	RateLevel5  decimal.Decimal `db:"rate_level_5" json:"rate_level_5"`
	StartDate   time.Time       `db:"start_date" json:"start_date"`
	EndDate     time.Time       `db:"end_date" json:"end_date"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedBy   *string         `db:"created_by" json:"created_by,omitempty"`
	StartedAt   *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	RecordCount int             `db:"record_count" json:"record_count"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// RateFor returns the session rate for a level, or false when the session does not price it.
func (s RewardSession) RateFor(level string) (decimal.Decimal, bool) {
	var rate decimal.Decimal
	switch level {
	case LevelOne:
		rate = s.RateLevel1
	case LevelTwo:
		rate = s.RateLevel2
	case LevelThree:
		rate = s.RateLevel3
	case LevelFour:
		rate = s.RateLevel4
	case LevelFive:
		rate = s.RateLevel5
	default:
		return decimal.Zero, false
	}
	return rate, rate.IsPositive()
}

type Withdrawal struct {
	ID           string           `db:"id" json:"id"`
	UserID       string           `db:"user_id" json:"user_id"`
	Amount       decimal.Decimal  `db:"amount" json:"amount"`
	Status       WithdrawalStatus `db:"status" json:"status"`
	Reason       *string          `db:"reason" json:"reason,omitempty"`
	AutoApproved bool             `db:"auto_approved" json:"auto_approved"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}

// Holder is the accrual-relevant projection of a Deposit or BonusCredit.
type Holder struct {
	Ref           HolderRef
	UserID        string
	Level         string
	Principal     decimal.Decimal
	ROIRate       decimal.Decimal
	CapAmount     decimal.Decimal
	ROIPaid       decimal.Decimal
	NextAccrualAt *time.Time
	Inactive      bool
	ROICompleted  bool
	CreatedAt     time.Time
}

func (h Holder) Remaining() decimal.Decimal {
	remaining := h.CapAmount.Sub(h.ROIPaid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// FeeSummary aggregates a user's fee obligations.
type FeeSummary struct {
	TotalDailyFee decimal.Decimal `db:"total_daily_fee" json:"total_daily_fee"`
	BlockedCount  int             `db:"blocked_count" json:"blocked_count"`
}

type AuditEntry struct {
	ID          string          `json:"id"`
	ActorUserID string          `json:"actor_user_id,omitempty"`
	Action      string          `json:"action"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
}
