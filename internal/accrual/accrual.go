// Package accrual decides whether a holder may earn and how much, without touching storage.
package accrual

import (
	"time"

	"plexledger/internal/models"
	"plexledger/internal/money"
	"plexledger/internal/obligation"

	"github.com/shopspring/decimal"
)

const Day = 24 * time.Hour

type SkipReason string

const (
	SkipEmergencyStop     SkipReason = "emergency_stop"
	SkipUserBlocked       SkipReason = "user_blocked"
	SkipHolderInactive    SkipReason = "holder_inactive"
	SkipWorkInactive      SkipReason = "work_inactive"
	SkipObligationBlocked SkipReason = "obligation_blocked"
	SkipCapReached        SkipReason = "cap_reached"
	SkipDuplicate         SkipReason = "duplicate"
	SkipAlreadyAccrued    SkipReason = "already_accrued"
	SkipZeroAmount        SkipReason = "zero_amount"
)

var hundred = decimal.NewFromInt(100)

// Input carries everything eligibility looks at. Obligation is nil when the holder has none.
type Input struct {
	Holder        models.Holder
	Obligation    *models.PaymentObligation
	User          models.User
	EmergencyStop bool
}

// Eligible runs the gates in order and returns the first failing reason. Period
// deduplication is left to the session and watermark paths.
func Eligible(in Input) (SkipReason, bool) {
	switch {
	case in.EmergencyStop:
		return SkipEmergencyStop, false
	case in.User.IsBanned || in.User.EarningsBlocked:
		return SkipUserBlocked, false
	case in.Holder.Inactive:
		return SkipHolderInactive, false
	case in.Obligation == nil || !in.Obligation.IsWorkActive:
		return SkipWorkInactive, false
	case !obligation.CanAccrue(*in.Obligation):
		return SkipObligationBlocked, false
	case in.Holder.ROICompleted || !in.Holder.ROIPaid.LessThan(in.Holder.CapAmount):
		return SkipCapReached, false
	}
	return "", true
}

// Amount computes principal × rate × days / 100 truncated to ledger precision and clamped
// to what is left under the cap.
func Amount(principal, rate decimal.Decimal, days int, remaining decimal.Decimal) decimal.Decimal {
	raw := principal.Mul(rate).Mul(decimal.NewFromInt(int64(days))).Div(hundred).Truncate(money.Scale)
	if raw.IsNegative() {
		return decimal.Zero
	}
	return money.Min(raw, remaining)
}

// Rate picks the session rate for the holder's level, falling back to the holder's own.
func Rate(holder models.Holder, session *models.RewardSession) decimal.Decimal {
	if session != nil {
		if rate, ok := session.RateFor(holder.Level); ok {
			return rate
		}
	}
	return holder.ROIRate
}

// Watermark returns the instant the holder's next day of yield becomes due.
func Watermark(holder models.Holder) time.Time {
	if holder.NextAccrualAt != nil {
		return *holder.NextAccrualAt
	}
	return holder.CreatedAt.Add(Day)
}

// PaidThrough is the end of the last day already credited to the holder.
func PaidThrough(holder models.Holder) time.Time {
	return Watermark(holder).Add(-Day)
}

// SessionCovered reports whether every day of the session is already credited.
func SessionCovered(holder models.Holder, session models.RewardSession) bool {
	return !session.EndDate.After(PaidThrough(holder))
}

// CatchUp is the watermark-path period computation.
type CatchUp struct {
	Days        int
	ExcessDays  int
	PeriodStart time.Time
	PeriodEnd   time.Time
	Next        time.Time
}

// ElapsedDays counts the whole days due at asOf, accruing at most maxDays. Days beyond
// the limit are reported in ExcessDays and stay behind the watermark.
func ElapsedDays(watermark, asOf time.Time, maxDays int) CatchUp {
	if asOf.Before(watermark) {
		return CatchUp{Next: watermark}
	}
	due := int(asOf.Sub(watermark)/Day) + 1
	days := due
	excess := 0
	if maxDays > 0 && due > maxDays {
		days = maxDays
		excess = due - maxDays
	}
	start := watermark.Add(-Day)
	end := start.Add(time.Duration(days) * Day)
	return CatchUp{
		Days:        days,
		ExcessDays:  excess,
		PeriodStart: start,
		PeriodEnd:   end,
		Next:        end.Add(Day),
	}
}

// Outcome is the holder state after a reward of amount is applied.
type Outcome struct {
	Paid      decimal.Decimal
	Completed bool
}

func Apply(holder models.Holder, amount decimal.Decimal) Outcome {
	paid := holder.ROIPaid.Add(amount)
	return Outcome{Paid: paid, Completed: paid.GreaterThanOrEqual(holder.CapAmount)}
}

// WithinCap is the post-write check for the cap invariant.
func WithinCap(paid, capAmount decimal.Decimal) bool {
	return paid.LessThanOrEqual(capAmount)
}
