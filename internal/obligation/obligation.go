// Package obligation holds the pure fee-obligation state machine. Nothing here touches
// storage or the clock; callers pass now and any already-resolved payment.
package obligation

import (
	"time"

	"plexledger/internal/models"

	"github.com/shopspring/decimal"
)

const (
	PaymentWindow = 24 * time.Hour
	WarningAfter  = 25 * time.Hour
	BlockAfter    = 49 * time.Hour
)

type Transition string

const (
	TransitionNone    Transition = ""
	TransitionPaid    Transition = "paid"
	TransitionWarning Transition = "warning"
	TransitionBlocked Transition = "blocked"
)

type NotificationKind string

const (
	NotifyWarning NotificationKind = "obligation_warning"
	NotifyBlocked NotificationKind = "obligation_blocked"
)

type Notification struct {
	Kind     NotificationKind
	Amount   decimal.Decimal
	Deadline time.Time
}

// Payment is a transfer already confirmed by the blockchain lookup.
type Payment struct {
	Amount decimal.Decimal
	TxHash string
	At     time.Time
}

type Result struct {
	Obligation    models.PaymentObligation
	Transition    Transition
	Notifications []Notification
	// Underpaid is set when a payment was offered but fell short of the daily fee.
	Underpaid bool
}

// Changed reports whether the obligation needs to be persisted.
func (r Result) Changed() bool {
	return r.Transition != TransitionNone || len(r.Notifications) > 0
}

// Deadlines returns next_payment_due, warning_due and block_due for a cycle start.
func Deadlines(cycleStart time.Time) (time.Time, time.Time, time.Time) {
	return cycleStart.Add(PaymentWindow), cycleStart.Add(WarningAfter), cycleStart.Add(BlockAfter)
}

// DailyFee sizes the fee for a principal at the configured token price.
func DailyFee(principal, plexPerDollar decimal.Decimal) decimal.Decimal {
	return principal.Mul(plexPerDollar)
}

// New builds an obligation for a fresh holder. Work stays inactive until the first payment.
func New(id, userID string, holder models.HolderRef, dailyFee decimal.Decimal, cycleStart time.Time) models.PaymentObligation {
	depositID, bonusCreditID := holder.Columns()
	next, warning, block := Deadlines(cycleStart)
	return models.PaymentObligation{
		ID:               id,
		UserID:           userID,
		DepositID:        depositID,
		BonusCreditID:    bonusCreditID,
		DailyFeeRequired: dailyFee,
		CycleStart:       cycleStart,
		NextPaymentDue:   next,
		WarningDue:       warning,
		BlockDue:         block,
		Status:           models.ObligationActive,
		TotalPaid:        decimal.Zero,
	}
}

// Qualifies reports whether a payment covers the obligation's daily fee.
func Qualifies(o models.PaymentObligation, amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(o.DailyFeeRequired)
}

// Advance applies at most one state step. A qualifying payment resets the cycle from any
// state; otherwise the deadline checks run against now. An ACTIVE obligation that is already
// past block_due only reaches WARNING here; BLOCKED needs another call.
func Advance(o models.PaymentObligation, now time.Time, payment *Payment) Result {
	result := Result{Obligation: o}

	if payment != nil {
		if Qualifies(o, payment.Amount) {
			applyPayment(&result, *payment)
			return result
		}
		result.Underpaid = true
	}

	switch o.Status {
	case models.ObligationActive, models.ObligationPaid:
		if now.Before(o.WarningDue) {
			if o.Status == models.ObligationPaid {
				result.Obligation.Status = models.ObligationActive
			}
			return result
		}
		enterWarning(&result, now)
	case models.ObligationWarning:
		if !now.Before(o.BlockDue) {
			enterBlocked(&result)
			return result
		}
		if !warningSent(o) {
			sendWarning(&result, now)
		}
	case models.ObligationBlocked:
	}
	return result
}

func applyPayment(result *Result, payment Payment) {
	o := &result.Obligation
	at := payment.At
	o.CycleStart = at
	o.NextPaymentDue, o.WarningDue, o.BlockDue = Deadlines(at)
	o.TotalPaid = o.TotalPaid.Add(payment.Amount)
	o.DaysPaid++
	if o.FirstPaymentAt == nil {
		o.FirstPaymentAt = &at
	}
	if payment.TxHash != "" {
		hash := payment.TxHash
		o.LastPaymentTx = &hash
	}
	o.IsWorkActive = true
	o.Status = models.ObligationActive
	result.Transition = TransitionPaid
}

func enterWarning(result *Result, now time.Time) {
	result.Obligation.Status = models.ObligationWarning
	result.Transition = TransitionWarning
	if !warningSent(result.Obligation) {
		sendWarning(result, now)
	}
}

func sendWarning(result *Result, now time.Time) {
	o := &result.Obligation
	sentAt := now
	o.WarningSentAt = &sentAt
	o.WarningCount++
	result.Notifications = append(result.Notifications, Notification{
		Kind:     NotifyWarning,
		Amount:   o.DailyFeeRequired,
		Deadline: o.BlockDue,
	})
}

func enterBlocked(result *Result) {
	o := &result.Obligation
	o.Status = models.ObligationBlocked
	result.Transition = TransitionBlocked
	result.Notifications = append(result.Notifications, Notification{
		Kind:     NotifyBlocked,
		Amount:   o.DailyFeeRequired,
		Deadline: o.BlockDue,
	})
}

// warningSent is true when a warning already went out for the current warning window.
func warningSent(o models.PaymentObligation) bool {
	return o.WarningSentAt != nil && !o.WarningSentAt.Before(o.WarningDue)
}

// CanAccrue reports whether the obligation permits yield for its holder.
func CanAccrue(o models.PaymentObligation) bool {
	return o.Status == models.ObligationActive || o.Status == models.ObligationWarning
}
