// Package notify delivers engine events to operators and users. Delivery happens after
// the state change has committed and never feeds errors back into it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindObligationWarning Kind = "obligation_warning"
	KindObligationBlocked Kind = "obligation_blocked"
	KindRewardLarge       Kind = "reward_large"
	KindWithdrawalLarge   Kind = "withdrawal_large"
	KindWorkSuspended     Kind = "work_suspended"
	KindWorkRestored      Kind = "work_restored"
	KindAccrualAnomaly    Kind = "accrual_anomaly"
	KindInvariantBroken   Kind = "invariant_violation"
)

type Event struct {
	Kind       Kind             `json:"kind"`
	HolderID   string           `json:"holder_id,omitempty"`
	UserID     string           `json:"user_id"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Deadline   *time.Time       `json:"deadline,omitempty"`
	Detail     string           `json:"detail,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// WithAmount returns a copy of e carrying amount.
func (e Event) WithAmount(amount decimal.Decimal) Event {
	e.Amount = &amount
	return e
}

func (e Event) WithDeadline(deadline time.Time) Event {
	e.Deadline = &deadline
	return e
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends a batch of events and logs failures.
type Dispatcher struct {
	notifier Notifier
	log      *slog.Logger
}

func NewDispatcher(notifier Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{notifier: notifier, log: log}
}

func (d *Dispatcher) Send(ctx context.Context, events ...Event) {
	if d == nil || d.notifier == nil {
		return
	}
	for _, event := range events {
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		if err := d.notifier.Notify(ctx, event); err != nil {
			d.log.WarnContext(ctx, "notification delivery failed",
				slog.String("kind", string(event.Kind)),
				slog.String("user_id", event.UserID),
				slog.String("holder_id", event.HolderID),
				slog.Any("error", err),
			)
		}
	}
}
