package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"plexledger/internal/apperrors"
	"plexledger/internal/blockchain"
	"plexledger/internal/db"
	"plexledger/internal/metrics"
	"plexledger/internal/models"
	"plexledger/internal/notify"
	"plexledger/internal/obligation"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type FeeMonitorConfig struct {
	FeeToken    string
	MinBalance  decimal.Decimal
	GraceWindow time.Duration
}

// FeeMonitor checks that users hold enough fee tokens to cover their daily obligations.
type FeeMonitor struct {
	txRunner    db.TxRunner
	users       UserStore
	obligations ObligationStore
	audit       AuditStore
	chain       blockchain.Client
	dispatcher  *notify.Dispatcher
	errs        *apperrors.Handler
	log         *slog.Logger
	cfg         FeeMonitorConfig
}

func NewFeeMonitor(txRunner db.TxRunner, users UserStore, obligations ObligationStore, audit AuditStore, chain blockchain.Client, dispatcher *notify.Dispatcher, errs *apperrors.Handler, log *slog.Logger, cfg FeeMonitorConfig) *FeeMonitor {
	if log == nil {
		log = slog.Default()
	}
	if errs == nil {
		errs = apperrors.NewHandler(log, false)
	}
	if cfg.FeeToken == "" {
		cfg.FeeToken = blockchain.TokenPLEX
	}
	return &FeeMonitor{
		txRunner:    txRunner,
		users:       users,
		obligations: obligations,
		audit:       audit,
		chain:       chain,
		dispatcher:  dispatcher,
		errs:        errs,
		log:         log,
		cfg:         cfg,
	}
}

type FeeCheckSummary struct {
	Checked      int `json:"checked"`
	Insufficient int `json:"insufficient"`
	Suspended    int `json:"suspended"`
	Restored     int `json:"restored"`
	Skipped      int `json:"skipped"`
}

// Run checks every user with tracked obligations. Lookup failures skip the user
// and leave its status alone.
func (m *FeeMonitor) Run(ctx context.Context, now time.Time) (FeeCheckSummary, error) {
	var summary FeeCheckSummary
	users, err := m.users.ListWithObligations(ctx)
	if err != nil {
		return summary, fmt.Errorf("list users with obligations: %w", err)
	}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if user.WalletAddress == "" {
			summary.Skipped++
			continue
		}
		balance, err := m.chain.GetBalance(ctx, user.WalletAddress, m.cfg.FeeToken)
		if err != nil {
			summary.Skipped++
			m.errs.Handle(ctx, fmt.Errorf("fee balance for %s: %w", user.ID, err))
			continue
		}
		if err := m.check(ctx, user.ID, balance, now, &summary); err != nil {
			summary.Skipped++
			m.errs.Handle(ctx, fmt.Errorf("fee check for %s: %w", user.ID, err))
		}
	}
	return summary, nil
}

// RequiredBalance is the larger of the total daily fee and the configured floor.
func RequiredBalance(totalDailyFee, minBalance decimal.Decimal) decimal.Decimal {
	if totalDailyFee.GreaterThan(minBalance) {
		return totalDailyFee
	}
	return minBalance
}

func (m *FeeMonitor) check(ctx context.Context, userID string, balance decimal.Decimal, now time.Time, summary *FeeCheckSummary) error {
	var event *notify.Event
	var changedTo models.WorkStatus
	var insufficient bool
	err := m.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		event, changedTo = nil, ""
		user, err := m.users.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		fees, err := m.obligations.SumDailyFees(ctx, tx, userID)
		if err != nil {
			return err
		}
		required := RequiredBalance(fees.TotalDailyFee, m.cfg.MinBalance)
		insufficient = balance.LessThan(required)

		var since *time.Time
		pastGrace := false
		if insufficient {
			since = user.PlexInsufficientSince
			if since == nil {
				since = &now
			}
			pastGrace = now.Sub(*since) > m.cfg.GraceWindow
		}
		if err := m.users.RecordFeeCheck(ctx, tx, userID, balance, now, since); err != nil {
			return err
		}

		next := obligation.Project(fees.BlockedCount > 0, pastGrace)
		if next == user.WorkStatus {
			return nil
		}
		if err := m.users.UpdateWorkStatus(ctx, tx, userID, next); err != nil {
			return err
		}
		changedTo = next
		event = workStatusEvent(userID, next)
		return m.audit.Log(ctx, tx, "", "work_status_changed", "user", userID, map[string]any{
			"from":     user.WorkStatus,
			"to":       next,
			"balance":  balance.String(),
			"required": required.String(),
		})
	})
	if err != nil {
		return err
	}

	summary.Checked++
	if insufficient {
		summary.Insufficient++
	}
	if changedTo == "" {
		return nil
	}
	if changedTo == models.WorkActive {
		summary.Restored++
	} else {
		summary.Suspended++
	}
	metrics.RecordWorkStatus(string(changedTo))
	m.dispatcher.Send(ctx, *event)
	return nil
}
