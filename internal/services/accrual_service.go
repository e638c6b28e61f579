package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"plexledger/internal/accrual"
	"plexledger/internal/apperrors"
	"plexledger/internal/db"
	"plexledger/internal/metrics"
	"plexledger/internal/models"
	"plexledger/internal/notify"
	"plexledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	PathSession    = "session"
	PathIndividual = "individual"
)

var errDuplicateReward = errors.New("reward already recorded for session")

type AccrualConfig struct {
	MaxCatchupDays       int
	LargeRewardThreshold decimal.Decimal
}

// AccrualService credits ROI to holders. Session-keyed and watermark-keyed accruals are
// separate entry points with separate dedup rules.
type AccrualService struct {
	txRunner    db.TxRunner
	holders     HolderStore
	obligations ObligationStore
	users       UserStore
	rewards     RewardStore
	sessions    RewardSessionStore
	audit       AuditStore
	limits      LimitsSource
	dispatcher  *notify.Dispatcher
	errs        *apperrors.Handler
	log         *slog.Logger
	cfg         AccrualConfig
}

func NewAccrualService(txRunner db.TxRunner, holders HolderStore, obligations ObligationStore, users UserStore, rewards RewardStore, sessions RewardSessionStore, audit AuditStore, limits LimitsSource, dispatcher *notify.Dispatcher, errs *apperrors.Handler, log *slog.Logger, cfg AccrualConfig) *AccrualService {
	if log == nil {
		log = slog.Default()
	}
	if errs == nil {
		errs = apperrors.NewHandler(log, false)
	}
	if cfg.MaxCatchupDays <= 0 {
		cfg.MaxCatchupDays = 7
	}
	return &AccrualService{
		txRunner:    txRunner,
		holders:     holders,
		obligations: obligations,
		users:       users,
		rewards:     rewards,
		sessions:    sessions,
		audit:       audit,
		limits:      limits,
		dispatcher:  dispatcher,
		errs:        errs,
		log:         log,
		cfg:         cfg,
	}
}

// AccrualResult is either a written record or a skip with its reason.
type AccrualResult struct {
	Holder     models.HolderRef     `json:"holder"`
	Record     *models.RewardRecord `json:"record,omitempty"`
	SkipReason accrual.SkipReason   `json:"skip_reason,omitempty"`
	Completed  bool                 `json:"completed"`
	ExcessDays int                  `json:"excess_days,omitempty"`
}

func (r AccrualResult) Accrued() bool {
	return r.Record != nil
}

func skipped(ref models.HolderRef, reason accrual.SkipReason) AccrualResult {
	return AccrualResult{Holder: ref, SkipReason: reason}
}

type RunSummary struct {
	SessionID string                     `json:"session_id,omitempty"`
	Evaluated int                        `json:"evaluated"`
	Accrued   int                        `json:"accrued"`
	Failed    int                        `json:"failed"`
	Skipped   map[accrual.SkipReason]int `json:"skipped"`
	Total     decimal.Decimal            `json:"total"`
}

func newRunSummary(sessionID string) RunSummary {
	return RunSummary{SessionID: sessionID, Skipped: make(map[accrual.SkipReason]int), Total: decimal.Zero}
}

func (s *RunSummary) add(result AccrualResult) {
	s.Evaluated++
	if result.Accrued() {
		s.Accrued++
		s.Total = s.Total.Add(result.Record.Amount)
		return
	}
	s.Skipped[result.SkipReason]++
}

// AccrueSession credits one day of yield under a reward session.
func (s *AccrualService) AccrueSession(ctx context.Context, ref models.HolderRef, sessionID string, asOf time.Time) (AccrualResult, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return AccrualResult{}, err
	}
	return s.accrueSession(ctx, ref, session, asOf)
}

func (s *AccrualService) loadSession(ctx context.Context, sessionID string) (models.RewardSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.RewardSession{}, ErrSessionNotFound
		}
		return models.RewardSession{}, err
	}
	if !session.IsActive {
		return models.RewardSession{}, ErrSessionInactive
	}
	return session, nil
}

func (s *AccrualService) accrueSession(ctx context.Context, ref models.HolderRef, session models.RewardSession, asOf time.Time) (AccrualResult, error) {
	if err := ref.Validate(); err != nil {
		return AccrualResult{}, err
	}
	var result AccrualResult
	var holder models.Holder
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var ok bool
		var err error
		holder, result, ok, err = s.checkEligible(ctx, tx, ref)
		if err != nil || !ok {
			return err
		}

		exists, err := s.rewards.ExistsForSession(ctx, tx, ref, session.ID)
		if err != nil {
			return err
		}
		if exists {
			result = skipped(ref, accrual.SkipDuplicate)
			return nil
		}
		if accrual.SessionCovered(holder, session) {
			result = skipped(ref, accrual.SkipAlreadyAccrued)
			return nil
		}

		rate := accrual.Rate(holder, &session)
		amount := accrual.Amount(holder.Principal, rate, 1, holder.Remaining())
		if !amount.IsPositive() {
			result = skipped(ref, accrual.SkipZeroAmount)
			return nil
		}

		next := accrual.Watermark(holder)
		if after := session.EndDate.Add(accrual.Day); after.After(next) {
			next = after
		}
		sessionID := session.ID
		record := newRewardRecord(holder, amount, rate, 1, session.StartDate, session.EndDate)
		record.RewardSessionID = &sessionID

		result, err = s.write(ctx, tx, holder, record, next, asOf, PathSession)
		if db.IsUniqueViolation(err) {
			return errDuplicateReward
		}
		return err
	})
	if errors.Is(err, errDuplicateReward) {
		result, err = skipped(ref, accrual.SkipDuplicate), nil
	}
	return s.finish(ctx, PathSession, holder, result, err)
}

// AccrueIndividual credits the whole days elapsed since the holder's watermark.
func (s *AccrualService) AccrueIndividual(ctx context.Context, ref models.HolderRef, asOf time.Time) (AccrualResult, error) {
	if err := ref.Validate(); err != nil {
		return AccrualResult{}, err
	}
	var result AccrualResult
	var holder models.Holder
	var catchUp accrual.CatchUp
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var ok bool
		var err error
		holder, result, ok, err = s.checkEligible(ctx, tx, ref)
		if err != nil || !ok {
			return err
		}

		catchUp = accrual.ElapsedDays(accrual.Watermark(holder), asOf, s.cfg.MaxCatchupDays)
		if catchUp.Days == 0 {
			result = skipped(ref, accrual.SkipAlreadyAccrued)
			return nil
		}

		rate := accrual.Rate(holder, nil)
		amount := accrual.Amount(holder.Principal, rate, catchUp.Days, holder.Remaining())
		if !amount.IsPositive() {
			result = skipped(ref, accrual.SkipZeroAmount)
			return nil
		}

		record := newRewardRecord(holder, amount, rate, catchUp.Days, catchUp.PeriodStart, catchUp.PeriodEnd)
		result, err = s.write(ctx, tx, holder, record, catchUp.Next, asOf, PathIndividual)
		if err != nil {
			return err
		}
		if catchUp.ExcessDays > 0 {
			result.ExcessDays = catchUp.ExcessDays
			return s.audit.Log(ctx, tx, "", "accrual_catchup_capped", string(ref.Kind), ref.ID, map[string]any{
				"accrued_days": catchUp.Days,
				"excess_days":  catchUp.ExcessDays,
				"watermark":    catchUp.Next,
			})
		}
		return nil
	})
	result, err = s.finish(ctx, PathIndividual, holder, result, err)
	if err == nil && result.ExcessDays > 0 {
		metrics.RecordCatchupExcess(result.ExcessDays)
		s.log.WarnContext(ctx, "accrual catch-up capped",
			slog.String("holder", ref.String()),
			slog.Int("accrued_days", catchUp.Days),
			slog.Int("excess_days", result.ExcessDays),
		)
		s.dispatcher.Send(ctx, notify.Event{
			Kind:     notify.KindAccrualAnomaly,
			HolderID: ref.ID,
			UserID:   holder.UserID,
			Detail:   fmt.Sprintf("%d day(s) beyond the catch-up limit remain unaccrued", result.ExcessDays),
		})
	}
	return result, err
}

// checkEligible loads the holder with its obligation and user and runs the gates.
// ok is false when the result is already a skip.
func (s *AccrualService) checkEligible(ctx context.Context, tx store.Tx, ref models.HolderRef) (models.Holder, AccrualResult, bool, error) {
	holder, err := s.holders.GetForUpdate(ctx, tx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return holder, AccrualResult{}, false, ErrHolderNotFound
		}
		return holder, AccrualResult{}, false, err
	}
	user, err := s.users.GetForUpdate(ctx, tx, holder.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return holder, AccrualResult{}, false, ErrUserNotFound
		}
		return holder, AccrualResult{}, false, err
	}
	var ob *models.PaymentObligation
	o, err := s.obligations.GetByHolder(ctx, tx, ref)
	switch {
	case err == nil:
		ob = &o
	case !errors.Is(err, store.ErrNotFound):
		return holder, AccrualResult{}, false, err
	}

	reason, ok := accrual.Eligible(accrual.Input{
		Holder:        holder,
		Obligation:    ob,
		User:          user,
		EmergencyStop: s.limits.Limits().ROIEmergencyStop,
	})
	if !ok {
		return holder, skipped(ref, reason), false, nil
	}
	return holder, AccrualResult{}, true, nil
}

func newRewardRecord(holder models.Holder, amount, rate decimal.Decimal, days int, start, end time.Time) models.RewardRecord {
	depositID, bonusCreditID := holder.Ref.Columns()
	return models.RewardRecord{
		ID:            uuid.NewString(),
		UserID:        holder.UserID,
		DepositID:     depositID,
		BonusCreditID: bonusCreditID,
		Amount:        amount,
		Rate:          rate,
		Days:          days,
		PeriodStart:   start,
		PeriodEnd:     end,
	}
}

// write persists the record and the holder counters, then re-checks the cap.
func (s *AccrualService) write(ctx context.Context, tx store.Tx, holder models.Holder, record models.RewardRecord, next, asOf time.Time, path string) (AccrualResult, error) {
	if err := s.rewards.Insert(ctx, tx, record); err != nil {
		return AccrualResult{}, err
	}
	outcome := accrual.Apply(holder, record.Amount)
	if !accrual.WithinCap(outcome.Paid, holder.CapAmount) {
		metrics.RecordInvariantViolation("accrual")
		return AccrualResult{}, apperrors.NewInvariantError(fmt.Sprintf(
			"reward paid %s exceeds cap %s for %s", outcome.Paid, holder.CapAmount, holder.Ref))
	}
	var completedAt *time.Time
	if outcome.Completed {
		completedAt = &asOf
	}
	if err := s.holders.ApplyReward(ctx, tx, holder.Ref, outcome.Paid, next, completedAt); err != nil {
		return AccrualResult{}, err
	}
	if err := s.audit.Log(ctx, tx, "", "reward_accrued", string(holder.Ref.Kind), holder.Ref.ID, map[string]any{
		"record_id":  record.ID,
		"path":       path,
		"amount":     record.Amount.String(),
		"days":       record.Days,
		"roi_paid":   outcome.Paid.String(),
		"completed":  outcome.Completed,
		"session_id": record.RewardSessionID,
	}); err != nil {
		return AccrualResult{}, err
	}
	return AccrualResult{Holder: holder.Ref, Record: &record, Completed: outcome.Completed}, nil
}

func (s *AccrualService) finish(ctx context.Context, path string, holder models.Holder, result AccrualResult, err error) (AccrualResult, error) {
	if err != nil {
		return AccrualResult{}, err
	}
	if !result.Accrued() {
		metrics.RecordAccrual(path, string(result.SkipReason), decimal.Zero)
		return result, nil
	}
	metrics.RecordAccrual(path, "accrued", result.Record.Amount)
	if s.cfg.LargeRewardThreshold.IsPositive() && result.Record.Amount.GreaterThanOrEqual(s.cfg.LargeRewardThreshold) {
		s.dispatcher.Send(ctx, notify.Event{
			Kind:     notify.KindRewardLarge,
			HolderID: holder.Ref.ID,
			UserID:   holder.UserID,
		}.WithAmount(result.Record.Amount))
	}
	return result, nil
}

// RunSession accrues every accruable holder under one session, one transaction each,
// and marks the session completed.
func (s *AccrualService) RunSession(ctx context.Context, sessionID string, asOf time.Time) (RunSummary, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return newRunSummary(sessionID), err
	}
	return s.runSession(ctx, session, asOf)
}

func (s *AccrualService) runSession(ctx context.Context, session models.RewardSession, asOf time.Time) (RunSummary, error) {
	summary := newRunSummary(session.ID)
	if err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.sessions.MarkStarted(ctx, tx, session.ID, asOf)
	}); err != nil {
		return summary, fmt.Errorf("mark session started: %w", err)
	}

	refs, err := s.holders.ListAccruable(ctx)
	if err != nil {
		return summary, fmt.Errorf("list accruable holders: %w", err)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.accrueSession(ctx, ref, session, asOf)
		if err != nil {
			summary.Failed++
			s.errs.Handle(ctx, fmt.Errorf("session %s accrual for %s: %w", session.ID, ref, err))
			continue
		}
		summary.add(result)
	}

	if err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.sessions.MarkCompleted(ctx, tx, session.ID, asOf)
	}); err != nil {
		return summary, fmt.Errorf("mark session completed: %w", err)
	}
	s.log.InfoContext(ctx, "reward session completed",
		slog.String("session_id", session.ID),
		slog.Int("accrued", summary.Accrued),
		slog.Int("failed", summary.Failed),
		slog.String("total", summary.Total.String()),
	)
	return summary, nil
}

// RunDueSessions runs every active session that has started and is not yet completed.
func (s *AccrualService) RunDueSessions(ctx context.Context, asOf time.Time) ([]RunSummary, error) {
	sessions, err := s.sessions.ListRunnable(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list runnable sessions: %w", err)
	}
	summaries := make([]RunSummary, 0, len(sessions))
	var errs []error
	for _, session := range sessions {
		summary, err := s.runSession(ctx, session, asOf)
		summaries = append(summaries, summary)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return summaries, errors.Join(errs...)
}

// RunDaily is the individual path for every accruable holder.
func (s *AccrualService) RunDaily(ctx context.Context, asOf time.Time) (RunSummary, error) {
	summary := newRunSummary("")
	refs, err := s.holders.ListAccruable(ctx)
	if err != nil {
		return summary, fmt.Errorf("list accruable holders: %w", err)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := s.AccrueIndividual(ctx, ref, asOf)
		if err != nil {
			summary.Failed++
			s.errs.Handle(ctx, fmt.Errorf("daily accrual for %s: %w", ref, err))
			continue
		}
		summary.add(result)
	}
	return summary, nil
}
