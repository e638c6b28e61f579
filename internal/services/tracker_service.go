package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"plexledger/internal/apperrors"
	"plexledger/internal/blockchain"
	"plexledger/internal/db"
	"plexledger/internal/metrics"
	"plexledger/internal/models"
	"plexledger/internal/notify"
	"plexledger/internal/obligation"
	"plexledger/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type TrackerConfig struct {
	OperatorWallet string
	FeeToken       string
	MaxBlockRange  int64
	BatchSize      int
}

// TrackerService drives obligation state from the clock and from incoming fee transfers.
type TrackerService struct {
	txRunner    db.TxRunner
	obligations ObligationStore
	users       UserStore
	transfers   TransferStore
	audit       AuditStore
	chain       blockchain.Client
	dispatcher  *notify.Dispatcher
	errs        *apperrors.Handler
	log         *slog.Logger
	cfg         TrackerConfig
}

func NewTrackerService(txRunner db.TxRunner, obligations ObligationStore, users UserStore, transfers TransferStore, audit AuditStore, chain blockchain.Client, dispatcher *notify.Dispatcher, errs *apperrors.Handler, log *slog.Logger, cfg TrackerConfig) *TrackerService {
	if log == nil {
		log = slog.Default()
	}
	if errs == nil {
		errs = apperrors.NewHandler(log, false)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.MaxBlockRange <= 0 {
		cfg.MaxBlockRange = 5000
	}
	if cfg.FeeToken == "" {
		cfg.FeeToken = blockchain.TokenPLEX
	}
	return &TrackerService{
		txRunner:    txRunner,
		obligations: obligations,
		users:       users,
		transfers:   transfers,
		audit:       audit,
		chain:       chain,
		dispatcher:  dispatcher,
		errs:        errs,
		log:         log,
		cfg:         cfg,
	}
}

type TrackSummary struct {
	Evaluated int `json:"evaluated"`
	Paid      int `json:"paid"`
	Warned    int `json:"warned"`
	Blocked   int `json:"blocked"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

func (s *TrackSummary) add(transition obligation.Transition) {
	switch transition {
	case obligation.TransitionPaid:
		s.Paid++
	case obligation.TransitionWarning:
		s.Warned++
	case obligation.TransitionBlocked:
		s.Blocked++
	}
}

// ProcessDue evaluates every tracked obligation once. Transfers are looked up per user
// before any transaction opens; each obligation then commits on its own.
func (s *TrackerService) ProcessDue(ctx context.Context, now time.Time) (TrackSummary, error) {
	var summary TrackSummary
	tracked, err := s.listTracked(ctx)
	if err != nil {
		return summary, err
	}
	if len(tracked) == 0 {
		return summary, nil
	}

	latestBlock, chainErr := s.chain.LatestBlock(ctx)
	if chainErr != nil {
		s.errs.Handle(ctx, chainErr)
	}

	for _, group := range groupByUser(tracked) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		s.processUser(ctx, group, latestBlock, chainErr, now, &summary)
	}
	return summary, nil
}

// listTracked reads every tracked obligation, BatchSize rows per page.
func (s *TrackerService) listTracked(ctx context.Context) ([]models.PaymentObligation, error) {
	var (
		all    []models.PaymentObligation
		cursor store.TrackCursor
	)
	for {
		page, err := s.obligations.ListTracked(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("list tracked obligations: %w", err)
		}
		all = append(all, page...)
		if len(page) < s.cfg.BatchSize {
			return all, nil
		}
		cursor = cursor.After(page[len(page)-1])
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

type userObligations struct {
	userID      string
	obligations []models.PaymentObligation
}

func groupByUser(obligations []models.PaymentObligation) []userObligations {
	index := make(map[string]int)
	var groups []userObligations
	for _, o := range obligations {
		i, ok := index[o.UserID]
		if !ok {
			i = len(groups)
			index[o.UserID] = i
			groups = append(groups, userObligations{userID: o.UserID})
		}
		groups[i].obligations = append(groups[i].obligations, o)
	}
	return groups
}

func (s *TrackerService) processUser(ctx context.Context, group userObligations, latestBlock int64, chainErr error, now time.Time, summary *TrackSummary) {
	user, err := s.users.GetByID(ctx, group.userID)
	if err != nil {
		summary.Failed += len(group.obligations)
		s.errs.Handle(ctx, fmt.Errorf("load user %s: %w", group.userID, err))
		return
	}

	var pool *paymentPool
	if user.WalletAddress != "" {
		if chainErr != nil {
			s.deferUser(ctx, group, chainErr, summary)
			return
		}
		pool, err = s.lookupPayments(ctx, user, latestBlock, minDailyFee(group.obligations))
		if err != nil {
			s.deferUser(ctx, group, err, summary)
			return
		}
	}

	for _, o := range group.obligations {
		if err := ctx.Err(); err != nil {
			return
		}
		var payment *obligation.Payment
		var transfer *blockchain.Transfer
		if pool != nil {
			transfer = pool.take(o.DailyFeeRequired)
			if transfer != nil {
				payment = paymentFromTransfer(*transfer, now)
			}
		}
		transition, err := s.advanceOne(ctx, o.ID, now, payment, transfer, "")
		summary.Evaluated++
		if err != nil {
			summary.Failed++
			if transfer != nil {
				pool.release(*transfer)
			}
			s.errs.Handle(ctx, fmt.Errorf("advance obligation %s: %w", o.ID, err))
			continue
		}
		summary.add(transition)
	}

	if pool != nil {
		s.saveScannedBlock(ctx, user.ID, pool.scannedThrough())
	}
}

func (s *TrackerService) deferUser(ctx context.Context, group userObligations, err error, summary *TrackSummary) {
	summary.Deferred += len(group.obligations)
	for range group.obligations {
		metrics.RecordObligationDeferred()
	}
	s.log.WarnContext(ctx, "obligation evaluation deferred",
		slog.String("user_id", group.userID),
		slog.Int("obligations", len(group.obligations)),
		slog.Any("error", err),
	)
}

func minDailyFee(obligations []models.PaymentObligation) decimal.Decimal {
	fee := obligations[0].DailyFeeRequired
	for _, o := range obligations[1:] {
		if o.DailyFeeRequired.LessThan(fee) {
			fee = o.DailyFeeRequired
		}
	}
	return fee
}

func paymentFromTransfer(t blockchain.Transfer, now time.Time) *obligation.Payment {
	at := t.Timestamp
	if at.IsZero() || at.After(now) {
		at = now
	}
	return &obligation.Payment{Amount: t.Amount, TxHash: t.TxHash, At: at}
}

func (s *TrackerService) lookupPayments(ctx context.Context, user models.User, latestBlock int64, minFee decimal.Decimal) (*paymentPool, error) {
	from := user.LastScannedBlock + 1
	to := latestBlock
	if to-from+1 > s.cfg.MaxBlockRange {
		to = from + s.cfg.MaxBlockRange - 1
	}
	if to < from {
		return &paymentPool{through: user.LastScannedBlock, last: user.LastScannedBlock}, nil
	}
	transfers, err := s.chain.GetIncomingTransfers(ctx, s.cfg.OperatorWallet, s.cfg.FeeToken, from, to)
	if err != nil {
		return nil, err
	}
	var mine []blockchain.Transfer
	var hashes []string
	for _, t := range transfers {
		if !strings.EqualFold(t.From, user.WalletAddress) || !t.Amount.IsPositive() {
			continue
		}
		mine = append(mine, t)
		hashes = append(hashes, t.TxHash)
	}
	processed, err := s.transfers.FilterProcessed(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("filter processed transfers: %w", err)
	}
	pool := &paymentPool{through: to, last: user.LastScannedBlock, minFee: minFee}
	for _, t := range mine {
		if processed[t.TxHash] {
			continue
		}
		pool.pending = append(pool.pending, t)
	}
	sort.SliceStable(pool.pending, func(i, j int) bool {
		return pool.pending[i].BlockNumber < pool.pending[j].BlockNumber
	})
	return pool, nil
}

// paymentPool hands out a user's unclaimed transfers in block order.
type paymentPool struct {
	pending []blockchain.Transfer
	through int64
	last    int64
	minFee  decimal.Decimal
}

// take returns the earliest transfer covering fee. Smaller transfers stay unclaimed.
func (p *paymentPool) take(fee decimal.Decimal) *blockchain.Transfer {
	for i, t := range p.pending {
		if t.Amount.GreaterThanOrEqual(fee) {
			p.pending = append(p.pending[:i:i], p.pending[i+1:]...)
			return &t
		}
	}
	return nil
}

func (p *paymentPool) release(t blockchain.Transfer) {
	p.pending = append(p.pending, t)
}

// scannedThrough is the highest block below every unclaimed transfer that could still pay a fee.
func (p *paymentPool) scannedThrough() int64 {
	through := p.through
	for _, t := range p.pending {
		if t.Amount.LessThan(p.minFee) {
			continue
		}
		if t.BlockNumber-1 < through {
			through = t.BlockNumber - 1
		}
	}
	if through < p.last {
		return p.last
	}
	return through
}

func (s *TrackerService) saveScannedBlock(ctx context.Context, userID string, block int64) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.users.UpdateLastScannedBlock(ctx, tx, userID, block)
	})
	if err != nil {
		s.errs.Handle(ctx, fmt.Errorf("save scanned block for %s: %w", userID, err))
	}
}

// RecordPayment applies a payment an operator confirmed by hand.
func (s *TrackerService) RecordPayment(ctx context.Context, actorID string, ref models.HolderRef, amount decimal.Decimal, txHash string, at time.Time) (models.PaymentObligation, error) {
	if err := ref.Validate(); err != nil {
		return models.PaymentObligation{}, err
	}
	if !amount.IsPositive() {
		return models.PaymentObligation{}, ErrInvalidAmount
	}
	var obligationID string
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		o, err := s.obligations.GetByHolder(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !obligation.Qualifies(o, amount) {
			return ErrPaymentTooSmall
		}
		obligationID = o.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.PaymentObligation{}, ErrObligationNotFound
		}
		return models.PaymentObligation{}, err
	}

	payment := &obligation.Payment{Amount: amount, TxHash: txHash, At: at}
	var transfer *blockchain.Transfer
	if txHash != "" {
		transfer = &blockchain.Transfer{TxHash: txHash, Amount: amount}
	}
	var result models.PaymentObligation
	_, err = s.advance(ctx, obligationID, at, payment, transfer, actorID, &result)
	return result, err
}

func (s *TrackerService) advanceOne(ctx context.Context, obligationID string, now time.Time, payment *obligation.Payment, transfer *blockchain.Transfer, actorID string) (obligation.Transition, error) {
	return s.advance(ctx, obligationID, now, payment, transfer, actorID, nil)
}

func (s *TrackerService) advance(ctx context.Context, obligationID string, now time.Time, payment *obligation.Payment, transfer *blockchain.Transfer, actorID string, out *models.PaymentObligation) (obligation.Transition, error) {
	var result obligation.Result
	var events []notify.Event
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		events = nil
		o, err := s.obligations.GetForUpdate(ctx, tx, obligationID)
		if err != nil {
			return err
		}
		result = obligation.Advance(o, now, payment)

		if result.Transition == obligation.TransitionPaid && transfer != nil {
			claimed, err := s.transfers.Record(ctx, tx, store.ProcessedTransfer{
				TxHash:       transfer.TxHash,
				ObligationID: o.ID,
				FromAddress:  transfer.From,
				Amount:       transfer.Amount,
				BlockNumber:  transfer.BlockNumber,
			})
			if err != nil {
				return err
			}
			if !claimed {
				if actorID != "" {
					return ErrTransferAlreadyApplied
				}
				result = obligation.Advance(o, now, nil)
			}
		}
		if !result.Changed() {
			return nil
		}
		if err := s.obligations.Save(ctx, tx, result.Obligation, now); err != nil {
			return err
		}

		holder, _ := result.Obligation.Holder()
		for _, n := range result.Notifications {
			events = append(events, notify.Event{
				Kind:     notificationKind(n.Kind),
				HolderID: holder.ID,
				UserID:   o.UserID,
			}.WithAmount(n.Amount).WithDeadline(n.Deadline))
		}

		if result.Transition != obligation.TransitionNone {
			if err := s.audit.Log(ctx, tx, actorID, "obligation_"+string(result.Transition), "payment_obligation", o.ID, map[string]any{
				"holder":     holder.String(),
				"status":     result.Obligation.Status,
				"days_paid":  result.Obligation.DaysPaid,
				"total_paid": result.Obligation.TotalPaid.String(),
				"block_due":  result.Obligation.BlockDue,
				"payment_tx": result.Obligation.LastPaymentTx,
				"manual":     actorID != "",
			}); err != nil {
				return err
			}
		}

		event, err := s.syncWorkStatus(ctx, tx, o.UserID, o.ID, result.Obligation.Status == models.ObligationBlocked)
		if err != nil {
			return err
		}
		if event != nil {
			events = append(events, *event)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return obligation.TransitionNone, ErrObligationNotFound
		}
		return obligation.TransitionNone, err
	}
	if out != nil {
		*out = result.Obligation
	}

	metrics.RecordObligationTransition(string(result.Transition))
	for _, event := range events {
		if event.Kind == notify.KindWorkSuspended || event.Kind == notify.KindWorkRestored {
			metrics.RecordWorkStatus(event.Detail)
		}
	}
	if result.Underpaid {
		s.log.InfoContext(ctx, "fee payment below daily requirement", slog.String("obligation_id", obligationID))
	}
	s.dispatcher.Send(ctx, events...)
	return result.Transition, nil
}

// syncWorkStatus re-projects the user's work status after an obligation changed.
func (s *TrackerService) syncWorkStatus(ctx context.Context, tx store.Tx, userID, obligationID string, thisBlocked bool) (*notify.Event, error) {
	user, err := s.users.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	anyBlocked := thisBlocked
	if !anyBlocked {
		others, err := s.obligations.CountBlocked(ctx, tx, userID, obligationID)
		if err != nil {
			return nil, err
		}
		anyBlocked = others > 0
	}
	next := obligation.ProjectFromObligations(user.WorkStatus, anyBlocked)
	if next == user.WorkStatus {
		return nil, nil
	}
	if err := s.users.UpdateWorkStatus(ctx, tx, userID, next); err != nil {
		return nil, err
	}
	if err := s.audit.Log(ctx, tx, "", "work_status_changed", "user", userID, map[string]any{
		"from": user.WorkStatus,
		"to":   next,
	}); err != nil {
		return nil, err
	}
	return workStatusEvent(userID, next), nil
}

func workStatusEvent(userID string, status models.WorkStatus) *notify.Event {
	kind := notify.KindWorkSuspended
	if status == models.WorkActive {
		kind = notify.KindWorkRestored
	}
	return &notify.Event{Kind: kind, UserID: userID, Detail: string(status)}
}

func notificationKind(kind obligation.NotificationKind) notify.Kind {
	switch kind {
	case obligation.NotifyBlocked:
		return notify.KindObligationBlocked
	default:
		return notify.KindObligationWarning
	}
}
