package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"plexledger/internal/blockchain"
	"plexledger/internal/models"
	"plexledger/internal/notify"
	"plexledger/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func stringPtr(value string) *string {
	return &value
}

var errUniqueViolation = &pq.Error{Code: "23505"}

type stubUserStore struct {
	getByIDFn          func(ctx context.Context, userID string) (models.User, error)
	getForUpdateFn     func(ctx context.Context, tx store.Getter, userID string) (models.User, error)
	listFn             func(ctx context.Context) ([]models.User, error)
	updateWorkStatusFn func(ctx context.Context, tx store.Execer, userID string, status models.WorkStatus) error
	recordFeeCheckFn   func(ctx context.Context, tx store.Execer, userID string, balance decimal.Decimal, checkedAt time.Time, since *time.Time) error
	addDepositedFn     func(ctx context.Context, tx store.Execer, userID string, amount decimal.Decimal) error
	addWithdrawnFn     func(ctx context.Context, tx store.Execer, userID string, amount decimal.Decimal) error
	markFn             func(ctx context.Context, tx store.Execer, userID string) error
	scannedFn          func(ctx context.Context, tx store.Execer, userID string, block int64) error
	setFlagsFn         func(ctx context.Context, tx store.Execer, userID string, banned, withdrawalBlocked, earningsBlocked bool) error
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.User, error) {
	if s.getForUpdateFn == nil {
		return models.User{ID: userID, WorkStatus: models.WorkActive}, nil
	}
	return s.getForUpdateFn(ctx, tx, userID)
}

func (s stubUserStore) ListWithObligations(ctx context.Context) ([]models.User, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

func (s stubUserStore) UpdateWorkStatus(ctx context.Context, tx store.Execer, userID string, status models.WorkStatus) error {
	if s.updateWorkStatusFn == nil {
		return nil
	}
	return s.updateWorkStatusFn(ctx, tx, userID, status)
}

func (s stubUserStore) RecordFeeCheck(ctx context.Context, tx store.Execer, userID string, balance decimal.Decimal, checkedAt time.Time, since *time.Time) error {
	if s.recordFeeCheckFn == nil {
		return nil
	}
	return s.recordFeeCheckFn(ctx, tx, userID, balance, checkedAt, since)
}

func (s stubUserStore) AddDeposited(ctx context.Context, tx store.Execer, userID string, amount decimal.Decimal) error {
	if s.addDepositedFn == nil {
		return nil
	}
	return s.addDepositedFn(ctx, tx, userID, amount)
}

func (s stubUserStore) AddWithdrawn(ctx context.Context, tx store.Execer, userID string, amount decimal.Decimal) error {
	if s.addWithdrawnFn == nil {
		return nil
	}
	return s.addWithdrawnFn(ctx, tx, userID, amount)
}

func (s stubUserStore) MarkConsolidated(ctx context.Context, tx store.Execer, userID string) error {
	if s.markFn == nil {
		return nil
	}
	return s.markFn(ctx, tx, userID)
}

func (s stubUserStore) UpdateLastScannedBlock(ctx context.Context, tx store.Execer, userID string, block int64) error {
	if s.scannedFn == nil {
		return nil
	}
	return s.scannedFn(ctx, tx, userID, block)
}

func (s stubUserStore) SetFlags(ctx context.Context, tx store.Execer, userID string, banned, withdrawalBlocked, earningsBlocked bool) error {
	if s.setFlagsFn == nil {
		return nil
	}
	return s.setFlagsFn(ctx, tx, userID, banned, withdrawalBlocked, earningsBlocked)
}

type stubHolderStore struct {
	getForUpdateFn func(ctx context.Context, tx store.Getter, ref models.HolderRef) (models.Holder, error)
	listFn         func(ctx context.Context) ([]models.HolderRef, error)
	applyFn        func(ctx context.Context, tx store.Execer, ref models.HolderRef, paid decimal.Decimal, next time.Time, completedAt *time.Time) error
	setPaidFn      func(ctx context.Context, tx store.Execer, ref models.HolderRef, paid decimal.Decimal, at time.Time) error
	setCapFn       func(ctx context.Context, tx store.Execer, ref models.HolderRef, capAmount decimal.Decimal, at time.Time) error
}

func (s stubHolderStore) Get(ctx context.Context, ref models.HolderRef) (models.Holder, error) {
	return s.GetForUpdate(ctx, nil, ref)
}

func (s stubHolderStore) GetForUpdate(ctx context.Context, tx store.Getter, ref models.HolderRef) (models.Holder, error) {
	if s.getForUpdateFn == nil {
		return models.Holder{}, store.ErrNotFound
	}
	return s.getForUpdateFn(ctx, tx, ref)
}

func (s stubHolderStore) ListAccruable(ctx context.Context) ([]models.HolderRef, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

func (s stubHolderStore) ApplyReward(ctx context.Context, tx store.Execer, ref models.HolderRef, paid decimal.Decimal, next time.Time, completedAt *time.Time) error {
	if s.applyFn == nil {
		return nil
	}
	return s.applyFn(ctx, tx, ref, paid, next, completedAt)
}

func (s stubHolderStore) SetROIPaid(ctx context.Context, tx store.Execer, ref models.HolderRef, paid decimal.Decimal, at time.Time) error {
	if s.setPaidFn == nil {
		return nil
	}
	return s.setPaidFn(ctx, tx, ref, paid, at)
}

func (s stubHolderStore) SetCapAmount(ctx context.Context, tx store.Execer, ref models.HolderRef, capAmount decimal.Decimal, at time.Time) error {
	if s.setCapFn == nil {
		return nil
	}
	return s.setCapFn(ctx, tx, ref, capAmount, at)
}

type stubObligationStore struct {
	createFn       func(ctx context.Context, tx store.Execer, o models.PaymentObligation) error
	getForUpdateFn func(ctx context.Context, tx store.Getter, id string) (models.PaymentObligation, error)
	getByHolderFn  func(ctx context.Context, getter store.Getter, ref models.HolderRef) (models.PaymentObligation, error)
	listTrackedFn  func(ctx context.Context, after store.TrackCursor, limit int) ([]models.PaymentObligation, error)
	saveFn         func(ctx context.Context, tx store.Execer, o models.PaymentObligation, now time.Time) error
	countBlockedFn func(ctx context.Context, getter store.Getter, userID, exceptID string) (int, error)
	sumFeesFn      func(ctx context.Context, getter store.Getter, userID string) (models.FeeSummary, error)
}

func (s stubObligationStore) Create(ctx context.Context, tx store.Execer, o models.PaymentObligation) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, o)
}

func (s stubObligationStore) GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.PaymentObligation, error) {
	if s.getForUpdateFn == nil {
		return models.PaymentObligation{}, store.ErrNotFound
	}
	return s.getForUpdateFn(ctx, tx, id)
}

func (s stubObligationStore) GetByHolder(ctx context.Context, getter store.Getter, ref models.HolderRef) (models.PaymentObligation, error) {
	if s.getByHolderFn == nil {
		return models.PaymentObligation{}, store.ErrNotFound
	}
	return s.getByHolderFn(ctx, getter, ref)
}

func (s stubObligationStore) ListTracked(ctx context.Context, after store.TrackCursor, limit int) ([]models.PaymentObligation, error) {
	if s.listTrackedFn == nil {
		return nil, nil
	}
	return s.listTrackedFn(ctx, after, limit)
}

func (s stubObligationStore) Save(ctx context.Context, tx store.Execer, o models.PaymentObligation, now time.Time) error {
	if s.saveFn == nil {
		return nil
	}
	return s.saveFn(ctx, tx, o, now)
}

func (s stubObligationStore) CountBlocked(ctx context.Context, getter store.Getter, userID, exceptID string) (int, error) {
	if s.countBlockedFn == nil {
		return 0, nil
	}
	return s.countBlockedFn(ctx, getter, userID, exceptID)
}

func (s stubObligationStore) SumDailyFees(ctx context.Context, getter store.Getter, userID string) (models.FeeSummary, error) {
	if s.sumFeesFn == nil {
		return models.FeeSummary{}, nil
	}
	return s.sumFeesFn(ctx, getter, userID)
}

type stubDepositStore struct {
	createFn  func(ctx context.Context, tx store.Execer, d models.Deposit) error
	lockFn    func(ctx context.Context, tx store.Selecter, userID string) ([]models.Deposit, error)
	archiveFn func(ctx context.Context, tx store.Execer, ids []string, supersededBy string) (int64, error)
	sumFn     func(ctx context.Context, tx store.Getter, ids []string) (decimal.Decimal, error)
}

func (s stubDepositStore) Create(ctx context.Context, tx store.Execer, d models.Deposit) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, d)
}

func (s stubDepositStore) LockConsolidatable(ctx context.Context, tx store.Selecter, userID string) ([]models.Deposit, error) {
	if s.lockFn == nil {
		return nil, nil
	}
	return s.lockFn(ctx, tx, userID)
}

func (s stubDepositStore) Archive(ctx context.Context, tx store.Execer, ids []string, supersededBy string) (int64, error) {
	if s.archiveFn == nil {
		return int64(len(ids)), nil
	}
	return s.archiveFn(ctx, tx, ids, supersededBy)
}

func (s stubDepositStore) SumPrincipal(ctx context.Context, tx store.Getter, ids []string) (decimal.Decimal, error) {
	return s.sumFn(ctx, tx, ids)
}

type stubBonusCreditStore struct {
	createFn       func(ctx context.Context, tx store.Execer, b models.BonusCredit) error
	getForUpdateFn func(ctx context.Context, tx store.Getter, id string) (models.BonusCredit, error)
	cancelFn       func(ctx context.Context, tx store.Execer, id, actorID, reason string, at time.Time) error
}

func (s stubBonusCreditStore) Create(ctx context.Context, tx store.Execer, b models.BonusCredit) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, b)
}

func (s stubBonusCreditStore) GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.BonusCredit, error) {
	if s.getForUpdateFn == nil {
		return models.BonusCredit{}, store.ErrNotFound
	}
	return s.getForUpdateFn(ctx, tx, id)
}

func (s stubBonusCreditStore) Cancel(ctx context.Context, tx store.Execer, id, actorID, reason string, at time.Time) error {
	if s.cancelFn == nil {
		return nil
	}
	return s.cancelFn(ctx, tx, id, actorID, reason, at)
}

// memRewardStore enforces the (holder, session) uniqueness the database index provides.
type memRewardStore struct {
	mu      sync.Mutex
	records []models.RewardRecord
	seen    map[string]bool
}

func sessionKey(r models.RewardRecord) string {
	if r.RewardSessionID == nil {
		return ""
	}
	id := ""
	if r.DepositID != nil {
		id = *r.DepositID
	}
	if r.BonusCreditID != nil {
		id = *r.BonusCreditID
	}
	return id + "/" + *r.RewardSessionID
}

func (s *memRewardStore) Insert(_ context.Context, _ store.Execer, r models.RewardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := sessionKey(r); key != "" {
		if s.seen == nil {
			s.seen = make(map[string]bool)
		}
		if s.seen[key] {
			return errUniqueViolation
		}
		s.seen[key] = true
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memRewardStore) ExistsForSession(context.Context, store.Getter, models.HolderRef, string) (bool, error) {
	return false, nil
}

func (s *memRewardStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type stubSessionStore struct {
	sessions  map[string]models.RewardSession
	started   []string
	completed []string
}

func (s *stubSessionStore) Create(_ context.Context, _ store.Execer, rs models.RewardSession) error {
	if s.sessions == nil {
		s.sessions = make(map[string]models.RewardSession)
	}
	s.sessions[rs.ID] = rs
	return nil
}

func (s *stubSessionStore) GetByID(_ context.Context, id string) (models.RewardSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return models.RewardSession{}, store.ErrNotFound
	}
	return session, nil
}

func (s *stubSessionStore) List(context.Context, int, int) ([]models.RewardSession, error) {
	var out []models.RewardSession
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out, nil
}

func (s *stubSessionStore) ListRunnable(_ context.Context, at time.Time) ([]models.RewardSession, error) {
	var out []models.RewardSession
	for _, session := range s.sessions {
		if session.IsActive && session.CompletedAt == nil && !session.StartDate.After(at) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *stubSessionStore) MarkStarted(_ context.Context, _ store.Execer, id string, _ time.Time) error {
	s.started = append(s.started, id)
	return nil
}

func (s *stubSessionStore) MarkCompleted(_ context.Context, _ store.Execer, id string, at time.Time) error {
	s.completed = append(s.completed, id)
	session := s.sessions[id]
	session.CompletedAt = &at
	s.sessions[id] = session
	return nil
}

func (s *stubSessionStore) SetActive(_ context.Context, _ store.Execer, id string, active bool) error {
	session, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	session.IsActive = active
	s.sessions[id] = session
	return nil
}

type stubWithdrawalStore struct {
	created []models.Withdrawal
	today   decimal.Decimal
}

func (s *stubWithdrawalStore) Create(_ context.Context, _ store.Execer, w models.Withdrawal) error {
	s.created = append(s.created, w)
	return nil
}

func (s *stubWithdrawalStore) SumSince(context.Context, store.Getter, time.Time) (decimal.Decimal, error) {
	return s.today, nil
}

type stubTransferStore struct {
	processed map[string]bool
	recorded  []store.ProcessedTransfer
}

func (s *stubTransferStore) FilterProcessed(_ context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, hash := range hashes {
		if s.processed[hash] {
			out[hash] = true
		}
	}
	return out, nil
}

func (s *stubTransferStore) Record(_ context.Context, _ store.Execer, t store.ProcessedTransfer) (bool, error) {
	if s.processed == nil {
		s.processed = make(map[string]bool)
	}
	if s.processed[t.TxHash] {
		return false, nil
	}
	s.processed[t.TxHash] = true
	s.recorded = append(s.recorded, t)
	return true, nil
}

type auditCall struct {
	actorID    string
	action     string
	entityType string
	entityID   string
}

type stubAuditStore struct {
	calls []auditCall
	err   error
}

func (s *stubAuditStore) Log(_ context.Context, _ store.Execer, actorID, action, entityType, entityID string, _ any) error {
	s.calls = append(s.calls, auditCall{actorID: actorID, action: action, entityType: entityType, entityID: entityID})
	return s.err
}

func (s *stubAuditStore) actions() []string {
	out := make([]string, 0, len(s.calls))
	for _, call := range s.calls {
		out = append(out, call.action)
	}
	return out
}

type stubChain struct {
	balance     decimal.Decimal
	balanceErr  error
	latest      int64
	latestErr   error
	transfers   []blockchain.Transfer
	transferErr error
	ranges      [][2]int64
}

func (s *stubChain) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	return s.balance, s.balanceErr
}

func (s *stubChain) GetIncomingTransfers(_ context.Context, _, _ string, from, to int64) ([]blockchain.Transfer, error) {
	s.ranges = append(s.ranges, [2]int64{from, to})
	return s.transfers, s.transferErr
}

func (s *stubChain) LatestBlock(context.Context) (int64, error) {
	return s.latest, s.latestErr
}

type recordingNotifier struct {
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) kinds() []notify.Kind {
	out := make([]notify.Kind, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Kind)
	}
	return out
}

var errBoom = errors.New("boom")
