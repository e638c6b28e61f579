package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"plexledger/internal/auth"
	"plexledger/internal/models"
	"plexledger/internal/reports"
	"plexledger/internal/services"

	"github.com/shopspring/decimal"
)

const testSecret = "test-secret"

var fixedNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

type stubAdminStore struct {
	isAdminFn func(ctx context.Context, userID string) (bool, bool, error)
	hasRoleFn func(ctx context.Context, userID, role string) (bool, error)
}

func (s stubAdminStore) IsAdmin(ctx context.Context, userID string) (bool, bool, error) {
	if s.isAdminFn == nil {
		return true, true, nil
	}
	return s.isAdminFn(ctx, userID)
}

func (s stubAdminStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if s.hasRoleFn == nil {
		return false, nil
	}
	return s.hasRoleFn(ctx, userID, role)
}

type stubAuditStore struct {
	listFn func(ctx context.Context, entityType string, limit, offset int) ([]models.AuditEntry, error)
}

func (s stubAuditStore) List(ctx context.Context, entityType string, limit, offset int) ([]models.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, entityType, limit, offset)
}

type stubTasks struct {
	names    []string
	runNowFn func(ctx context.Context, name string) (any, error)
}

func (s stubTasks) Names() []string { return s.names }

func (s stubTasks) RunNow(ctx context.Context, name string) (any, error) {
	if s.runNowFn == nil {
		return nil, nil
	}
	return s.runNowFn(ctx, name)
}

type stubConsolidator struct {
	consolidateFn func(ctx context.Context, userID, actorID string, now time.Time) (models.Deposit, error)
}

func (s stubConsolidator) Consolidate(ctx context.Context, userID, actorID string, now time.Time) (models.Deposit, error) {
	return s.consolidateFn(ctx, userID, actorID, now)
}

type stubGuard struct {
	authorizeFn func(ctx context.Context, userID string, amount decimal.Decimal) (services.Decision, error)
	requestFn   func(ctx context.Context, userID string, amount decimal.Decimal) (models.Withdrawal, services.Decision, error)
}

func (s stubGuard) Authorize(ctx context.Context, userID string, amount decimal.Decimal) (services.Decision, error) {
	return s.authorizeFn(ctx, userID, amount)
}

func (s stubGuard) Request(ctx context.Context, userID string, amount decimal.Decimal) (models.Withdrawal, services.Decision, error) {
	return s.requestFn(ctx, userID, amount)
}

type stubPayments struct {
	recordFn func(ctx context.Context, actorID string, ref models.HolderRef, amount decimal.Decimal, txHash string, at time.Time) (models.PaymentObligation, error)
}

func (s stubPayments) RecordPayment(ctx context.Context, actorID string, ref models.HolderRef, amount decimal.Decimal, txHash string, at time.Time) (models.PaymentObligation, error) {
	return s.recordFn(ctx, actorID, ref, amount, txHash, at)
}

type stubHolders struct {
	confirmFn func(ctx context.Context, actorID string, in services.DepositInput) (models.Deposit, error)
	grantFn   func(ctx context.Context, actorID string, in services.BonusInput) (models.BonusCredit, error)
}

func (s stubHolders) ConfirmDeposit(ctx context.Context, actorID string, in services.DepositInput) (models.Deposit, error) {
	return s.confirmFn(ctx, actorID, in)
}

func (s stubHolders) GrantBonus(ctx context.Context, actorID string, in services.BonusInput) (models.BonusCredit, error) {
	return s.grantFn(ctx, actorID, in)
}

type stubOverrides struct {
	setPaidFn func(ctx context.Context, actorID string, ref models.HolderRef, paid decimal.Decimal, reason string) (models.Holder, error)
	setCapFn  func(ctx context.Context, actorID string, ref models.HolderRef, capAmount decimal.Decimal, reason string) (models.Holder, error)
	cancelFn  func(ctx context.Context, actorID, bonusCreditID, reason string) error
	flagsFn   func(ctx context.Context, actorID, userID string, flags services.UserFlags, reason string) (models.User, error)
}

func (s stubOverrides) SetROIPaid(ctx context.Context, actorID string, ref models.HolderRef, paid decimal.Decimal, reason string) (models.Holder, error) {
	return s.setPaidFn(ctx, actorID, ref, paid, reason)
}

func (s stubOverrides) SetCapAmount(ctx context.Context, actorID string, ref models.HolderRef, capAmount decimal.Decimal, reason string) (models.Holder, error) {
	return s.setCapFn(ctx, actorID, ref, capAmount, reason)
}

func (s stubOverrides) CancelBonusCredit(ctx context.Context, actorID, bonusCreditID, reason string) error {
	return s.cancelFn(ctx, actorID, bonusCreditID, reason)
}

func (s stubOverrides) SetUserFlags(ctx context.Context, actorID, userID string, flags services.UserFlags, reason string) (models.User, error) {
	return s.flagsFn(ctx, actorID, userID, flags, reason)
}

type stubSessions struct {
	createFn    func(ctx context.Context, actorID string, in services.SessionInput) (models.RewardSession, error)
	getFn       func(ctx context.Context, id string) (models.RewardSession, error)
	setActiveFn func(ctx context.Context, actorID, id string, active bool) error
}

func (s stubSessions) Create(ctx context.Context, actorID string, in services.SessionInput) (models.RewardSession, error) {
	return s.createFn(ctx, actorID, in)
}

func (s stubSessions) List(context.Context, int, int) ([]models.RewardSession, error) {
	return nil, nil
}

func (s stubSessions) Get(ctx context.Context, id string) (models.RewardSession, error) {
	return s.getFn(ctx, id)
}

func (s stubSessions) SetActive(ctx context.Context, actorID, id string, active bool) error {
	return s.setActiveFn(ctx, actorID, id, active)
}

type stubRunner struct {
	runFn func(ctx context.Context, sessionID string, asOf time.Time) (services.RunSummary, error)
}

func (s stubRunner) RunSession(ctx context.Context, sessionID string, asOf time.Time) (services.RunSummary, error) {
	return s.runFn(ctx, sessionID, asOf)
}

type stubReports struct {
	exportFn func(ctx context.Context, sessionID string) (reports.Result, error)
}

func (s stubReports) Export(ctx context.Context, sessionID string) (reports.Result, error) {
	return s.exportFn(ctx, sessionID)
}

func newTestHandler(admin AdminStore, audit AuditStore, svc Services) *Handler {
	h := New(Config{JWTSecret: testSecret, AllowedOrigins: "*"}, admin, audit, svc, nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return fixedNow }
	return h
}

// serve sends an authenticated request for admin-1 through the full router.
func serve(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, "admin-1", time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
}
