package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"plexledger/internal/blockchain"
	"plexledger/internal/models"
	"plexledger/internal/notify"
	"plexledger/internal/obligation"
	"plexledger/internal/store"
)

var cycleStart = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

type trackerFixture struct {
	ob        models.PaymentObligation
	user      models.User
	saves     int
	statuses  []models.WorkStatus
	scanned   []int64
	chain     *stubChain
	transfers *stubTransferStore
	audit     *stubAuditStore
	notifier  *recordingNotifier
}

func newTrackerFixture() *trackerFixture {
	return &trackerFixture{
		ob:        obligation.New("ob-1", "user-1", models.DepositRef("dep-1"), dec("10000"), cycleStart),
		user:      models.User{ID: "user-1", WorkStatus: models.WorkActive},
		chain:     &stubChain{latest: 100},
		transfers: &stubTransferStore{},
		audit:     &stubAuditStore{},
		notifier:  &recordingNotifier{},
	}
}

func (f *trackerFixture) service() *TrackerService {
	users := stubUserStore{
		getByIDFn: func(context.Context, string) (models.User, error) {
			return f.user, nil
		},
		getForUpdateFn: func(context.Context, store.Getter, string) (models.User, error) {
			return f.user, nil
		},
		updateWorkStatusFn: func(_ context.Context, _ store.Execer, _ string, status models.WorkStatus) error {
			f.user.WorkStatus = status
			f.statuses = append(f.statuses, status)
			return nil
		},
		scannedFn: func(_ context.Context, _ store.Execer, _ string, block int64) error {
			f.user.LastScannedBlock = block
			f.scanned = append(f.scanned, block)
			return nil
		},
	}
	obligations := stubObligationStore{
		listTrackedFn: func(context.Context, store.TrackCursor, int) ([]models.PaymentObligation, error) {
			return []models.PaymentObligation{f.ob}, nil
		},
		getForUpdateFn: func(context.Context, store.Getter, string) (models.PaymentObligation, error) {
			return f.ob, nil
		},
		getByHolderFn: func(context.Context, store.Getter, models.HolderRef) (models.PaymentObligation, error) {
			return f.ob, nil
		},
		saveFn: func(_ context.Context, _ store.Execer, o models.PaymentObligation, _ time.Time) error {
			f.saves++
			f.ob = o
			return nil
		},
	}
	return NewTrackerService(fakeTxRunner{}, obligations, users, f.transfers, f.audit, f.chain,
		notify.NewDispatcher(f.notifier, testLogger()), nil, testLogger(), TrackerConfig{OperatorWallet: "0xoperator"})
}

func TestProcessDueNeverSkipsWarning(t *testing.T) {
	f := newTrackerFixture()
	service := f.service()

	summary, err := service.ProcessDue(context.Background(), cycleStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ob.Status != models.ObligationActive || summary.Evaluated != 1 || f.saves != 0 {
		t.Fatalf("T+24h should stay active without writes, got %s (%#v)", f.ob.Status, summary)
	}

	summary, _ = service.ProcessDue(context.Background(), cycleStart.Add(25*time.Hour))
	if f.ob.Status != models.ObligationWarning || summary.Warned != 1 {
		t.Fatalf("T+25h should warn, got %s", f.ob.Status)
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != notify.KindObligationWarning {
		t.Fatalf("expected one warning notification, got %v", kinds)
	}

	summary, _ = service.ProcessDue(context.Background(), cycleStart.Add(49*time.Hour))
	if f.ob.Status != models.ObligationBlocked || summary.Blocked != 1 {
		t.Fatalf("T+49h should block, got %s", f.ob.Status)
	}
	if f.user.WorkStatus != models.WorkSuspendedNoFee {
		t.Fatalf("expected user suspended for missing fee, got %s", f.user.WorkStatus)
	}
	kinds := f.notifier.kinds()
	if len(kinds) != 3 || kinds[1] != notify.KindObligationBlocked || kinds[2] != notify.KindWorkSuspended {
		t.Fatalf("unexpected notifications: %v", kinds)
	}
}

func TestProcessDueLateTickStillWarnsFirst(t *testing.T) {
	f := newTrackerFixture()
	service := f.service()

	if _, err := service.ProcessDue(context.Background(), cycleStart.Add(60*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ob.Status != models.ObligationWarning {
		t.Fatalf("first late tick must warn, got %s", f.ob.Status)
	}
	if _, err := service.ProcessDue(context.Background(), cycleStart.Add(60*time.Hour+time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ob.Status != models.ObligationBlocked {
		t.Fatalf("second tick should block, got %s", f.ob.Status)
	}
}

func TestProcessDueAppliesTransfer(t *testing.T) {
	f := newTrackerFixture()
	f.user.WalletAddress = "0xUser"
	f.user.LastScannedBlock = 40
	paidAt := cycleStart.Add(20 * time.Hour)
	f.chain.transfers = []blockchain.Transfer{
		{From: "0xother", Amount: dec("50000"), TxHash: "0xnot-mine", BlockNumber: 60},
		{From: "0xuser", Amount: dec("9999.99"), TxHash: "0xshort", BlockNumber: 70},
		{From: "0xuser", Amount: dec("10000"), TxHash: "0xpaid", BlockNumber: 90, Timestamp: paidAt},
		{From: "0xuser", Amount: dec("10000"), TxHash: "0xnext", BlockNumber: 95, Timestamp: paidAt.Add(time.Hour)},
	}

	summary, err := f.service().ProcessDue(context.Background(), cycleStart.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Paid != 1 || f.ob.Status != models.ObligationActive || !f.ob.IsWorkActive {
		t.Fatalf("expected paid obligation, got %#v %#v", summary, f.ob)
	}
	if !f.ob.CycleStart.Equal(paidAt) || f.ob.DaysPaid != 1 || *f.ob.LastPaymentTx != "0xpaid" {
		t.Fatalf("cycle not reset from payment: %#v", f.ob)
	}
	if len(f.transfers.recorded) != 1 || f.transfers.recorded[0].TxHash != "0xpaid" {
		t.Fatalf("unexpected recorded transfers: %#v", f.transfers.recorded)
	}
	if len(f.chain.ranges) != 1 || f.chain.ranges[0] != [2]int64{41, 100} {
		t.Fatalf("unexpected lookup ranges: %v", f.chain.ranges)
	}
	if len(f.scanned) != 1 || f.scanned[0] != 94 {
		t.Fatalf("scan should stop before the unclaimed payment, got %v", f.scanned)
	}
}

func TestProcessDueIgnoresProcessedTransfer(t *testing.T) {
	f := newTrackerFixture()
	f.user.WalletAddress = "0xuser"
	f.transfers.processed = map[string]bool{"0xpaid": true}
	f.chain.transfers = []blockchain.Transfer{
		{From: "0xuser", Amount: dec("10000"), TxHash: "0xpaid", BlockNumber: 90},
	}

	if _, err := f.service().ProcessDue(context.Background(), cycleStart.Add(25*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.ob.Status != models.ObligationWarning {
		t.Fatalf("a transfer already credited must not pay again, got %s", f.ob.Status)
	}
	if len(f.scanned) != 1 || f.scanned[0] != 100 {
		t.Fatalf("expected scan through 100, got %v", f.scanned)
	}
}

func TestProcessDueDefersOnLookupFailure(t *testing.T) {
	f := newTrackerFixture()
	f.user.WalletAddress = "0xuser"
	f.chain.transferErr = errBoom

	summary, err := f.service().ProcessDue(context.Background(), cycleStart.Add(30*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Deferred != 1 || summary.Evaluated != 0 {
		t.Fatalf("expected deferral, got %#v", summary)
	}
	if f.ob.Status != models.ObligationActive || f.saves != 0 || len(f.scanned) != 0 {
		t.Fatalf("a failed lookup must not move the obligation")
	}

	f.chain.transferErr = nil
	f.chain.latestErr = errBoom
	summary, _ = f.service().ProcessDue(context.Background(), cycleStart.Add(30*time.Hour))
	if summary.Deferred != 1 {
		t.Fatalf("latest block failure should defer, got %#v", summary)
	}
}

func TestRecordPayment(t *testing.T) {
	f := newTrackerFixture()
	f.ob.Status = models.ObligationBlocked
	f.user.WorkStatus = models.WorkSuspendedNoFee
	service := f.service()
	ref := models.DepositRef("dep-1")
	at := cycleStart.Add(50 * time.Hour)

	if _, err := service.RecordPayment(context.Background(), "admin-1", ref, dec("10"), "0xm", at); !errors.Is(err, ErrPaymentTooSmall) {
		t.Fatalf("expected ErrPaymentTooSmall, got %v", err)
	}

	o, err := service.RecordPayment(context.Background(), "admin-1", ref, dec("10000"), "0xm", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != models.ObligationActive || !o.IsWorkActive {
		t.Fatalf("payment should reactivate, got %#v", o)
	}
	if f.user.WorkStatus != models.WorkActive {
		t.Fatalf("user should be restored, got %s", f.user.WorkStatus)
	}
	if f.audit.calls[0].actorID != "admin-1" {
		t.Fatalf("manual payment must be attributed, got %#v", f.audit.calls[0])
	}

	if _, err := service.RecordPayment(context.Background(), "admin-1", ref, dec("10000"), "0xm", at); !errors.Is(err, ErrTransferAlreadyApplied) {
		t.Fatalf("expected ErrTransferAlreadyApplied, got %v", err)
	}
}

func TestProcessDuePagesThroughEveryObligation(t *testing.T) {
	rows := map[string]models.PaymentObligation{}
	var ordered []models.PaymentObligation
	for i, id := range []string{"ob-1", "ob-2", "ob-3", "ob-4", "ob-5"} {
		o := obligation.New(id, "user-"+id, models.DepositRef("dep-"+id), dec("10000"), cycleStart.Add(time.Duration(i)*time.Minute))
		if i < 3 {
			o.Status = models.ObligationBlocked
		}
		rows[id] = o
		ordered = append(ordered, o)
	}
	var pages int
	obligations := stubObligationStore{
		listTrackedFn: func(_ context.Context, after store.TrackCursor, limit int) ([]models.PaymentObligation, error) {
			pages++
			var page []models.PaymentObligation
			for _, o := range ordered {
				if after.ID != "" && !o.NextPaymentDue.After(after.Due) && (o.NextPaymentDue.Before(after.Due) || o.ID <= after.ID) {
					continue
				}
				if len(page) == limit {
					break
				}
				page = append(page, o)
			}
			return page, nil
		},
		getForUpdateFn: func(_ context.Context, _ store.Getter, id string) (models.PaymentObligation, error) {
			return rows[id], nil
		},
		saveFn: func(_ context.Context, _ store.Execer, o models.PaymentObligation, _ time.Time) error {
			rows[o.ID] = o
			return nil
		},
	}
	users := stubUserStore{
		getByIDFn: func(_ context.Context, id string) (models.User, error) {
			return models.User{ID: id, WorkStatus: models.WorkActive}, nil
		},
		getForUpdateFn: func(_ context.Context, _ store.Getter, id string) (models.User, error) {
			return models.User{ID: id, WorkStatus: models.WorkActive}, nil
		},
	}
	service := NewTrackerService(fakeTxRunner{}, obligations, users, &stubTransferStore{}, &stubAuditStore{}, &stubChain{latest: 100},
		notify.NewDispatcher(&recordingNotifier{}, testLogger()), nil, testLogger(), TrackerConfig{OperatorWallet: "0xoperator", BatchSize: 2})

	summary, err := service.ProcessDue(context.Background(), cycleStart.Add(26*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages != 3 {
		t.Fatalf("expected three pages, got %d", pages)
	}
	if summary.Evaluated != 5 || summary.Warned != 2 {
		t.Fatalf("blocked rows must not hide later obligations, got %#v", summary)
	}
	if rows["ob-4"].Status != models.ObligationWarning || rows["ob-5"].Status != models.ObligationWarning {
		t.Fatalf("obligations past the first page were not evaluated: %s %s", rows["ob-4"].Status, rows["ob-5"].Status)
	}
}
