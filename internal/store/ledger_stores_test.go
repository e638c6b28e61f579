package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"plexledger/internal/models"

	"github.com/shopspring/decimal"
)

func TestDepositStoreArchiveReturnsRows(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "status = 'archived'") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[1] != "dep-new" {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 3}, nil
		},
	}
	store := NewDepositStore(stubDB{})
	n, err := store.Archive(ctx, execer, []string{"a", "b", "c"}, "dep-new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 archived, got %d", n)
	}
}

func TestDepositStoreLockConsolidatable(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") || !strings.Contains(query, "superseded_by IS NULL") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*[]models.Deposit) = []models.Deposit{{ID: "a"}, {ID: "b"}}
			return nil
		},
	}
	store := NewDepositStore(stubDB{})
	rows, err := store.LockConsolidatable(ctx, tx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestBonusCreditStoreCancelInactive(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "AND is_active") {
				t.Fatalf("unexpected query: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	}
	store := NewBonusCreditStore(stubDB{})
	err := store.Cancel(ctx, execer, "bonus-1", "admin-1", "abuse", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHolderStoreGetBonusCredit(t *testing.T) {
	ctx := context.Background()
	store := NewHolderStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM bonus_credits") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*holderRow) = holderRow{
				ID:        "bonus-1",
				UserID:    "user-1",
				Principal: decimal.NewFromInt(100),
				CapAmount: decimal.NewFromInt(500),
				ROIPaid:   decimal.NewFromInt(20),
			}
			return nil
		},
	})
	holder, err := store.Get(ctx, models.BonusCreditRef("bonus-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if holder.UserID != "user-1" || !holder.Remaining().Equal(decimal.NewFromInt(480)) {
		t.Fatalf("unexpected holder: %#v", holder)
	}
}

func TestHolderStoreGetForUpdateLocks(t *testing.T) {
	ctx := context.Background()
	tx := stubTx{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM deposits") || !strings.HasSuffix(query, "FOR UPDATE") {
				t.Fatalf("unexpected query: %s", query)
			}
			return sql.ErrNoRows
		},
	}
	store := NewHolderStore(stubDB{})
	if _, err := store.GetForUpdate(ctx, tx, models.DepositRef("dep-1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHolderStoreGetRejectsInvalidRef(t *testing.T) {
	store := NewHolderStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			t.Fatalf("unexpected query")
			return nil
		},
	})
	if _, err := store.Get(context.Background(), models.HolderRef{}); err == nil {
		t.Fatalf("expected error for empty ref")
	}
}

func TestHolderStoreListAccruable(t *testing.T) {
	ctx := context.Background()
	store := NewHolderStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "UNION ALL") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*[]holderKey) = []holderKey{{Kind: "deposit", ID: "d1"}, {Kind: "bonus_credit", ID: "b1"}}
			return nil
		},
	})
	refs, err := store.ListAccruable(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 2 || refs[1] != models.BonusCreditRef("b1") {
		t.Fatalf("unexpected refs: %#v", refs)
	}
}

func TestHolderStoreApplyRewardTargetsKindTable(t *testing.T) {
	ctx := context.Background()
	completed := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE bonus_credits") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[3] != true {
				t.Fatalf("expected completion flag, got %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewHolderStore(stubDB{})
	err := store.ApplyReward(ctx, execer, models.BonusCreditRef("b1"), decimal.NewFromInt(500), completed, &completed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestObligationStoreCreateRequiresOneHolder(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			t.Fatalf("unexpected insert")
			return nil, nil
		},
	}
	store := NewObligationStore(stubDB{})
	dep, bonus := "dep-1", "bonus-1"
	err := store.Create(ctx, execer, models.PaymentObligation{ID: "o1", DepositID: &dep, BonusCreditID: &bonus})
	if !errors.Is(err, models.ErrHolderAmbiguous) {
		t.Fatalf("expected ErrHolderAmbiguous, got %v", err)
	}
}

func TestObligationStoreSaveKeepsDaysPaidMonotonic(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "GREATEST(days_paid, $8)") {
				t.Fatalf("unexpected query: %s", query)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewObligationStore(stubDB{})
	if err := store.Save(ctx, execer, models.PaymentObligation{ID: "o1", DaysPaid: 3}, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestObligationStoreGetByHolderColumn(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE bonus_credit_id = $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			return sql.ErrNoRows
		},
	}
	store := NewObligationStore(stubDB{})
	if _, err := store.GetByHolder(ctx, getter, models.BonusCreditRef("b1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestObligationStoreCountBlockedIgnoresRetiredHolders(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			for _, want := range []string{
				"LEFT JOIN deposits d ON d.id = o.deposit_id",
				"LEFT JOIN bonus_credits b ON b.id = o.bonus_credit_id",
				"(d.status IN ('confirmed', 'active') OR b.is_active)",
				"o.status = 'blocked'",
			} {
				if !strings.Contains(query, want) {
					t.Fatalf("query missing %q: %s", want, query)
				}
			}
			if args[0] != "user-1" || args[1] != "o1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*int) = 1
			return nil
		},
	}
	store := NewObligationStore(stubDB{})
	count, err := store.CountBlocked(ctx, getter, "user-1", "o1")
	if err != nil || count != 1 {
		t.Fatalf("unexpected result: %d %v", count, err)
	}
}

func TestObligationStoreListTrackedKeyset(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var calls [][]any
	store := NewObligationStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "(o.next_payment_due, o.id) > ($2, $1)") || !strings.Contains(query, "ORDER BY o.next_payment_due, o.id") {
				t.Fatalf("unexpected query: %s", query)
			}
			calls = append(calls, args)
			*dest.(*[]models.PaymentObligation) = []models.PaymentObligation{{ID: "o9", NextPaymentDue: due}}
			return nil
		},
	})
	page, err := store.ListTracked(ctx, TrackCursor{}, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cursor := TrackCursor{}.After(page[0])
	if _, err := store.ListTracked(ctx, cursor, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls[0][0] != "" || calls[0][2] != 50 {
		t.Fatalf("first page must start unbounded: %#v", calls[0])
	}
	if calls[1][0] != "o9" || calls[1][1] != due {
		t.Fatalf("second page must continue after o9: %#v", calls[1])
	}
}

func TestRewardStoreInsertPassesThroughUniqueViolation(t *testing.T) {
	ctx := context.Background()
	dupErr := errors.New("duplicate")
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO reward_records") {
				t.Fatalf("unexpected query: %s", query)
			}
			return nil, dupErr
		},
	}
	store := NewRewardStore(stubDB{})
	dep := "dep-1"
	err := store.Insert(ctx, execer, models.RewardRecord{ID: "r1", DepositID: &dep, Days: 1})
	if !errors.Is(err, dupErr) {
		t.Fatalf("expected raw error, got %v", err)
	}
}

func TestRewardStoreExistsForSession(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "deposit_id = $1 AND reward_session_id = $2") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*bool) = true
			return nil
		},
	}
	store := NewRewardStore(stubDB{})
	exists, err := store.ExistsForSession(ctx, getter, models.DepositRef("dep-1"), "s1")
	if err != nil || !exists {
		t.Fatalf("expected existing record, got %v %v", exists, err)
	}
}

func TestRewardSessionStoreMarkCompletedMissing(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "FROM reward_records") {
				t.Fatalf("unexpected query: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	}
	store := NewRewardSessionStore(stubDB{})
	if err := store.MarkCompleted(ctx, execer, "s1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWithdrawalStoreSumSinceExcludesDenied(t *testing.T) {
	ctx := context.Background()
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "status <> 'denied'") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != since {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*decimal.Decimal) = decimal.RequireFromString("1500.5")
			return nil
		},
	}
	store := NewWithdrawalStore(stubDB{})
	total, err := store.SumSince(ctx, getter, since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total.String() != "1500.5" {
		t.Fatalf("unexpected total: %s", total)
	}
}

func TestTransferStoreFilterProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewTransferStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM processed_transfers") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*[]string) = []string{"0x2"}
			return nil
		},
	})
	processed, err := store.FilterProcessed(ctx, []string{"0x1", "0x2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed["0x1"] || !processed["0x2"] {
		t.Fatalf("unexpected processed set: %#v", processed)
	}
}

func TestTransferStoreFilterProcessedEmpty(t *testing.T) {
	store := NewTransferStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			t.Fatalf("unexpected query")
			return nil
		},
	})
	processed, err := store.FilterProcessed(context.Background(), nil)
	if err != nil || len(processed) != 0 {
		t.Fatalf("unexpected result: %#v %v", processed, err)
	}
}

func TestTransferStoreRecordConflict(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "ON CONFLICT (tx_hash) DO NOTHING") {
				t.Fatalf("unexpected query: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	}
	store := NewTransferStore(stubDB{})
	claimed, err := store.Record(ctx, execer, ProcessedTransfer{TxHash: "0x1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Fatalf("expected conflict to report unclaimed")
	}
}
