package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func TestAuditStoreLog(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO audit_logs") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 6 || args[2] != "consolidate" || args[3] != "user" {
				t.Fatalf("unexpected args: %#v", args)
			}
			actor := args[1].(*string)
			if actor == nil || *actor != "admin-1" {
				t.Fatalf("unexpected actor: %#v", args[1])
			}
			if args[5] != `{"count":2}` {
				t.Fatalf("unexpected payload: %#v", args[5])
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAuditStore(stubDB{})
	err := store.Log(ctx, execer, "admin-1", "consolidate", "user", "user-1", map[string]int{"count": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditStoreLogSystemActor(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if args[1].(*string) != nil {
				t.Fatalf("expected nil actor, got %#v", args[1])
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAuditStore(stubDB{})
	if err := store.Log(ctx, execer, "", "accrual_anomaly", "deposit", "dep-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM audit_logs") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[0] != "deposit" || args[1] != 10 || args[2] != 5 {
				t.Fatalf("unexpected args: %#v", args)
			}
			actor := "admin-1"
			*dest.(*[]auditRow) = []auditRow{{ID: "log-1", ActorUserID: &actor, Data: `{"a":1}`}}
			return nil
		},
	})
	rows, err := store.List(ctx, "deposit", 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "log-1" || rows[0].ActorUserID != "admin-1" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
	if string(rows[0].Data) != `{"a":1}` {
		t.Fatalf("unexpected data: %s", rows[0].Data)
	}
}
