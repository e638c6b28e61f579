package main

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
)

type recordingExecer struct {
	statements []string
	failOn     string
}

func (r *recordingExecer) Exec(query string, _ ...any) (sql.Result, error) {
	if r.failOn != "" && strings.Contains(query, r.failOn) {
		return nil, errors.New("exec failed")
	}
	r.statements = append(r.statements, strings.TrimSpace(query))
	return nil, nil
}

const sample = `-- create tables
CREATE TABLE a (id text);
CREATE TABLE b (
    id text
);

-- +migrate Down
DROP TABLE b;
DROP TABLE a;
`

func TestApplyUpSkipsDownSection(t *testing.T) {
	execer := &recordingExecer{}
	if err := applyUp(execer, sample); err != nil {
		t.Fatalf("applyUp: %v", err)
	}
	if len(execer.statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(execer.statements), execer.statements)
	}
	for _, stmt := range execer.statements {
		if strings.Contains(stmt, "DROP") {
			t.Fatalf("down statement executed: %s", stmt)
		}
	}
}

func TestApplyUpStopsOnError(t *testing.T) {
	execer := &recordingExecer{failOn: "TABLE b"}
	if err := applyUp(execer, sample); err == nil {
		t.Fatalf("expected error")
	}
	if len(execer.statements) != 1 {
		t.Fatalf("expected only the first statement to run, got %v", execer.statements)
	}
}

func TestSplitSQLDropsComments(t *testing.T) {
	statements := splitSQL("-- header\nSELECT 1;\n  -- inline\nSELECT 2;\n")
	if len(statements) != 2 || strings.Contains(statements[1], "inline") {
		t.Fatalf("unexpected split: %q", statements)
	}
}
