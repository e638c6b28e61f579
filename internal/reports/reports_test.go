package reports

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"plexledger/internal/models"
	"plexledger/internal/store"

	"github.com/shopspring/decimal"
)

type stubSessions struct {
	session models.RewardSession
	err     error
}

func (s stubSessions) GetByID(context.Context, string) (models.RewardSession, error) {
	return s.session, s.err
}

type stubRecords struct {
	records []models.RewardRecord
}

func (s stubRecords) ListBySession(context.Context, string) ([]models.RewardRecord, error) {
	return s.records, nil
}

type recordingUploader struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (u *recordingUploader) Upload(_ context.Context, key, contentType string, body []byte) (string, error) {
	u.key = key
	u.contentType = contentType
	u.body = body
	if u.err != nil {
		return "", u.err
	}
	return "s3://reports/" + key, nil
}

func strPtr(v string) *string { return &v }

func fixture() (models.RewardSession, []models.RewardRecord) {
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	session := models.RewardSession{ID: "sess-1", Name: "April 1", StartDate: start, EndDate: start}
	records := []models.RewardRecord{
		{
			ID: "r1", UserID: "u1", DepositID: strPtr("d1"), RewardSessionID: strPtr("sess-1"),
			Amount: decimal.RequireFromString("20"), Rate: decimal.RequireFromString("2"), Days: 1,
			PeriodStart: start, PeriodEnd: start, CreatedAt: start.Add(time.Hour),
		},
		{
			ID: "r2", UserID: "u2", BonusCreditID: strPtr("b1"), RewardSessionID: strPtr("sess-1"),
			Amount: decimal.RequireFromString("0.12345678"), Rate: decimal.RequireFromString("1.5"), Days: 1,
			PeriodStart: start, PeriodEnd: start, CreatedAt: start.Add(2 * time.Hour),
		},
	}
	return session, records
}

func TestWriteSessionCSV(t *testing.T) {
	session, records := fixture()
	body, summary, err := WriteSessionCSV(session, records)
	if err != nil {
		t.Fatalf("WriteSessionCSV: %v", err)
	}
	if summary.Records != 2 || !summary.Total.Equal(decimal.RequireFromString("20.12345678")) {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header, two rows and total, got %d rows", len(rows))
	}
	if rows[1][2] != "deposit" || rows[1][3] != "d1" || rows[1][4] != "20.00000000" {
		t.Fatalf("unexpected deposit row: %v", rows[1])
	}
	if rows[2][2] != "bonus_credit" || rows[2][3] != "b1" {
		t.Fatalf("unexpected bonus row: %v", rows[2])
	}
	if rows[3][0] != "total" || rows[3][4] != "20.12345678" || rows[3][6] != "2" {
		t.Fatalf("unexpected total row: %v", rows[3])
	}
}

func TestExporterUploadsWithDatedKey(t *testing.T) {
	session, records := fixture()
	uploader := &recordingUploader{}
	exporter := NewExporter(stubSessions{session: session}, stubRecords{records: records}, uploader, "reward-sessions",
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := exporter.Export(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if uploader.key != "reward-sessions/2025-04-01_sess-1.csv" {
		t.Fatalf("unexpected key %q", uploader.key)
	}
	if uploader.contentType != "text/csv" {
		t.Fatalf("unexpected content type %q", uploader.contentType)
	}
	if result.Location != "s3://reports/reward-sessions/2025-04-01_sess-1.csv" {
		t.Fatalf("unexpected location %q", result.Location)
	}
	if string(uploader.body) != string(result.Body) {
		t.Fatalf("uploaded body differs from rendered body")
	}
}

func TestExporterWithoutUploaderOnlyRenders(t *testing.T) {
	session, records := fixture()
	exporter := NewExporter(stubSessions{session: session}, stubRecords{records: records}, nil, "", nil)
	result, err := exporter.Export(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.Location != "" || len(result.Body) == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExporterErrors(t *testing.T) {
	exporter := NewExporter(stubSessions{err: store.ErrNotFound}, stubRecords{}, nil, "", nil)
	if _, err := exporter.Export(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	session, records := fixture()
	boom := errors.New("bucket unavailable")
	exporter = NewExporter(stubSessions{session: session}, stubRecords{records: records}, &recordingUploader{err: boom}, "", nil)
	if _, err := exporter.Export(context.Background(), "sess-1"); !errors.Is(err, boom) {
		t.Fatalf("expected upload error, got %v", err)
	}
}
