package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"plexledger/internal/models"
	"plexledger/internal/store"
)

var ErrSessionNotFound = errors.New("reward session not found")

type SessionReader interface {
	GetByID(ctx context.Context, id string) (models.RewardSession, error)
}

type RecordReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.RewardRecord, error)
}

type Result struct {
	Summary  Summary
	Location string
	Body     []byte
}

type Exporter struct {
	sessions SessionReader
	records  RecordReader
	uploader Uploader
	prefix   string
	log      *slog.Logger
}

// NewExporter accepts a nil uploader; Export then renders without publishing.
func NewExporter(sessions SessionReader, records RecordReader, uploader Uploader, prefix string, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{sessions: sessions, records: records, uploader: uploader, prefix: prefix, log: log}
}

func (e *Exporter) Export(ctx context.Context, sessionID string) (Result, error) {
	session, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, ErrSessionNotFound
		}
		return Result{}, err
	}
	records, err := e.records.ListBySession(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("list session records: %w", err)
	}

	body, summary, err := WriteSessionCSV(session, records)
	if err != nil {
		return Result{}, fmt.Errorf("render session report: %w", err)
	}
	result := Result{Summary: summary, Body: body}
	if e.uploader == nil {
		return result, nil
	}

	key := path.Join(e.prefix, session.StartDate.UTC().Format("2006-01-02")+"_"+session.ID+".csv")
	location, err := e.uploader.Upload(ctx, key, "text/csv", body)
	if err != nil {
		return Result{}, err
	}
	result.Location = location
	e.log.InfoContext(ctx, "session report uploaded",
		slog.String("session_id", session.ID),
		slog.Int("records", summary.Records),
		slog.String("location", location),
	)
	return result, nil
}
