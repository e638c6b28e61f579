// Package reports renders reward-session summaries and publishes them to object storage.
package reports

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"plexledger/internal/models"
	"plexledger/internal/money"

	"github.com/shopspring/decimal"
)

var csvHeader = []string{
	"record_id", "user_id", "holder_kind", "holder_id", "amount", "rate", "days",
	"period_start", "period_end", "created_at",
}

// Summary is the aggregate written as the trailing row of a report.
type Summary struct {
	SessionID string
	Records   int
	Total     decimal.Decimal
}

// WriteSessionCSV renders one row per reward record followed by a total row.
func WriteSessionCSV(session models.RewardSession, records []models.RewardRecord) ([]byte, Summary, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, Summary{}, err
	}

	summary := Summary{SessionID: session.ID, Total: decimal.Zero}
	for _, r := range records {
		kind, id := holderColumns(r)
		row := []string{
			r.ID,
			r.UserID,
			kind,
			id,
			money.Format(r.Amount),
			r.Rate.String(),
			strconv.Itoa(r.Days),
			r.PeriodStart.UTC().Format(time.DateOnly),
			r.PeriodEnd.UTC().Format(time.DateOnly),
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, Summary{}, err
		}
		summary.Records++
		summary.Total = summary.Total.Add(r.Amount)
	}

	total := []string{"total", "", "", session.Name, money.Format(summary.Total), "", strconv.Itoa(summary.Records), "", "", ""}
	if err := w.Write(total); err != nil {
		return nil, Summary{}, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, Summary{}, err
	}
	return buf.Bytes(), summary, nil
}

func holderColumns(r models.RewardRecord) (string, string) {
	if r.BonusCreditID != nil {
		return string(models.HolderBonusCredit), *r.BonusCreditID
	}
	if r.DepositID != nil {
		return string(models.HolderDeposit), *r.DepositID
	}
	return "", ""
}
