// Package blockchain wraps the balance and transfer lookup service used for fee compliance.
package blockchain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const TokenPLEX = "PLEX"

type Transfer struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber int64           `json:"block_number"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Client is the lookup collaborator. Implementations return errors rather than guesses;
// a failed lookup must never be read as "no payment".
type Client interface {
	GetBalance(ctx context.Context, address, token string) (decimal.Decimal, error)
	GetIncomingTransfers(ctx context.Context, address, token string, fromBlock, toBlock int64) ([]Transfer, error)
	LatestBlock(ctx context.Context) (int64, error)
}
