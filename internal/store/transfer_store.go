package store

import (
	"context"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// TransferStore is the processed-transfer cache: a tx hash is credited at most once.
type TransferStore struct {
	db DB
}

func NewTransferStore(db DB) *TransferStore {
	return &TransferStore{db: db}
}

type ProcessedTransfer struct {
	TxHash       string
	ObligationID string
	FromAddress  string
	Amount       decimal.Decimal
	BlockNumber  int64
}

// FilterProcessed returns the subset of hashes already recorded.
func (s *TransferStore) FilterProcessed(ctx context.Context, hashes []string) (map[string]bool, error) {
	processed := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return processed, nil
	}
	var rows []string
	err := s.db.SelectContext(ctx, &rows, `
		SELECT tx_hash FROM processed_transfers WHERE tx_hash = ANY($1)
	`, pq.Array(hashes))
	if err != nil {
		return nil, err
	}
	for _, hash := range rows {
		processed[hash] = true
	}
	return processed, nil
}

// Record claims the transfer; false means another run already claimed it.
func (s *TransferStore) Record(ctx context.Context, tx Execer, t ProcessedTransfer) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO processed_transfers (tx_hash, obligation_id, from_address, amount, block_number)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tx_hash) DO NOTHING
	`, t.TxHash, t.ObligationID, t.FromAddress, t.Amount, t.BlockNumber)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
