package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Transaction is one account buy or sell.
type Transaction struct {
	ID         int64
	ExecutedAt time.Time
	Ticker     string
	Side       string // buy | sell
	Quantity   float64
	Price      float64
}

// TransactionRepo stores account transactions. Positions can be
// derived from these rows when the configuration does not declare them
// explicitly.
type TransactionRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepo creates a transaction repository.
func NewTransactionRepo(db *sql.DB, log zerolog.Logger) *TransactionRepo {
	return &TransactionRepo{
		db:  db,
		log: log.With().Str("repository", "transactions").Logger(),
	}
}

// Insert stores one transaction.
func (r *TransactionRepo) Insert(t *Transaction) error {
	if t.Side != "buy" && t.Side != "sell" {
		return fmt.Errorf("invalid transaction side %q", t.Side)
	}
	err := r.db.QueryRow(`
		INSERT INTO account_transactions (executed_at, ticker, side, quantity, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		t.ExecutedAt.UTC().Format(time.RFC3339), t.Ticker, t.Side, t.Quantity, t.Price,
		time.Now().UTC().Format(time.RFC3339),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// NetQuantities returns the net held quantity per ticker.
func (r *TransactionRepo) NetQuantities() (map[string]float64, error) {
	rows, err := r.db.Query(`
		SELECT ticker,
		       SUM(CASE side WHEN 'buy' THEN quantity ELSE -quantity END)
		FROM account_transactions
		GROUP BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var ticker string
		var qty sql.NullFloat64
		if err := rows.Scan(&ticker, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan transaction aggregate: %w", err)
		}
		if qty.Valid && qty.Float64 != 0 {
			out[ticker] = qty.Float64
		}
	}
	return out, rows.Err()
}
