// Package account assembles the account state the risk gate checks
// candidates against.
package account

import (
	"github.com/rs/zerolog"

	"ivscan/internal/config"
	"ivscan/internal/domain"
	"ivscan/internal/storage"
)

// Loader builds an AccountState from configuration, optionally merging
// positions derived from recorded transactions.
type Loader struct {
	cfg          *config.Config
	transactions *storage.TransactionRepo
	log          zerolog.Logger
}

func NewLoader(cfg *config.Config, transactions *storage.TransactionRepo, log zerolog.Logger) *Loader {
	return &Loader{
		cfg:          cfg,
		transactions: transactions,
		log:          log.With().Str("component", "account").Logger(),
	}
}

// Load returns a fresh account state. Configured positions win over
// transaction-derived ones for the same ticker; the result is treated
// as immutable within a scan.
func (l *Loader) Load() *domain.AccountState {
	state := &domain.AccountState{
		CashAvailable:   l.cfg.Account.CashAvailable,
		MarginAvailable: l.cfg.Account.MarginAvailable,
	}

	declared := make(map[string]bool, len(l.cfg.Account.Positions))
	for _, p := range l.cfg.Account.Positions {
		declared[p.Ticker] = true
		state.Positions = append(state.Positions, domain.Position{
			Ticker:      p.Ticker,
			MarketValue: p.MarketValue,
			Quantity:    p.Quantity,
		})
	}

	if l.transactions != nil {
		net, err := l.transactions.NetQuantities()
		if err != nil {
			l.log.Warn().Err(err).Msg("transaction positions unavailable, using configured positions only")
			return state
		}
		for ticker, qty := range net {
			if declared[ticker] {
				continue
			}
			// Market value is unknown without a quote; the gate only
			// needs the quantity for concentration on held tickers.
			state.Positions = append(state.Positions, domain.Position{
				Ticker:   ticker,
				Quantity: qty,
			})
		}
	}

	return state
}
