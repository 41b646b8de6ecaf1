package account

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivscan/internal/config"
	"ivscan/internal/storage"
)

func newTxRepo(t *testing.T) *storage.TransactionRepo {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "cache.db"), MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(zerolog.Nop()))
	return storage.NewTransactionRepo(db.Conn(), zerolog.Nop())
}

func TestLoadFromConfigOnly(t *testing.T) {
	cfg := &config.Config{}
	cfg.Account.CashAvailable = 50_000
	cfg.Account.MarginAvailable = 25_000
	cfg.Account.Positions = []config.PositionConfig{
		{Ticker: "AAPL", MarketValue: 30_000, Quantity: 160},
	}

	state := NewLoader(cfg, nil, zerolog.Nop()).Load()

	assert.InDelta(t, 50_000, state.CashAvailable, 1e-9)
	assert.InDelta(t, 25_000, state.MarginAvailable, 1e-9)
	require.Len(t, state.Positions, 1)
	assert.Equal(t, "AAPL", state.Positions[0].Ticker)
	assert.InDelta(t, 80_000, state.PortfolioTotal(), 1e-9)
}

func TestLoadMergesTransactionPositions(t *testing.T) {
	repo := newTxRepo(t)
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(&storage.Transaction{ExecutedAt: ts, Ticker: "MSFT", Side: "buy", Quantity: 10, Price: 400}))
	require.NoError(t, repo.Insert(&storage.Transaction{ExecutedAt: ts, Ticker: "AAPL", Side: "buy", Quantity: 999, Price: 180}))

	cfg := &config.Config{}
	cfg.Account.CashAvailable = 50_000
	cfg.Account.Positions = []config.PositionConfig{
		{Ticker: "AAPL", MarketValue: 30_000, Quantity: 160},
	}

	state := NewLoader(cfg, repo, zerolog.Nop()).Load()

	require.Len(t, state.Positions, 2)
	byTicker := map[string]float64{}
	for _, p := range state.Positions {
		byTicker[p.Ticker] = p.Quantity
	}
	// the declared AAPL position wins over the transaction-derived one
	assert.InDelta(t, 160, byTicker["AAPL"], 1e-9)
	assert.InDelta(t, 10, byTicker["MSFT"], 1e-9)
}

func TestLoadWithoutTransactionsIsEmptyButUsable(t *testing.T) {
	cfg := &config.Config{}
	state := NewLoader(cfg, nil, zerolog.Nop()).Load()

	assert.Empty(t, state.Positions)
	assert.Zero(t, state.PortfolioTotal())
	assert.Zero(t, state.PositionValue("AAPL"))
}
