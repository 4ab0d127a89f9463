package database

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadwatch/internal/model"
)

func newMockedStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewPostgresStoreWithPool(logger, mock), mock
}

func TestPostgresStore_SaveSnapshotCommitsOneTransaction(t *testing.T) {
	store, mock := newMockedStore(t)

	quotes := map[string]model.Quote{
		"binance": {TotalAsk: fptr(106), TotalBid: fptr(105)},
		"lemon":   {TotalAsk: fptr(100), TotalBid: fptr(99)},
	}
	opportunities := []model.Opportunity{{
		BuyExchange: "lemon", SellExchange: "binance",
		BuyPrice: 100, SellPrice: 105, SpreadPercentage: 5, ProfitPerUnit: 5,
	}}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO market_snapshots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	// Quotes insert in sorted exchange order: binance, then lemon.
	mock.ExpectExec("INSERT INTO exchange_quotes").
		WithArgs(int64(42), "binance", pgxmock.AnyArg(), pgxmock.AnyArg(), fptr(106), fptr(105), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO exchange_quotes").
		WithArgs(int64(42), "lemon", pgxmock.AnyArg(), pgxmock.AnyArg(), fptr(100), fptr(99), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO arbitrage_opportunities").
		WithArgs(int64(42), "lemon", "binance", 100.0, 105.0, 5.0, 5.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, err := store.SaveSnapshot(context.Background(),
		model.MarketSnapshot{Timestamp: time.Now(), Coin: "BTC", Fiat: "ARS", Volume: 1},
		quotes, opportunities)

	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSnapshotRollsBackOnFailure(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO market_snapshots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New(`duplicate key value violates unique constraint "market_snapshots_snapshot_hash_key"`))
	mock.ExpectRollback()

	_, err := store.SaveSnapshot(context.Background(),
		model.MarketSnapshot{Timestamp: time.Now(), Coin: "BTC", Fiat: "ARS", Volume: 1},
		map[string]model.Quote{"lemon": {TotalAsk: fptr(100), TotalBid: fptr(99)}}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSnapshotQuoteInsertFailureRollsBack(t *testing.T) {
	store, mock := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO market_snapshots").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO exchange_quotes").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.SaveSnapshot(context.Background(),
		model.MarketSnapshot{Timestamp: time.Now(), Coin: "BTC", Fiat: "ARS", Volume: 1},
		map[string]model.Quote{"lemon": {TotalAsk: fptr(100), TotalBid: fptr(99)}}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExchangePerformanceMergesRoles(t *testing.T) {
	store, mock := newMockedStore(t)

	rows := pgxmock.NewRows([]string{"exchange", "role", "times_appeared", "avg_spread", "max_spread", "total_potential_profit"}).
		AddRow("lemon", "buy", int64(4), 2.1, 4.9, 20.0).
		AddRow("binance", "buy", int64(1), 1.2, 1.2, 3.0).
		AddRow("lemon", "sell", int64(1), 1.8, 1.8, 4.0).
		AddRow("binance", "sell", int64(2), 2.4, 3.0, 7.0)
	mock.ExpectQuery("SELECT ao.buy_exchange AS exchange").
		WithArgs("ARS", pgxmock.AnyArg()).
		WillReturnRows(rows)

	perf, err := store.ExchangePerformance(context.Background(), "ARS", 7)
	require.NoError(t, err)
	require.Len(t, perf, 2)

	assert.Equal(t, "lemon", perf[0].Exchange)
	assert.EqualValues(t, 5, perf[0].TotalAppearances)
	assert.InDelta(t, 24.0, perf[0].TotalPotentialPnL, 0.0001)
	assert.InDelta(t, 4.9, perf[0].MaxSpread, 0.0001)

	assert.Equal(t, "binance", perf[1].Exchange)
	assert.EqualValues(t, 3, perf[1].TotalAppearances)
	assert.NoError(t, mock.ExpectationsWereMet())
}
