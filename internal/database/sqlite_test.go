package database

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadwatch/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := NewSQLiteStore(context.Background(), logger, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testQuotes() map[string]model.Quote {
	return map[string]model.Quote{
		"lemon":   {Ask: fptr(101), Bid: fptr(98), TotalAsk: fptr(100), TotalBid: fptr(99)},
		"binance": {Ask: fptr(107), Bid: fptr(104), TotalAsk: fptr(106), TotalBid: fptr(105)},
		"broken":  {TotalBid: fptr(50)}, // ineligible, still persisted for audit
	}
}

func snapshotAt(ts time.Time, coin, fiat string) model.MarketSnapshot {
	return model.MarketSnapshot{Timestamp: ts, Coin: coin, Fiat: fiat, Volume: 1.0}
}

func opp(buy, sell string, buyPrice, sellPrice float64) model.Opportunity {
	return model.Opportunity{
		BuyExchange:      buy,
		SellExchange:     sell,
		BuyPrice:         buyPrice,
		SellPrice:        sellPrice,
		SpreadPercentage: (sellPrice - buyPrice) / buyPrice * 100,
		ProfitPerUnit:    sellPrice - buyPrice,
	}
}

func TestSQLiteStore_SaveSnapshot(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := store.SaveSnapshot(ctx, snapshotAt(time.Now().UTC(), "BTC", "ARS"),
		testQuotes(), []model.Opportunity{opp("lemon", "binance", 100, 105)})
	require.NoError(t, err)
	assert.Positive(t, id)

	snapshots, err := store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, snapshots)

	quotes, err := store.CountQuotes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, quotes) // ineligible quote retained too

	opportunities, err := store.CountOpportunities(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, opportunities)
}

func TestSQLiteStore_DuplicateContentHashRejected(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	snap := snapshotAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), "BTC", "ARS")
	quotes := testQuotes()

	_, err := store.SaveSnapshot(ctx, snap, quotes, nil)
	require.NoError(t, err)

	_, err = store.SaveSnapshot(ctx, snap, quotes, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)

	// The failed round must not leave partial rows behind.
	snapshots, err := store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, snapshots)
	quoteRows, err := store.CountQuotes(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, quoteRows)
}

func TestSQLiteStore_CascadeDelete(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.SaveSnapshot(ctx, snapshotAt(now, "BTC", "ARS"),
		testQuotes(), []model.Opportunity{opp("lemon", "binance", 100, 105)})
	require.NoError(t, err)

	second, err := store.SaveSnapshot(ctx, snapshotAt(now.Add(time.Second), "ETH", "ARS"),
		testQuotes(), []model.Opportunity{opp("lemon", "binance", 200, 210)})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NoError(t, store.DeleteSnapshot(ctx, first))

	snapshots, _ := store.CountSnapshots(ctx)
	quotes, _ := store.CountQuotes(ctx)
	opportunities, _ := store.CountOpportunities(ctx)
	assert.EqualValues(t, 1, snapshots)
	assert.EqualValues(t, 3, quotes, "only the deleted snapshot's quotes may cascade")
	assert.EqualValues(t, 1, opportunities, "only the deleted snapshot's opportunities may cascade")
}

func TestSQLiteStore_ExchangePerformance(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Two snapshots, two and three opportunities: lemon buys 4x + sells 1x,
	// binance buys 1x + sells 2x, fiwind sells 2x.
	_, err := store.SaveSnapshot(ctx, snapshotAt(now, "BTC", "ARS"), testQuotes(),
		[]model.Opportunity{
			opp("lemon", "binance", 100, 105),
			opp("lemon", "fiwind", 100, 103),
		})
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, snapshotAt(now.Add(time.Second), "ETH", "ARS"), testQuotes(),
		[]model.Opportunity{
			opp("lemon", "binance", 200, 210),
			opp("lemon", "fiwind", 200, 206),
			opp("binance", "lemon", 201, 205),
		})
	require.NoError(t, err)

	perf, err := store.ExchangePerformance(ctx, "ARS", 7)
	require.NoError(t, err)
	require.Len(t, perf, 3)

	// Ranked by total appearances: lemon 5, binance 3, fiwind 2.
	assert.Equal(t, "lemon", perf[0].Exchange)
	assert.EqualValues(t, 4, perf[0].TimesBuy)
	assert.EqualValues(t, 1, perf[0].TimesSell)
	assert.EqualValues(t, 5, perf[0].TotalAppearances)

	assert.Equal(t, "binance", perf[1].Exchange)
	assert.EqualValues(t, 1, perf[1].TimesBuy)
	assert.EqualValues(t, 2, perf[1].TimesSell)
	assert.EqualValues(t, 3, perf[1].TotalAppearances)

	assert.Equal(t, "fiwind", perf[2].Exchange)
	assert.EqualValues(t, 2, perf[2].TotalAppearances)

	for _, p := range perf {
		assert.Greater(t, p.AvgSpread, 0.0)
		assert.GreaterOrEqual(t, p.MaxSpread, p.AvgSpread)
	}

	// Scoped by fiat: nothing recorded for USD.
	empty, err := store.ExchangePerformance(ctx, "USD", 7)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStore_HourlyAndDailyBuckets(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	// Recent enough to sit inside the 7-day window with a known UTC hour.
	ts := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Hour).Add(30 * time.Minute)

	_, err := store.SaveSnapshot(ctx, snapshotAt(ts, "BTC", "ARS"), testQuotes(),
		[]model.Opportunity{
			opp("lemon", "binance", 100, 105),
			opp("lemon", "fiwind", 100, 102),
		})
	require.NoError(t, err)

	hourly, err := store.HourlyProfitability(ctx, "ARS", 7)
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, ts.Hour(), hourly[0].Hour)
	assert.EqualValues(t, 2, hourly[0].Count)
	assert.InDelta(t, 7.0, hourly[0].TotalPotentialPnL, 0.0001)

	daily, err := store.DailyProfitability(ctx, "ARS", 7)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, int(ts.Weekday()), daily[0].DayOfWeek) // time.Sunday == 0
	assert.EqualValues(t, 2, daily[0].Count)

	// Aggregation is idempotent over unchanged data.
	again, err := store.HourlyProfitability(ctx, "ARS", 7)
	require.NoError(t, err)
	assert.Equal(t, hourly, again)
}

func TestSQLiteStore_ExchangePairPerformance(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.SaveSnapshot(ctx, snapshotAt(now, "BTC", "ARS"), testQuotes(),
		[]model.Opportunity{
			opp("lemon", "binance", 100, 105),
			opp("lemon", "fiwind", 100, 101),
		})
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, snapshotAt(now.Add(time.Second), "BTC", "ARS"), testQuotes(),
		[]model.Opportunity{opp("lemon", "binance", 100, 103)})
	require.NoError(t, err)

	pairs, err := store.ExchangePairPerformance(ctx, "ARS", 7, 10)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, "lemon", pairs[0].BuyExchange)
	assert.Equal(t, "binance", pairs[0].SellExchange)
	assert.Equal(t, "BTC", pairs[0].Coin)
	assert.EqualValues(t, 2, pairs[0].Frequency)
	assert.EqualValues(t, 1, pairs[1].Frequency)

	limited, err := store.ExchangePairPerformance(ctx, "ARS", 7, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_CoinStatisticsAndRecent(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.SaveSnapshot(ctx, snapshotAt(now.Add(-time.Minute), "BTC", "ARS"), testQuotes(),
		[]model.Opportunity{
			opp("lemon", "binance", 100, 105),
			opp("lemon", "fiwind", 100, 102),
		})
	require.NoError(t, err)
	_, err = store.SaveSnapshot(ctx, snapshotAt(now, "ETH", "ARS"), testQuotes(),
		[]model.Opportunity{opp("lemon", "binance", 200, 206)})
	require.NoError(t, err)

	coins, err := store.CoinStatistics(ctx, "ARS", 7)
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.Equal(t, "BTC", coins[0].Coin)
	assert.EqualValues(t, 2, coins[0].Count)

	recent, err := store.RecentOpportunities(ctx, "ARS", 24, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	// Newest snapshot first.
	assert.Equal(t, "ETH", recent[0].Coin)
	assert.Equal(t, "ARS", recent[0].Fiat)
	assert.False(t, recent[0].Timestamp.Before(recent[1].Timestamp))
}

func TestSQLiteStore_EmptyWindowIsInsufficientDataNotError(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	perf, err := store.ExchangePerformance(ctx, "ARS", 7)
	require.NoError(t, err)
	assert.Empty(t, perf)

	hourly, err := store.HourlyProfitability(ctx, "ARS", 7)
	require.NoError(t, err)
	assert.Empty(t, hourly)

	daily, err := store.DailyProfitability(ctx, "ARS", 30)
	require.NoError(t, err)
	assert.Empty(t, daily)

	pairs, err := store.ExchangePairPerformance(ctx, "ARS", 7, 10)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}
