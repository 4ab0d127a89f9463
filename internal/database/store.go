package database

import (
	"context"
	"errors"
	"sort"

	"spreadwatch/internal/model"
)

// ErrWriteFailed marks a failed insert or transaction after a successful
// fetch. The caller surfaces it but keeps the scan loop running.
var ErrWriteFailed = errors.New("storage write failed")

// Store is the contract shared by the durable Postgres backend and the
// embedded SQLite fallback. Both expose the same snapshot schema and answer
// the same parameterized aggregate queries; only placeholder syntax and
// date-part extraction differ underneath. Aggregates return empty slices,
// never errors, when the window holds no data.
type Store interface {
	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error

	// SaveSnapshot persists one scan round (snapshot, every raw quote, and
	// the detected opportunities) in a single transaction and returns the
	// snapshot id. The snapshot's content hash is computed here; a hash
	// uniqueness violation or any other failure rolls the whole round back
	// and is reported wrapped in ErrWriteFailed.
	SaveSnapshot(ctx context.Context, snap model.MarketSnapshot, quotes map[string]model.Quote, opportunities []model.Opportunity) (int64, error)

	// DeleteSnapshot removes a snapshot; its quotes and opportunities
	// cascade.
	DeleteSnapshot(ctx context.Context, id int64) error

	CountSnapshots(ctx context.Context) (int64, error)
	CountQuotes(ctx context.Context) (int64, error)
	CountOpportunities(ctx context.Context) (int64, error)

	// ExchangePerformance counts, per exchange, buy-side and sell-side
	// appearances within the window, ranked by total appearances descending.
	ExchangePerformance(ctx context.Context, fiat string, days int) ([]model.ExchangePerformance, error)

	// HourlyProfitability buckets opportunities by hour of day (0-23) of
	// their snapshot's capture timestamp.
	HourlyProfitability(ctx context.Context, fiat string, days int) ([]model.HourlyStat, error)

	// DailyProfitability buckets by day of week (0=Sunday .. 6=Saturday).
	DailyProfitability(ctx context.Context, fiat string, days int) ([]model.DailyStat, error)

	// ExchangePairPerformance groups by (buy exchange, sell exchange, coin),
	// ordered by frequency then average spread, limited to the top entries.
	ExchangePairPerformance(ctx context.Context, fiat string, days, limit int) ([]model.PairStat, error)

	// CoinStatistics aggregates opportunities per coin within the window.
	CoinStatistics(ctx context.Context, fiat string, days int) ([]model.CoinStat, error)

	// RecentOpportunities returns the latest persisted opportunities within
	// the trailing hours, newest first.
	RecentOpportunities(ctx context.Context, fiat string, hours, limit int) ([]model.Opportunity, error)

	Close()
}

// exchangeRoleRow is one half of the buy/sell union used by the exchange
// performance query.
type exchangeRoleRow struct {
	exchange    string
	role        string
	times       int64
	avgSpread   float64
	maxSpread   float64
	totalProfit float64
}

// mergeExchangeRoles folds the buy-side and sell-side GROUP BY passes into
// one ranked list, summing appearances per exchange. Both backends share it.
func mergeExchangeRoles(rows []exchangeRoleRow) []model.ExchangePerformance {
	index := make(map[string]int)
	var merged []model.ExchangePerformance

	for _, row := range rows {
		i, ok := index[row.exchange]
		if !ok {
			i = len(merged)
			index[row.exchange] = i
			merged = append(merged, model.ExchangePerformance{Exchange: row.exchange})
		}
		perf := &merged[i]
		if row.role == "buy" {
			perf.TimesBuy = row.times
		} else {
			perf.TimesSell = row.times
		}
		perf.TotalAppearances += row.times
		if row.avgSpread > perf.AvgSpread {
			perf.AvgSpread = row.avgSpread
		}
		if row.maxSpread > perf.MaxSpread {
			perf.MaxSpread = row.maxSpread
		}
		perf.TotalPotentialPnL += row.totalProfit
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].TotalAppearances > merged[j].TotalAppearances
	})
	return merged
}
