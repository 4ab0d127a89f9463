package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"spreadwatch/internal/model"
)

// sqliteTimeLayout is the fixed-width text form timestamps are stored in.
// strftime understands it and lexical comparison matches chronological order.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteStore implements Store on an embedded file-backed database. It is
// the fallback when no durable connection string is configured or the
// durable backend is unreachable.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// NewSQLiteStore opens (creating if needed) the database file at path.
// Foreign keys are enforced per connection so cascade deletes work.
func NewSQLiteStore(ctx context.Context, logger *slog.Logger, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger, path: path}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	coin TEXT NOT NULL,
	fiat TEXT NOT NULL,
	volume REAL NOT NULL,
	snapshot_hash TEXT UNIQUE,
	num_exchanges INTEGER,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS exchange_quotes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id INTEGER REFERENCES market_snapshots(id) ON DELETE CASCADE,
	exchange TEXT NOT NULL,
	ask REAL,
	bid REAL,
	total_ask REAL,
	total_bid REAL,
	api_timestamp INTEGER,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS arbitrage_opportunities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id INTEGER REFERENCES market_snapshots(id) ON DELETE CASCADE,
	buy_exchange TEXT NOT NULL,
	sell_exchange TEXT NOT NULL,
	buy_price REAL NOT NULL,
	sell_price REAL NOT NULL,
	spread_percentage REAL NOT NULL,
	profit_per_unit REAL NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON market_snapshots(timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_coin_fiat ON market_snapshots(coin, fiat);
CREATE INDEX IF NOT EXISTS idx_quotes_snapshot ON exchange_quotes(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_quotes_exchange ON exchange_quotes(exchange);
CREATE INDEX IF NOT EXISTS idx_opps_snapshot ON arbitrage_opportunities(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_opps_exchanges ON arbitrage_opportunities(buy_exchange, sell_exchange);
`

// Migrate creates the snapshot schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// SaveSnapshot persists one scan round in a single transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap model.MarketSnapshot, quotes map[string]model.Quote, opportunities []model.Opportunity) (int64, error) {
	hash, err := SnapshotHash(snap.Timestamp, snap.Coin, snap.Fiat, quotes)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrWriteFailed, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO market_snapshots (timestamp, coin, fiat, volume, snapshot_hash, num_exchanges)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Timestamp.UTC().Format(sqliteTimeLayout), snap.Coin, snap.Fiat, snap.Volume, hash, len(quotes))
	if err != nil {
		return 0, fmt.Errorf("%w: insert snapshot: %w", ErrWriteFailed, err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: snapshot id: %w", ErrWriteFailed, err)
	}

	exchanges := make([]string, 0, len(quotes))
	for exchange := range quotes {
		exchanges = append(exchanges, exchange)
	}
	sort.Strings(exchanges)
	for _, exchange := range exchanges {
		q := quotes[exchange]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exchange_quotes (snapshot_id, exchange, ask, bid, total_ask, total_bid, api_timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, exchange, q.Ask, q.Bid, q.TotalAsk, q.TotalBid, q.Time); err != nil {
			return 0, fmt.Errorf("%w: insert quote for %s: %w", ErrWriteFailed, exchange, err)
		}
	}

	for _, opp := range opportunities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO arbitrage_opportunities (snapshot_id, buy_exchange, sell_exchange, buy_price, sell_price, spread_percentage, profit_per_unit)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, opp.BuyExchange, opp.SellExchange, opp.BuyPrice, opp.SellPrice,
			opp.SpreadPercentage, opp.ProfitPerUnit); err != nil {
			return 0, fmt.Errorf("%w: insert opportunity %s->%s: %w", ErrWriteFailed, opp.BuyExchange, opp.SellExchange, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrWriteFailed, err)
	}
	return snapshotID, nil
}

// DeleteSnapshot removes a snapshot; quotes and opportunities cascade.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM market_snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete snapshot %d: %w", ErrWriteFailed, id, err)
	}
	return nil
}

func (s *SQLiteStore) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteStore) CountSnapshots(ctx context.Context) (int64, error) {
	return s.count(ctx, "market_snapshots")
}

func (s *SQLiteStore) CountQuotes(ctx context.Context) (int64, error) {
	return s.count(ctx, "exchange_quotes")
}

func (s *SQLiteStore) CountOpportunities(ctx context.Context) (int64, error) {
	return s.count(ctx, "arbitrage_opportunities")
}

const sqliteExchangePerformance = `
SELECT ao.buy_exchange AS exchange, 'buy' AS role,
	COUNT(*) AS times_appeared,
	AVG(ao.spread_percentage) AS avg_spread,
	MAX(ao.spread_percentage) AS max_spread,
	SUM(ao.profit_per_unit) AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = ? AND ms.timestamp >= ?
GROUP BY ao.buy_exchange
UNION ALL
SELECT ao.sell_exchange AS exchange, 'sell' AS role,
	COUNT(*) AS times_appeared,
	AVG(ao.spread_percentage) AS avg_spread,
	MAX(ao.spread_percentage) AS max_spread,
	SUM(ao.profit_per_unit) AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = ? AND ms.timestamp >= ?
GROUP BY ao.sell_exchange`

func (s *SQLiteStore) ExchangePerformance(ctx context.Context, fiat string, days int) ([]model.ExchangePerformance, error) {
	cutoff := sinceText(days)
	rows, err := s.db.QueryContext(ctx, sqliteExchangePerformance, fiat, cutoff, fiat, cutoff)
	if err != nil {
		return nil, fmt.Errorf("exchange performance: %w", err)
	}
	defer rows.Close()

	var roleRows []exchangeRoleRow
	for rows.Next() {
		var r exchangeRoleRow
		if err := rows.Scan(&r.exchange, &r.role, &r.times, &r.avgSpread, &r.maxSpread, &r.totalProfit); err != nil {
			return nil, fmt.Errorf("exchange performance scan: %w", err)
		}
		roleRows = append(roleRows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("exchange performance rows: %w", err)
	}
	return mergeExchangeRoles(roleRows), nil
}

const sqliteHourlyProfitability = `
SELECT CAST(strftime('%H', ms.timestamp) AS INTEGER) AS hour,
	COUNT(*) AS num_opportunities,
	AVG(ao.spread_percentage) AS avg_spread,
	MAX(ao.spread_percentage) AS max_spread,
	SUM(ao.profit_per_unit) AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = ? AND ms.timestamp >= ?
GROUP BY hour
ORDER BY hour`

func (s *SQLiteStore) HourlyProfitability(ctx context.Context, fiat string, days int) ([]model.HourlyStat, error) {
	rows, err := s.db.QueryContext(ctx, sqliteHourlyProfitability, fiat, sinceText(days))
	if err != nil {
		return nil, fmt.Errorf("hourly profitability: %w", err)
	}
	defer rows.Close()

	var stats []model.HourlyStat
	for rows.Next() {
		var st model.HourlyStat
		if err := rows.Scan(&st.Hour, &st.Count, &st.AvgSpread, &st.MaxSpread, &st.TotalPotentialPnL); err != nil {
			return nil, fmt.Errorf("hourly profitability scan: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hourly profitability rows: %w", err)
	}
	return stats, nil
}

const sqliteDailyProfitability = `
SELECT CAST(strftime('%w', ms.timestamp) AS INTEGER) AS day_of_week,
	COUNT(*) AS num_opportunities,
	AVG(ao.spread_percentage) AS avg_spread,
	MAX(ao.spread_percentage) AS max_spread,
	SUM(ao.profit_per_unit) AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = ? AND ms.timestamp >= ?
GROUP BY day_of_week
ORDER BY day_of_week`

func (s *SQLiteStore) DailyProfitability(ctx context.Context, fiat string, days int) ([]model.DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, sqliteDailyProfitability, fiat, sinceText(days))
	if err != nil {
		return nil, fmt.Errorf("daily profitability: %w", err)
	}
	defer rows.Close()

	var stats []model.DailyStat
	for rows.Next() {
		var st model.DailyStat
		if err := rows.Scan(&st.DayOfWeek, &st.Count, &st.AvgSpread, &st.MaxSpread, &st.TotalPotentialPnL); err != nil {
			return nil, fmt.Errorf("daily profitability scan: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily profitability rows: %w", err)
	}
	return stats, nil
}

const sqlitePairPerformance = `
SELECT ao.buy_exchange, ao.sell_exchange, ms.coin,
	COUNT(*) AS frequency,
	AVG(ao.spread_percentage) AS avg_spread,
	MAX(ao.spread_percentage) AS max_spread,
	SUM(ao.profit_per_unit) AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = ? AND ms.timestamp >= ?
GROUP BY ao.buy_exchange, ao.sell_exchange, ms.coin
ORDER BY frequency DESC, avg_spread DESC
LIMIT ?`

func (s *SQLiteStore) ExchangePairPerformance(ctx context.Context, fiat string, days, limit int) ([]model.PairStat, error) {
	rows, err := s.db.QueryContext(ctx, sqlitePairPerformance, fiat, sinceText(days), limit)
	if err != nil {
		return nil, fmt.Errorf("pair performance: %w", err)
	}
	defer rows.Close()

	var stats []model.PairStat
	for rows.Next() {
		var st model.PairStat
		if err := rows.Scan(&st.BuyExchange, &st.SellExchange, &st.Coin, &st.Frequency, &st.AvgSpread, &st.MaxSpread, &st.TotalPotentialPnL); err != nil {
			return nil, fmt.Errorf("pair performance scan: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pair performance rows: %w", err)
	}
	return stats, nil
}

const sqliteCoinStatistics = `
SELECT ms.coin,
	COUNT(*) AS num_opportunities,
	AVG(ao.spread_percentage) AS avg_spread,
	MAX(ao.spread_percentage) AS max_spread
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = ? AND ms.timestamp >= ?
GROUP BY ms.coin
ORDER BY num_opportunities DESC`

func (s *SQLiteStore) CoinStatistics(ctx context.Context, fiat string, days int) ([]model.CoinStat, error) {
	rows, err := s.db.QueryContext(ctx, sqliteCoinStatistics, fiat, sinceText(days))
	if err != nil {
		return nil, fmt.Errorf("coin statistics: %w", err)
	}
	defer rows.Close()

	var stats []model.CoinStat
	for rows.Next() {
		var st model.CoinStat
		if err := rows.Scan(&st.Coin, &st.Count, &st.AvgSpread, &st.MaxSpread); err != nil {
			return nil, fmt.Errorf("coin statistics scan: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coin statistics rows: %w", err)
	}
	return stats, nil
}

const sqliteRecentOpportunities = `
SELECT ao.snapshot_id, ms.coin, ms.fiat, ao.buy_exchange, ao.sell_exchange,
	ao.buy_price, ao.sell_price, ao.spread_percentage, ao.profit_per_unit, ms.timestamp
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = ? AND ms.timestamp >= ?
ORDER BY ms.timestamp DESC, ao.spread_percentage DESC
LIMIT ?`

func (s *SQLiteStore) RecentOpportunities(ctx context.Context, fiat string, hours, limit int) ([]model.Opportunity, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(sqliteTimeLayout)
	rows, err := s.db.QueryContext(ctx, sqliteRecentOpportunities, fiat, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("recent opportunities: %w", err)
	}
	defer rows.Close()

	var opps []model.Opportunity
	for rows.Next() {
		var o model.Opportunity
		var ts string
		if err := rows.Scan(&o.SnapshotID, &o.Coin, &o.Fiat, &o.BuyExchange, &o.SellExchange,
			&o.BuyPrice, &o.SellPrice, &o.SpreadPercentage, &o.ProfitPerUnit, &ts); err != nil {
			return nil, fmt.Errorf("recent opportunities scan: %w", err)
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("recent opportunities timestamp %q: %w", ts, err)
		}
		o.Timestamp = parsed
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent opportunities rows: %w", err)
	}
	return opps, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("SQLiteStore: close failed", "error", err)
		return
	}
	s.logger.Info("SQLiteStore: database closed", "path", s.path)
}

// sinceText converts a trailing window in days to the stored text form.
func sinceText(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format(sqliteTimeLayout)
}
