package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"spreadwatch/internal/model"
)

// PgxPool is the subset of pgxpool.Pool the store needs. Keeping it an
// interface lets tests substitute a pgxmock pool.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   PgxPool
	logger *slog.Logger
}

// NewPostgresStore connects a pool to the given URL and verifies it with a
// ping. The caller decides whether a failure here falls back to SQLite.
func NewPostgresStore(ctx context.Context, logger *slog.Logger, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// NewPostgresStoreWithPool wraps an existing pool; used by tests.
func NewPostgresStoreWithPool(logger *slog.Logger, pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
	id SERIAL PRIMARY KEY,
	timestamp TIMESTAMP NOT NULL,
	coin VARCHAR(20) NOT NULL,
	fiat VARCHAR(10) NOT NULL,
	volume DECIMAL(20, 8) NOT NULL,
	snapshot_hash VARCHAR(64) UNIQUE,
	num_exchanges INTEGER,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS exchange_quotes (
	id SERIAL PRIMARY KEY,
	snapshot_id INTEGER REFERENCES market_snapshots(id) ON DELETE CASCADE,
	exchange VARCHAR(100) NOT NULL,
	ask DECIMAL(20, 8),
	bid DECIMAL(20, 8),
	total_ask DECIMAL(20, 8),
	total_bid DECIMAL(20, 8),
	api_timestamp BIGINT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS arbitrage_opportunities (
	id SERIAL PRIMARY KEY,
	snapshot_id INTEGER REFERENCES market_snapshots(id) ON DELETE CASCADE,
	buy_exchange VARCHAR(100) NOT NULL,
	sell_exchange VARCHAR(100) NOT NULL,
	buy_price DECIMAL(20, 8) NOT NULL,
	sell_price DECIMAL(20, 8) NOT NULL,
	spread_percentage DECIMAL(10, 4) NOT NULL,
	profit_per_unit DECIMAL(20, 8) NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON market_snapshots(timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_coin_fiat ON market_snapshots(coin, fiat);
CREATE INDEX IF NOT EXISTS idx_quotes_snapshot ON exchange_quotes(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_quotes_exchange ON exchange_quotes(exchange);
CREATE INDEX IF NOT EXISTS idx_opps_snapshot ON arbitrage_opportunities(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_opps_exchanges ON arbitrage_opportunities(buy_exchange, sell_exchange);
`

// Migrate creates the snapshot schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

const (
	pgInsertSnapshot = `INSERT INTO market_snapshots (timestamp, coin, fiat, volume, snapshot_hash, num_exchanges)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	pgInsertQuote = `INSERT INTO exchange_quotes (snapshot_id, exchange, ask, bid, total_ask, total_bid, api_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	pgInsertOpportunity = `INSERT INTO arbitrage_opportunities (snapshot_id, buy_exchange, sell_exchange, buy_price, sell_price, spread_percentage, profit_per_unit)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// SaveSnapshot persists one scan round in a single transaction.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap model.MarketSnapshot, quotes map[string]model.Quote, opportunities []model.Opportunity) (int64, error) {
	hash, err := SnapshotHash(snap.Timestamp, snap.Coin, snap.Fiat, quotes)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrWriteFailed, err)
	}
	defer tx.Rollback(ctx)

	var snapshotID int64
	err = tx.QueryRow(ctx, pgInsertSnapshot,
		snap.Timestamp.UTC(), snap.Coin, snap.Fiat, snap.Volume, hash, len(quotes),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("%w: insert snapshot: %w", ErrWriteFailed, err)
	}

	// All raw quotes are retained, including exchanges that were not
	// eligible for spread calculation. Sorted order keeps inserts
	// deterministic.
	exchanges := make([]string, 0, len(quotes))
	for exchange := range quotes {
		exchanges = append(exchanges, exchange)
	}
	sort.Strings(exchanges)
	for _, exchange := range exchanges {
		q := quotes[exchange]
		if _, err := tx.Exec(ctx, pgInsertQuote,
			snapshotID, exchange, q.Ask, q.Bid, q.TotalAsk, q.TotalBid, q.Time,
		); err != nil {
			return 0, fmt.Errorf("%w: insert quote for %s: %w", ErrWriteFailed, exchange, err)
		}
	}

	for _, opp := range opportunities {
		if _, err := tx.Exec(ctx, pgInsertOpportunity,
			snapshotID, opp.BuyExchange, opp.SellExchange, opp.BuyPrice, opp.SellPrice,
			opp.SpreadPercentage, opp.ProfitPerUnit,
		); err != nil {
			return 0, fmt.Errorf("%w: insert opportunity %s->%s: %w", ErrWriteFailed, opp.BuyExchange, opp.SellExchange, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrWriteFailed, err)
	}
	return snapshotID, nil
}

// DeleteSnapshot removes a snapshot; quotes and opportunities cascade.
func (s *PostgresStore) DeleteSnapshot(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM market_snapshots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete snapshot %d: %w", ErrWriteFailed, id, err)
	}
	return nil
}

func (s *PostgresStore) count(ctx context.Context, table string) (int64, error) {
	var n int64
	// Table names come from the fixed set below, never from input.
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *PostgresStore) CountSnapshots(ctx context.Context) (int64, error) {
	return s.count(ctx, "market_snapshots")
}

func (s *PostgresStore) CountQuotes(ctx context.Context) (int64, error) {
	return s.count(ctx, "exchange_quotes")
}

func (s *PostgresStore) CountOpportunities(ctx context.Context) (int64, error) {
	return s.count(ctx, "arbitrage_opportunities")
}

const pgExchangePerformance = `
SELECT ao.buy_exchange AS exchange, 'buy' AS role,
	COUNT(*) AS times_appeared,
	AVG(ao.spread_percentage)::float8 AS avg_spread,
	MAX(ao.spread_percentage)::float8 AS max_spread,
	SUM(ao.profit_per_unit)::float8 AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = $1 AND ms.timestamp >= $2
GROUP BY ao.buy_exchange
UNION ALL
SELECT ao.sell_exchange AS exchange, 'sell' AS role,
	COUNT(*) AS times_appeared,
	AVG(ao.spread_percentage)::float8 AS avg_spread,
	MAX(ao.spread_percentage)::float8 AS max_spread,
	SUM(ao.profit_per_unit)::float8 AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = $1 AND ms.timestamp >= $2
GROUP BY ao.sell_exchange`

func (s *PostgresStore) ExchangePerformance(ctx context.Context, fiat string, days int) ([]model.ExchangePerformance, error) {
	rows, err := s.pool.Query(ctx, pgExchangePerformance, fiat, since(days))
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

const pgHourlyProfitability = `
SELECT EXTRACT(HOUR FROM ms.timestamp)::int AS hour,
	COUNT(*) AS num_opportunities,
	AVG(ao.spread_percentage)::float8 AS avg_spread,
	MAX(ao.spread_percentage)::float8 AS max_spread,
	SUM(ao.profit_per_unit)::float8 AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = $1 AND ms.timestamp >= $2
GROUP BY hour
ORDER BY hour`

func (s *PostgresStore) HourlyProfitability(ctx context.Context, fiat string, days int) ([]model.HourlyStat, error) {
	rows, err := s.pool.Query(ctx, pgHourlyProfitability, fiat, since(days))
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

const pgDailyProfitability = `
SELECT EXTRACT(DOW FROM ms.timestamp)::int AS day_of_week,
	COUNT(*) AS num_opportunities,
	AVG(ao.spread_percentage)::float8 AS avg_spread,
	MAX(ao.spread_percentage)::float8 AS max_spread,
	SUM(ao.profit_per_unit)::float8 AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = $1 AND ms.timestamp >= $2
GROUP BY day_of_week
ORDER BY day_of_week`

func (s *PostgresStore) DailyProfitability(ctx context.Context, fiat string, days int) ([]model.DailyStat, error) {
	rows, err := s.pool.Query(ctx, pgDailyProfitability, fiat, since(days))
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

const pgPairPerformance = `
SELECT ao.buy_exchange, ao.sell_exchange, ms.coin,
	COUNT(*) AS frequency,
	AVG(ao.spread_percentage)::float8 AS avg_spread,
	MAX(ao.spread_percentage)::float8 AS max_spread,
	SUM(ao.profit_per_unit)::float8 AS total_potential_profit
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = $1 AND ms.timestamp >= $2
GROUP BY ao.buy_exchange, ao.sell_exchange, ms.coin
ORDER BY frequency DESC, avg_spread DESC
LIMIT $3`

func (s *PostgresStore) ExchangePairPerformance(ctx context.Context, fiat string, days, limit int) ([]model.PairStat, error) {
	rows, err := s.pool.Query(ctx, pgPairPerformance, fiat, since(days), limit)
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

const pgCoinStatistics = `
SELECT ms.coin,
	COUNT(*) AS num_opportunities,
	AVG(ao.spread_percentage)::float8 AS avg_spread,
	MAX(ao.spread_percentage)::float8 AS max_spread
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = $1 AND ms.timestamp >= $2
GROUP BY ms.coin
ORDER BY num_opportunities DESC`

func (s *PostgresStore) CoinStatistics(ctx context.Context, fiat string, days int) ([]model.CoinStat, error) {
	rows, err := s.pool.Query(ctx, pgCoinStatistics, fiat, since(days))
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

const pgRecentOpportunities = `
SELECT ao.snapshot_id, ms.coin, ms.fiat, ao.buy_exchange, ao.sell_exchange,
	ao.buy_price::float8, ao.sell_price::float8,
	ao.spread_percentage::float8, ao.profit_per_unit::float8, ms.timestamp
FROM arbitrage_opportunities ao
JOIN market_snapshots ms ON ao.snapshot_id = ms.id
WHERE ms.fiat = $1 AND ms.timestamp >= $2
ORDER BY ms.timestamp DESC, ao.spread_percentage DESC
LIMIT $3`

func (s *PostgresStore) RecentOpportunities(ctx context.Context, fiat string, hours, limit int) ([]model.Opportunity, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	rows, err := s.pool.Query(ctx, pgRecentOpportunities, fiat, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("recent opportunities: %w", err)
	}
	defer rows.Close()

	var opps []model.Opportunity
	for rows.Next() {
		var o model.Opportunity
		if err := rows.Scan(&o.SnapshotID, &o.Coin, &o.Fiat, &o.BuyExchange, &o.SellExchange,
			&o.BuyPrice, &o.SellPrice, &o.SpreadPercentage, &o.ProfitPerUnit, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("recent opportunities scan: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent opportunities rows: %w", err)
	}
	return opps, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
	s.logger.Info("PostgresStore: connection pool closed")
}

// since converts a trailing window in days to its cutoff timestamp.
func since(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}
