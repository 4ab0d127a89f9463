package model

import "time"

// Quote is a single exchange's quote for one coin/fiat pair as returned by
// the pricing API. Any price field may be absent, so they are pointers.
// TotalAsk and TotalBid are fee-inclusive and are the only prices used for
// spread calculation; Ask and Bid are the raw prices kept for audit.
type Quote struct {
	Exchange string
	Ask      *float64
	Bid      *float64
	TotalAsk *float64
	TotalBid *float64
	Time     *int64
}

// Eligible reports whether the quote can participate in spread calculation:
// both fee-inclusive prices must be present and the ask strictly positive.
// A zero or negative ask would make the spread formula divide by zero, so
// such quotes are rejected here rather than downstream.
func (q Quote) Eligible() bool {
	return q.TotalAsk != nil && q.TotalBid != nil && *q.TotalAsk > 0
}

// MarketSnapshot is one captured quote mapping for a coin/fiat pair.
// It is the aggregate root: its quotes and opportunities cascade on delete.
type MarketSnapshot struct {
	ID           int64     `db:"id"`
	Timestamp    time.Time `db:"timestamp"`
	Coin         string    `db:"coin"`
	Fiat         string    `db:"fiat"`
	Volume       float64   `db:"volume"`
	SnapshotHash string    `db:"snapshot_hash"`
	NumExchanges int       `db:"num_exchanges"`
}

// ExchangeQuote is a persisted quote row belonging to one snapshot.
type ExchangeQuote struct {
	ID           int64    `db:"id"`
	SnapshotID   int64    `db:"snapshot_id"`
	Exchange     string   `db:"exchange"`
	Ask          *float64 `db:"ask"`
	Bid          *float64 `db:"bid"`
	TotalAsk     *float64 `db:"total_ask"`
	TotalBid     *float64 `db:"total_bid"`
	APITimestamp *int64   `db:"api_timestamp"`
}

// Opportunity is a profitable buy/sell exchange pairing derived from one
// snapshot. It only exists when its spread met the configured minimum at
// capture time.
type Opportunity struct {
	ID               int64     `db:"id"`
	SnapshotID       int64     `db:"snapshot_id"`
	Coin             string    `db:"-"`
	Fiat             string    `db:"-"`
	BuyExchange      string    `db:"buy_exchange"`
	SellExchange     string    `db:"sell_exchange"`
	BuyPrice         float64   `db:"buy_price"`
	SellPrice        float64   `db:"sell_price"`
	SpreadPercentage float64   `db:"spread_percentage"`
	ProfitPerUnit    float64   `db:"profit_per_unit"`
	Timestamp        time.Time `db:"-"`
}

// ExchangePerformance aggregates how often an exchange appeared on either
// side of an opportunity within a time window.
type ExchangePerformance struct {
	Exchange          string
	TimesBuy          int64
	TimesSell         int64
	TotalAppearances  int64
	AvgSpread         float64
	MaxSpread         float64
	TotalPotentialPnL float64
}

// HourlyStat is one hour-of-day bucket (0-23) of opportunity aggregates.
type HourlyStat struct {
	Hour              int
	Count             int64
	AvgSpread         float64
	MaxSpread         float64
	TotalPotentialPnL float64
}

// DailyStat is one day-of-week bucket (0=Sunday .. 6=Saturday).
type DailyStat struct {
	DayOfWeek         int
	Count             int64
	AvgSpread         float64
	MaxSpread         float64
	TotalPotentialPnL float64
}

// PairStat aggregates one (buy exchange, sell exchange, coin) route.
type PairStat struct {
	BuyExchange       string
	SellExchange      string
	Coin              string
	Frequency         int64
	AvgSpread         float64
	MaxSpread         float64
	TotalPotentialPnL float64
}

// CoinStat aggregates opportunities per coin.
type CoinStat struct {
	Coin      string
	Count     int64
	AvgSpread float64
	MaxSpread float64
}

// Allocation is a recommended share of funds for one exchange.
type Allocation struct {
	Exchange string
	Share    float64
}
