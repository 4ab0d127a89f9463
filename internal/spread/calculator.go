package spread

import (
	"sort"
	"time"

	"spreadwatch/internal/model"
)

// quoteEntry is one exchange eligible for pairwise comparison, with the
// fee-inclusive prices dereferenced.
type quoteEntry struct {
	exchange string
	ask      float64
	bid      float64
}

// Calculate turns one quote mapping into the list of arbitrage opportunities
// whose spread meets minSpread, sorted by spread percentage descending.
//
// Exchanges missing either fee-inclusive price, or quoting a non-positive
// ask, are silently excluded. Every unordered exchange pair is considered
// exactly once; exchanges are walked in sorted-name order and the final sort
// is stable, so equal spreads keep a deterministic order. Fewer than two
// eligible exchanges yields an empty result.
func Calculate(coin, fiat string, quotes map[string]model.Quote, minSpread float64, capturedAt time.Time) []model.Opportunity {
	entries := make([]quoteEntry, 0, len(quotes))
	for exchange, q := range quotes {
		if !q.Eligible() {
			continue
		}
		entries = append(entries, quoteEntry{
			exchange: exchange,
			ask:      *q.TotalAsk,
			bid:      *q.TotalBid,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].exchange < entries[j].exchange })

	var opportunities []model.Opportunity
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]

			// Buy where the ask is lower than the counterpart's bid.
			var buy, sell quoteEntry
			switch {
			case a.ask < b.bid:
				buy, sell = a, b
			case b.ask < a.bid:
				buy, sell = b, a
			default:
				continue
			}

			spreadPct := (sell.bid - buy.ask) / buy.ask * 100
			if spreadPct < minSpread {
				continue
			}

			opportunities = append(opportunities, model.Opportunity{
				Coin:             coin,
				Fiat:             fiat,
				BuyExchange:      buy.exchange,
				SellExchange:     sell.exchange,
				BuyPrice:         buy.ask,
				SellPrice:        sell.bid,
				SpreadPercentage: spreadPct,
				ProfitPerUnit:    sell.bid - buy.ask,
				Timestamp:        capturedAt,
			})
		}
	}

	SortBySpread(opportunities)
	return opportunities
}

// SortBySpread orders a cycle-wide opportunity list by spread percentage
// descending, keeping the per-pair order for equal spreads.
func SortBySpread(opportunities []model.Opportunity) {
	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].SpreadPercentage > opportunities[j].SpreadPercentage
	})
}
