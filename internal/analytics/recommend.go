// Package analytics turns aggregate query rows into actionable
// recommendations: where to hold funds, and when to be active.
package analytics

import (
	"sort"

	"spreadwatch/internal/model"
)

// FundDistribution recommends how to split funds across the top three
// exchanges, proportionally to each one's share of their combined
// appearances. Returns nil when there are no appearances to split.
func FundDistribution(performance []model.ExchangePerformance) []model.Allocation {
	top := performance
	if len(top) > 3 {
		top = top[:3]
	}

	var total int64
	for _, p := range top {
		total += p.TotalAppearances
	}
	if total == 0 {
		return nil
	}

	allocations := make([]model.Allocation, 0, len(top))
	for _, p := range top {
		allocations = append(allocations, model.Allocation{
			Exchange: p.Exchange,
			Share:    float64(p.TotalAppearances) / float64(total),
		})
	}
	return allocations
}

// BestHours returns the top n hour buckets by opportunity count, busiest
// first. Ties keep the input's hour order.
func BestHours(stats []model.HourlyStat, n int) []model.HourlyStat {
	ranked := make([]model.HourlyStat, len(stats))
	copy(ranked, stats)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// BestDay returns the day-of-week bucket with the most opportunities, or
// false when there is no data.
func BestDay(stats []model.DailyStat) (model.DailyStat, bool) {
	if len(stats) == 0 {
		return model.DailyStat{}, false
	}
	best := stats[0]
	for _, st := range stats[1:] {
		if st.Count > best.Count {
			best = st
		}
	}
	return best, true
}
