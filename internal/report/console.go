package report

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"spreadwatch/internal/model"
	"spreadwatch/internal/source"
)

// Console renders scan cycles and historical analyses as colored tables.
type Console struct {
	out io.Writer

	header  *color.Color
	good    *color.Color
	warn    *color.Color
	subtle  *color.Color
	rowName *color.Color
}

// NewConsole returns a renderer writing to out, typically os.Stdout.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:     out,
		header:  color.New(color.FgCyan, color.Bold),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		subtle:  color.New(color.Faint),
		rowName: color.New(color.FgWhite, color.Bold),
	}
}

// RenderCycle prints one scan cycle's opportunities, best spread first,
// truncated to topN.
func (c *Console) RenderCycle(opportunities []model.Opportunity, topN int) {
	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	c.header.Fprintf(c.out, "\n=== Scan %s UTC ===\n", now)

	if len(opportunities) == 0 {
		c.subtle.Fprintln(c.out, "No opportunities above the minimum spread.")
		return
	}

	shown := opportunities
	if topN > 0 && len(shown) > topN {
		shown = shown[:topN]
	}

	fmt.Fprintf(c.out, "%-10s %-12s %-12s %12s %12s %8s\n",
		"PAIR", "BUY AT", "SELL AT", "BUY PRICE", "SELL PRICE", "SPREAD")
	for _, opp := range shown {
		pair := fmt.Sprintf("%s/%s", opp.Coin, opp.Fiat)
		fmt.Fprintf(c.out, "%-10s %-12s %-12s %12.2f %12.2f ",
			pair, opp.BuyExchange, opp.SellExchange, opp.BuyPrice, opp.SellPrice)
		c.good.Fprintf(c.out, "%7.2f%%\n", opp.SpreadPercentage)
	}
	if len(opportunities) > len(shown) {
		c.subtle.Fprintf(c.out, "... and %d more\n", len(opportunities)-len(shown))
	}
}

// Analysis bundles everything the historical report shows.
type Analysis struct {
	Fiat string
	Days int

	Performance  []model.ExchangePerformance
	Distribution []model.Allocation
	BestHours    []model.HourlyStat
	BestDay      model.DailyStat
	HasBestDay   bool
	Pairs        []model.PairStat
	Coins        []model.CoinStat
	Recent       []model.Opportunity
}

// RenderAnalysis prints the historical report. Sections with no data in the
// window say so instead of printing empty tables.
func (c *Console) RenderAnalysis(a Analysis) {
	c.header.Fprintf(c.out, "\n=== Historical analysis, %s, last %d days ===\n", a.Fiat, a.Days)

	c.renderPerformance(a.Performance)
	c.renderDistribution(a.Distribution)
	c.renderBestTimes(a.BestHours, a.BestDay, a.HasBestDay)
	c.renderPairs(a.Pairs)
	c.renderCoins(a.Coins)
	c.renderRecent(a.Recent)
}

func (c *Console) renderPerformance(performance []model.ExchangePerformance) {
	c.header.Fprintln(c.out, "\nExchange performance")
	if len(performance) == 0 {
		c.subtle.Fprintln(c.out, "No opportunities recorded in this window.")
		return
	}

	fmt.Fprintf(c.out, "%-12s %6s %6s %7s %10s %10s %14s\n",
		"EXCHANGE", "BUY", "SELL", "TOTAL", "AVG SPR", "MAX SPR", "POTENTIAL PNL")
	for _, p := range performance {
		c.rowName.Fprintf(c.out, "%-12s", p.Exchange)
		fmt.Fprintf(c.out, " %6d %6d %7d %9.2f%% %9.2f%% %14.2f\n",
			p.TimesBuy, p.TimesSell, p.TotalAppearances, p.AvgSpread, p.MaxSpread, p.TotalPotentialPnL)
	}
}

func (c *Console) renderDistribution(distribution []model.Allocation) {
	c.header.Fprintln(c.out, "\nSuggested fund distribution")
	if len(distribution) == 0 {
		c.subtle.Fprintln(c.out, "Not enough history to suggest a distribution.")
		return
	}
	for _, alloc := range distribution {
		c.rowName.Fprintf(c.out, "%-12s", alloc.Exchange)
		c.good.Fprintf(c.out, " %5.1f%%\n", alloc.Share*100)
	}
}

func (c *Console) renderBestTimes(hours []model.HourlyStat, day model.DailyStat, hasDay bool) {
	c.header.Fprintln(c.out, "\nBest times to scan")
	if len(hours) == 0 && !hasDay {
		c.subtle.Fprintln(c.out, "No timing data in this window.")
		return
	}

	for _, h := range hours {
		fmt.Fprintf(c.out, "%02d:00 UTC  %5d opportunities, avg spread ", h.Hour, h.Count)
		c.good.Fprintf(c.out, "%.2f%%\n", h.AvgSpread)
	}
	if hasDay {
		fmt.Fprintf(c.out, "Best day: %s with %d opportunities\n",
			time.Weekday(day.DayOfWeek), day.Count)
	}
}

func (c *Console) renderPairs(pairs []model.PairStat) {
	c.header.Fprintln(c.out, "\nTop exchange routes")
	if len(pairs) == 0 {
		c.subtle.Fprintln(c.out, "No routes recorded in this window.")
		return
	}

	fmt.Fprintf(c.out, "%-12s %-12s %-6s %6s %10s %10s\n",
		"BUY AT", "SELL AT", "COIN", "TIMES", "AVG SPR", "MAX SPR")
	for _, p := range pairs {
		fmt.Fprintf(c.out, "%-12s %-12s %-6s %6d %9.2f%% %9.2f%%\n",
			p.BuyExchange, p.SellExchange, p.Coin, p.Frequency, p.AvgSpread, p.MaxSpread)
	}
}

func (c *Console) renderCoins(coins []model.CoinStat) {
	c.header.Fprintln(c.out, "\nPer-coin statistics")
	if len(coins) == 0 {
		c.subtle.Fprintln(c.out, "No coin data in this window.")
		return
	}
	for _, s := range coins {
		c.rowName.Fprintf(c.out, "%-6s", s.Coin)
		fmt.Fprintf(c.out, " %5d opportunities, avg %.2f%%, max %.2f%%\n",
			s.Count, s.AvgSpread, s.MaxSpread)
	}
}

// FeeComparison is one coin/network's withdrawal fees across exchanges,
// cheapest first.
type FeeComparison struct {
	Coin    string
	Network string
	Fees    []source.NetworkFee
}

// RenderFees prints withdrawal fee comparisons per coin and network.
func (c *Console) RenderFees(comparisons []FeeComparison) {
	c.header.Fprintln(c.out, "\n=== Withdrawal fees ===")
	if len(comparisons) == 0 {
		c.subtle.Fprintln(c.out, "No fee data available.")
		return
	}
	for _, cmp := range comparisons {
		c.rowName.Fprintf(c.out, "\n%s via %s\n", cmp.Coin, cmp.Network)
		for i, fee := range cmp.Fees {
			line := fmt.Sprintf("%-12s %12.8f %s\n", fee.Exchange, fee.Fee, cmp.Coin)
			if i == 0 {
				c.good.Fprint(c.out, line)
			} else {
				fmt.Fprint(c.out, line)
			}
		}
	}
}

func (c *Console) renderRecent(recent []model.Opportunity) {
	c.header.Fprintln(c.out, "\nRecent opportunities")
	if len(recent) == 0 {
		c.subtle.Fprintln(c.out, "Nothing persisted recently.")
		return
	}
	for _, opp := range recent {
		fmt.Fprintf(c.out, "%s  %s/%s  %s -> %s  ",
			opp.Timestamp.Format("2006-01-02 15:04"), opp.Coin, opp.Fiat,
			opp.BuyExchange, opp.SellExchange)
		c.good.Fprintf(c.out, "%.2f%%\n", opp.SpreadPercentage)
	}
}
