// Package report implements the one-shot CLI performance reporter (spec
// section 6, CLI surface): it prints the aggregate from get_trade_stats()
// and the list of currently ACTIVE oco_links, the way the polybot pack's
// console notifier renders structured terminal output with tablewriter.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/olekukonko/tablewriter"

	"spotexec/internal/store"
)

// Print writes the full performance report to w.
func Print(w io.Writer, st *store.Store) error {
	stats, err := st.GetTradeStats()
	if err != nil {
		return fmt.Errorf("report: fetching trade stats: %w", err)
	}
	printStats(w, stats)

	links, err := st.ListActiveOcoLinks(50)
	if err != nil {
		return fmt.Errorf("report: listing active oco links: %w", err)
	}
	printActiveLinks(w, links)

	return nil
}

func printStats(w io.Writer, stats store.TradeStats) {
	fmt.Fprintln(w, "\n=== PERFORMANCE SUMMARY ===")

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")

	profitFactor := fmt.Sprintf("%.2f", stats.ProfitFactor)
	if stats.ProfitFactor < 0 {
		profitFactor = "inf"
	}

	table.Append("Closed trades", fmt.Sprintf("%d", stats.ClosedTrades))
	table.Append("Wins / Losses", fmt.Sprintf("%d / %d", stats.Wins, stats.Losses))
	table.Append("Winrate", fmt.Sprintf("%.2f%%", stats.WinratePct))
	table.Append("Total PnL (quote)", stats.PnLQuoteSum.String())
	table.Append("Total quote deployed", stats.QuoteInSum.String())
	table.Append("ROI", fmt.Sprintf("%.2f%%", round2(stats.ROIPct)))
	table.Append("Gross profit", stats.GrossProfit.String())
	table.Append("Gross loss", stats.GrossLoss.String())
	table.Append("Profit factor", profitFactor)

	table.Render()
}

func printActiveLinks(w io.Writer, links []store.OcoLink) {
	fmt.Fprintln(w, "\n=== ACTIVE OCO LINKS ===")
	if len(links) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Symbol", "TP Order", "SL Order", "TP Price", "SL Stop", "Amount", "Opened")

	for _, l := range links {
		table.Append(
			fmt.Sprintf("%d", l.ID),
			l.Symbol,
			l.TPOrderID,
			l.SLOrderID,
			l.TPPrice.String(),
			l.SLStopPrice.String(),
			l.Amount.String(),
			l.CreatedAt,
		)
	}
	table.Render()
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
