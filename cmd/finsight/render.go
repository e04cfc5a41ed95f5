package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/models"
	"finsight/pkg/utils"
)

const timeLayout = "2006-01-02 15:04:05"

// formatNotification - "*" отмечает непрочитанные, время относительно now
func formatNotification(n models.Notification, now time.Time) string {
	mark := "*"
	if n.Read {
		mark = " "
	}
	return fmt.Sprintf("%s #%d  %-10s  %s", mark, n.ID, utils.HumanizeSince(n.CreatedAt.Time, now), n.Message)
}

func formatQuote(q models.Quote) string {
	return fmt.Sprintf("%-6s %10s  %s  vol %d  H %s  L %s  %s",
		q.Ticker,
		q.CurrentPrice.StringFixed(2),
		signedPct(q.PercentChange),
		q.Volume,
		q.High.StringFixed(2),
		q.Low.StringFixed(2),
		q.Timestamp.Local().Format(timeLayout),
	)
}

func formatAlert(a models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s %s", a.ID, a.Ticker, a.ConditionType, a.Threshold.StringFixed(2))
	if !a.Active {
		b.WriteString(" (inactive)")
	}
	if a.LastTriggeredAt != nil {
		fmt.Fprintf(&b, ", last triggered %s", a.LastTriggeredAt.Local().Format(timeLayout))
	}
	return b.String()
}

// formatValuation - итог портфеля и строка на каждую позицию
func formatValuation(v models.Valuation) string {
	var b strings.Builder
	t := v.Totals
	fmt.Fprintf(&b, "Portfolio: invested %s, value %s, P&L %s (%s)",
		t.Invested.StringFixed(2), t.MarketValue.StringFixed(2), signed(t.PnLAbs), signedPct(t.PnLPct))
	if t.StaleCount > 0 {
		fmt.Fprintf(&b, ", %d stale", t.StaleCount)
	}
	for _, h := range v.Holdings {
		b.WriteString("\n  ")
		fmt.Fprintf(&b, "%-6s x%s", h.Ticker, h.Quantity.String())
		if h.LastPrice == nil {
			b.WriteString("  no price")
		} else {
			fmt.Fprintf(&b, "  @ %s", h.LastPrice.StringFixed(2))
			if h.PnLAbs != nil && h.PnLPct != nil {
				fmt.Fprintf(&b, "  P&L %s (%s)", signed(*h.PnLAbs), signedPct(*h.PnLPct))
			}
		}
		if h.Stale {
			b.WriteString("  [stale]")
		}
		switch h.Threshold {
		case models.ThresholdBelowMin:
			b.WriteString("  [below min]")
		case models.ThresholdAboveMax:
			b.WriteString("  [above max]")
		}
	}
	return b.String()
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func signedPct(d decimal.Decimal) string {
	return signed(d) + "%"
}
