package livesync

import (
	"context"
	"testing"
	"time"

	"finsight/internal/models"
	"finsight/internal/stream"
)

func TestValuate(t *testing.T) {
	now := baseTime
	holdings := []models.Holding{
		{Ticker: "AAPL", Name: "Apple Inc.", Quantity: dec("2"), AveragePrice: dec("100"),
			MinThreshold: decPtr("95"), MaxThreshold: decPtr("120")},
		{Ticker: "MSFT", Quantity: dec("1"), AveragePrice: dec("300")},
		{Ticker: "TSLA", Quantity: dec("3"), AveragePrice: dec("200"), MinThreshold: decPtr("190")},
	}
	quotes := map[string]models.Quote{
		"AAPL": {Ticker: "AAPL", CurrentPrice: dec("130"), Timestamp: models.NewTimestamp(now)},
		"TSLA": {Ticker: "TSLA", CurrentPrice: dec("180")},
	}

	v := Valuate(holdings, quotes, now)

	if len(v.Holdings) != 3 {
		t.Fatalf("rows = %d", len(v.Holdings))
	}

	aapl := v.Holdings[0]
	if aapl.Stale || !aapl.LastPrice.Equal(dec("130")) || !aapl.MarketValue.Equal(dec("260")) {
		t.Errorf("AAPL row = %+v", aapl)
	}
	if !aapl.PnLAbs.Equal(dec("60")) || !aapl.PnLPct.Equal(dec("0.3")) {
		t.Errorf("AAPL pnl = %s / %s", aapl.PnLAbs, aapl.PnLPct)
	}
	if aapl.Threshold != models.ThresholdAboveMax || aapl.PriceAsOf == nil {
		t.Errorf("AAPL threshold=%q priceAsOf=%v", aapl.Threshold, aapl.PriceAsOf)
	}

	msft := v.Holdings[1]
	if !msft.Stale || msft.LastPrice != nil || !msft.Invested.Equal(dec("300")) {
		t.Errorf("MSFT row = %+v", msft)
	}

	if v.Holdings[2].Threshold != models.ThresholdBelowMin {
		t.Errorf("TSLA threshold = %q", v.Holdings[2].Threshold)
	}

	// вложено 200+300+600, рыночная стоимость 260+540
	if !v.Totals.Invested.Equal(dec("1100")) || !v.Totals.MarketValue.Equal(dec("800")) {
		t.Errorf("totals = %+v", v.Totals)
	}
	if !v.Totals.PnLAbs.Equal(dec("-300")) || v.Totals.StaleCount != 1 {
		t.Errorf("totals = %+v", v.Totals)
	}
	if !v.UpdatedAt.Equal(now) {
		t.Errorf("updatedAt = %v", v.UpdatedAt)
	}
}

func TestValuate_NothingInvested(t *testing.T) {
	holdings := []models.Holding{{Ticker: "AAPL", Quantity: dec("0"), AveragePrice: dec("100")}}
	quotes := map[string]models.Quote{"AAPL": {CurrentPrice: dec("130")}}

	v := Valuate(holdings, quotes, baseTime)
	if !v.Holdings[0].PnLPct.IsZero() || !v.Totals.PnLPct.IsZero() {
		t.Errorf("pnlPct must be 0 without investment: %+v", v)
	}
}

func TestValuator_RepricesOnTicks(t *testing.T) {
	api := newFakeAPI()
	api.prices["AAPL"] = models.Quote{Ticker: "AAPL", CurrentPrice: dec("100")}
	d := newFakeDialer()
	holdings := []models.Holding{
		{Ticker: "aapl", Quantity: dec("2"), AveragePrice: dec("100")},
		{Ticker: "MSFT", Quantity: dec("1"), AveragePrice: dec("300")},
	}
	v := NewValuator(newTestCache(t), api, d, holdings, testStreamConfig())
	t.Cleanup(v.Stop)

	if got := v.Tickers(); len(got) != 2 || got[0] != "AAPL" {
		t.Fatalf("tickers = %v", got)
	}

	updates := make(chan models.Valuation, 32)
	cancel := v.Watch(func(val models.Valuation) { updates <- val })
	defer cancel()

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	val := v.Valuation()
	if val.Totals.StaleCount != 1 || !val.Totals.MarketValue.Equal(dec("200")) {
		t.Fatalf("after seed: %+v", val.Totals)
	}

	var msft *fakeTransport
	waitFor(t, "MSFT stream", func() bool {
		msft = d.last(stream.PriceKey("MSFT"))
		return msft != nil
	})
	msft.send(`{"currentPrice":310}`)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case val = <-updates:
		case <-deadline:
			t.Fatalf("no repricing, last = %+v", v.Valuation().Totals)
		}
		if val.Totals.StaleCount == 0 {
			break
		}
	}
	if !val.Totals.MarketValue.Equal(dec("510")) || !val.Totals.PnLAbs.Equal(dec("10")) {
		t.Errorf("totals = %+v", val.Totals)
	}
}
