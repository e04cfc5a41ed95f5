package models

import "github.com/shopspring/decimal"

// Threshold-метки строки портфеля
const (
	ThresholdBelowMin = "below_min"
	ThresholdAboveMax = "above_max"
)

// Holding - позиция портфеля
type Holding struct {
	Ticker       string           `json:"ticker"`
	Name         string           `json:"name,omitempty"`
	Quantity     decimal.Decimal  `json:"quantity"`
	AveragePrice decimal.Decimal  `json:"averagePrice"`
	MinThreshold *decimal.Decimal `json:"minThreshold,omitempty"`
	MaxThreshold *decimal.Decimal `json:"maxThreshold,omitempty"`
}

// HoldingValuation - оценка одной позиции по последней цене
type HoldingValuation struct {
	Ticker      string           `json:"ticker"`
	Name        string           `json:"name,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	LastPrice   *decimal.Decimal `json:"lastPrice,omitempty"`
	Invested    decimal.Decimal  `json:"invested"`
	MarketValue *decimal.Decimal `json:"marketValue,omitempty"`
	PnLAbs      *decimal.Decimal `json:"pnlAbs,omitempty"`
	PnLPct      *decimal.Decimal `json:"pnlPct,omitempty"`
	PriceAsOf   *Timestamp       `json:"priceAsOf,omitempty"`
	Stale       bool             `json:"stale"`
	Threshold   string           `json:"threshold,omitempty"`
}

// ValuationTotals - итоги по портфелю
type ValuationTotals struct {
	Invested    decimal.Decimal `json:"invested"`
	MarketValue decimal.Decimal `json:"marketValue"`
	PnLAbs      decimal.Decimal `json:"pnlAbs"`
	PnLPct      decimal.Decimal `json:"pnlPct"`
	StaleCount  int             `json:"staleCount"`
}

// Valuation - снимок оценки портфеля
type Valuation struct {
	UpdatedAt Timestamp          `json:"updatedAt"`
	Totals    ValuationTotals    `json:"totals"`
	Holdings  []HoldingValuation `json:"holdings"`
}
