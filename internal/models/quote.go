package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// ErrTickerMismatch - кадр относится к другому тикеру
var ErrTickerMismatch = errors.New("tick ticker does not match subscription")

// Quote - последняя известная котировка тикера
type Quote struct {
	Ticker        string          `json:"ticker"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	Volume        int64           `json:"volume"`
	PercentChange decimal.Decimal `json:"percentChange"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Timestamp     Timestamp       `json:"timestamp"`
}

// Tick - частичное обновление котировки из live-потока.
// Отсутствующие поля (nil) сохраняют прежние значения.
type Tick struct {
	Ticker        *string          `json:"ticker,omitempty"`
	CurrentPrice  *decimal.Decimal `json:"currentPrice,omitempty"`
	Volume        *int64           `json:"volume,omitempty"`
	PercentChange *decimal.Decimal `json:"percentChange,omitempty"`
	High          *decimal.Decimal `json:"high,omitempty"`
	Low           *decimal.Decimal `json:"low,omitempty"`
	Timestamp     *Timestamp       `json:"timestamp,omitempty"`
}

// Apply накладывает tick поверх котировки по полям.
// Тикер результата не меняется - он принадлежит подписке.
func (q Quote) Apply(t Tick) Quote {
	if t.CurrentPrice != nil {
		q.CurrentPrice = *t.CurrentPrice
	}
	if t.Volume != nil {
		q.Volume = *t.Volume
	}
	if t.PercentChange != nil {
		q.PercentChange = *t.PercentChange
	}
	if t.High != nil {
		q.High = *t.High
	}
	if t.Low != nil {
		q.Low = *t.Low
	}
	if t.Timestamp != nil {
		q.Timestamp = *t.Timestamp
	}
	return q
}

// CheckTicker - tick без тикера подходит любой подписке,
// с тикером - только своей
func (t Tick) CheckTicker(ticker string) error {
	if t.Ticker != nil && *t.Ticker != "" && *t.Ticker != ticker {
		return ErrTickerMismatch
	}
	return nil
}

// Empty - в tick нет ни одного поля котировки
func (t Tick) Empty() bool {
	return t.CurrentPrice == nil && t.Volume == nil && t.PercentChange == nil &&
		t.High == nil && t.Low == nil && t.Timestamp == nil
}

// TickFromQuote - полный tick из котировки (используется сервером)
func TickFromQuote(q Quote) Tick {
	ticker := q.Ticker
	price := q.CurrentPrice
	volume := q.Volume
	change := q.PercentChange
	high := q.High
	low := q.Low
	ts := q.Timestamp
	return Tick{
		Ticker:        &ticker,
		CurrentPrice:  &price,
		Volume:        &volume,
		PercentChange: &change,
		High:          &high,
		Low:           &low,
		Timestamp:     &ts,
	}
}
