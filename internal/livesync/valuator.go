package livesync

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/cache"
	"finsight/internal/models"
	"finsight/internal/stream"
	"finsight/pkg/utils"
)

// Valuator переоценивает портфель по live-котировкам.
//
// На каждый тикер позиции открывается свой слот цены; тики пишутся в те же
// записи quote/<ticker>, что и у LiveQuote, а каждая запись в них
// пересчитывает оценку.
type Valuator struct {
	cache    *cache.Cache
	api      QuoteAPI
	dialer   stream.Dialer
	cfg      StreamConfig
	holdings []models.Holding
	logger   *utils.Logger

	mu        sync.Mutex
	slots     map[string]*stream.Slot
	stops     []func()
	current   models.Valuation
	listeners map[int]func(models.Valuation)
	nextID    int

	now func() time.Time
}

// NewValuator создаёт оценщик для позиций
func NewValuator(c *cache.Cache, api QuoteAPI, dialer stream.Dialer, holdings []models.Holding, cfg StreamConfig) *Valuator {
	v := &Valuator{
		cache:     c,
		api:       api,
		dialer:    dialer,
		cfg:       cfg,
		holdings:  normalizeHoldings(holdings),
		logger:    utils.OrGlobal(cfg.Logger).WithComponent("valuator"),
		slots:     make(map[string]*stream.Slot),
		listeners: make(map[int]func(models.Valuation)),
		now:       time.Now,
	}
	v.current = Valuate(v.holdings, nil, v.now())
	return v
}

func normalizeHoldings(in []models.Holding) []models.Holding {
	out := make([]models.Holding, len(in))
	for i, h := range in {
		h.Ticker = utils.NormalizeTicker(h.Ticker)
		out[i] = h
	}
	return out
}

// Tickers - уникальные тикеры позиций в исходном порядке
func (v *Valuator) Tickers() []string {
	seen := make(map[string]struct{}, len(v.holdings))
	out := make([]string, 0, len(v.holdings))
	for _, h := range v.holdings {
		if _, ok := seen[h.Ticker]; ok {
			continue
		}
		seen[h.Ticker] = struct{}{}
		out = append(out, h.Ticker)
	}
	return out
}

// Start открывает потоки и загружает снимки по всем тикерам.
// Ошибки снимков не фатальны: позиция остаётся stale до первого тика.
func (v *Valuator) Start(ctx context.Context) error {
	for _, ticker := range v.Tickers() {
		if err := utils.ValidateTicker(ticker); err != nil {
			return err
		}

		v.mu.Lock()
		slot, ok := v.slots[ticker]
		if !ok {
			slot = v.newSlot(ticker)
			v.slots[ticker] = slot
		}
		v.mu.Unlock()

		stop := v.cache.Watch(QuoteKey(ticker), func(interface{}) { v.recompute() })
		v.mu.Lock()
		v.stops = append(v.stops, stop)
		v.mu.Unlock()

		h, err := slot.Subscribe(stream.PriceKey(ticker))
		if err != nil {
			return err
		}

		q, err := v.api.GetPrice(ctx, ticker)
		if err != nil {
			v.logger.Warn("seed failed", utils.Ticker(ticker), utils.Err(err))
			continue
		}
		if h.Current() {
			seedQuote(v.cache, ticker, *q)
		}
	}
	v.recompute()
	return nil
}

func (v *Valuator) newSlot(ticker string) *stream.Slot {
	sc := v.cfg.slotConfig("valuation:" + ticker)
	sc.Decoder = func(data []byte) (interface{}, error) {
		return models.DecodeTick(data)
	}
	sc.OnMessage = func(key stream.Key, msg interface{}) {
		if err := applyTick(v.cache, key.ID, msg.(models.Tick)); err != nil {
			v.logger.Warn("dropping tick", utils.Ticker(key.ID), utils.Err(err))
		}
	}
	return stream.NewSlot(v.dialer, sc)
}

// Valuation - последняя оценка
func (v *Valuator) Valuation() models.Valuation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Watch подписывает fn на новые оценки
func (v *Valuator) Watch(fn func(models.Valuation)) (cancel func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	}
}

// Stop закрывает все потоки
func (v *Valuator) Stop() {
	v.mu.Lock()
	slots := v.slots
	stops := v.stops
	v.slots = make(map[string]*stream.Slot)
	v.stops = nil
	v.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	for _, s := range slots {
		s.Close()
	}
}

func (v *Valuator) recompute() {
	quotes := make(map[string]models.Quote, len(v.holdings))
	for _, ticker := range v.Tickers() {
		if q, ok := cache.ReadAs[models.Quote](v.cache, QuoteKey(ticker)); ok {
			quotes[ticker] = q
		}
	}
	val := Valuate(v.holdings, quotes, v.now())

	v.mu.Lock()
	v.current = val
	fns := make([]func(models.Valuation), 0, len(v.listeners))
	for _, fn := range v.listeners {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(val)
	}
}

// Valuate оценивает позиции по котировкам. Позиция без котировки (или с
// нулевой ценой - тик без цены до первого снимка) помечается stale и
// учитывается только во вложениях.
func Valuate(holdings []models.Holding, quotes map[string]models.Quote, now time.Time) models.Valuation {
	out := models.Valuation{
		UpdatedAt: models.NewTimestamp(now),
		Holdings:  make([]models.HoldingValuation, 0, len(holdings)),
	}
	totals := &out.Totals

	for _, h := range holdings {
		row := models.HoldingValuation{
			Ticker:   h.Ticker,
			Name:     h.Name,
			Quantity: h.Quantity,
			Invested: h.Quantity.Mul(h.AveragePrice),
		}
		totals.Invested = totals.Invested.Add(row.Invested)

		q, ok := quotes[h.Ticker]
		if !ok || q.CurrentPrice.IsZero() {
			row.Stale = true
			totals.StaleCount++
			out.Holdings = append(out.Holdings, row)
			continue
		}

		price := q.CurrentPrice
		market := h.Quantity.Mul(price)
		pnl := market.Sub(row.Invested)
		pct := decimal.Zero
		if !row.Invested.IsZero() {
			pct = pnl.Div(row.Invested)
		}
		row.LastPrice = &price
		row.MarketValue = &market
		row.PnLAbs = &pnl
		row.PnLPct = &pct
		if !q.Timestamp.IsZero() {
			ts := q.Timestamp
			row.PriceAsOf = &ts
		}
		switch {
		case h.MinThreshold != nil && price.LessThan(*h.MinThreshold):
			row.Threshold = models.ThresholdBelowMin
		case h.MaxThreshold != nil && price.GreaterThan(*h.MaxThreshold):
			row.Threshold = models.ThresholdAboveMax
		}

		totals.MarketValue = totals.MarketValue.Add(market)
		out.Holdings = append(out.Holdings, row)
	}

	// stale позиции входят во вложения, но не в рыночную стоимость
	totals.PnLAbs = totals.MarketValue.Sub(totals.Invested)
	if !totals.Invested.IsZero() {
		totals.PnLPct = totals.PnLAbs.Div(totals.Invested)
	}
	return out
}
