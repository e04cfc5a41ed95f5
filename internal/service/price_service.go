package service

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/models"
	"finsight/internal/websocket"
	"finsight/pkg/utils"
)

// ErrQuoteNotFound - по тикеру ещё нет котировки
var ErrQuoteNotFound = errors.New("quote not found")

// PriceConfig - параметры симулятора котировок
type PriceConfig struct {
	Enabled      bool
	TickInterval time.Duration
	BasePrice    float64 // центр начальной цены
	Spread       float64 // ширина диапазона начальной цены
	Volume       int64
}

// AlertEvaluator - проверка алертов по новой котировке
type AlertEvaluator interface {
	Evaluate(quote models.Quote, now time.Time) (int, error)
	ActiveTickers() ([]string, error)
}

// PriceService хранит последние котировки и, в режиме симулятора,
// генерирует тики для тикеров с подписчиками или активными алертами.
//
// Каждый тик:
// 1. сдвигает цену на случайный процент из [-1%, +1%]
// 2. публикуется в топик price:<ticker>
// 3. проверяет алерты тикера
type PriceService struct {
	cfg       PriceConfig
	publisher Publisher
	topics    TopicSource
	alerts    AlertEvaluator

	mu     sync.RWMutex
	quotes map[string]models.Quote
	rnd    *rand.Rand

	now    func() time.Time
	logger *utils.Logger
}

// NewPriceService создает новый экземпляр PriceService.
// topics и alerts могут быть nil.
func NewPriceService(cfg PriceConfig, publisher Publisher, topics TopicSource, alerts AlertEvaluator, logger *utils.Logger) *PriceService {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 150
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 1000
	}
	return &PriceService{
		cfg:       cfg,
		publisher: publisher,
		topics:    topics,
		alerts:    alerts,
		quotes:    make(map[string]models.Quote),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		logger:    utils.OrGlobal(logger).WithComponent("prices"),
	}
}

// GetQuote возвращает последнюю котировку тикера.
// В режиме симулятора неизвестный тикер получает начальную котировку.
func (s *PriceService) GetQuote(ticker string) (*models.Quote, error) {
	if err := utils.ValidateTicker(ticker); err != nil {
		return nil, err
	}
	ticker = utils.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[ticker]
	if !ok {
		if !s.cfg.Enabled {
			return nil, ErrQuoteNotFound
		}
		q = s.seedLocked(ticker)
		s.quotes[ticker] = q
	}
	return &q, nil
}

// SetQuote записывает котировку из внешнего источника
func (s *PriceService) SetQuote(q models.Quote) {
	q.Ticker = utils.NormalizeTicker(q.Ticker)
	s.mu.Lock()
	s.quotes[q.Ticker] = q
	s.mu.Unlock()
}

// Tickers - тикеры, по которым есть котировки
func (s *PriceService) Tickers() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.quotes))
	for t := range s.quotes {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Run генерирует тики каждые TickInterval до отмены контекста.
// Если симулятор выключен - сразу возвращается.
func (s *PriceService) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("price simulator disabled")
		return
	}

	s.logger.Info("price simulator started", utils.Duration("interval", s.cfg.TickInterval))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Step()
		case <-ctx.Done():
			s.logger.Info("price simulator stopped")
			return
		}
	}
}

// Step - один тик симулятора по всем отслеживаемым тикерам
func (s *PriceService) Step() {
	now := s.now()
	for _, ticker := range s.trackedTickers() {
		q := s.advance(ticker, now)

		if s.publisher != nil {
			s.publisher.Publish(websocket.PriceTopic(ticker), models.TickFromQuote(q))
		}

		if s.alerts != nil {
			if _, err := s.alerts.Evaluate(q, now); err != nil {
				s.logger.Warn("alert evaluation failed", utils.Ticker(ticker), utils.Err(err))
			}
		}
	}
}

// trackedTickers - объединение подписок hub и тикеров активных алертов
func (s *PriceService) trackedTickers() []string {
	set := make(map[string]struct{})
	if s.topics != nil {
		for _, t := range s.topics.ActiveTickers() {
			set[t] = struct{}{}
		}
	}
	if s.alerts != nil {
		tickers, err := s.alerts.ActiveTickers()
		if err != nil {
			s.logger.Warn("failed to load alert tickers", utils.Err(err))
		}
		for _, t := range tickers {
			set[t] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// advance сдвигает котировку тикера и сохраняет её
func (s *PriceService) advance(ticker string, now time.Time) models.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.quotes[ticker]
	if !ok {
		prev = s.seedLocked(ticker)
	}

	// процент изменения из [-1, 1]
	pct := decimal.NewFromFloat(s.rnd.Float64()*2 - 1).Round(2)
	price := prev.CurrentPrice.Mul(decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100)))).Round(2)
	if price.LessThan(minPrice) {
		price = minPrice
	}

	q := s.quoteAt(ticker, price, pct, now)
	s.quotes[ticker] = q
	return q
}

var (
	minPrice  = decimal.RequireFromString("0.01")
	rangeStep = decimal.NewFromInt(1)
)

// seedLocked - начальная котировка в [BasePrice - Spread/2, BasePrice + Spread/2]
func (s *PriceService) seedLocked(ticker string) models.Quote {
	offset := (s.rnd.Float64() - 0.5) * s.cfg.Spread
	price := decimal.NewFromFloat(s.cfg.BasePrice + offset).Round(2)
	if price.LessThan(minPrice) {
		price = minPrice
	}
	pct := decimal.NewFromFloat(s.rnd.Float64()*2 - 1).Round(2)
	return s.quoteAt(ticker, price, pct, s.now())
}

func (s *PriceService) quoteAt(ticker string, price, pct decimal.Decimal, now time.Time) models.Quote {
	low := price.Sub(rangeStep)
	if low.LessThan(minPrice) {
		low = minPrice
	}
	return models.Quote{
		Ticker:        ticker,
		CurrentPrice:  price,
		Volume:        s.cfg.Volume,
		PercentChange: pct,
		High:          price.Add(rangeStep),
		Low:           low,
		Timestamp:     models.NewTimestamp(now),
	}
}
