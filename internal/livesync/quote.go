package livesync

import (
	"context"
	"errors"
	"sync"

	"finsight/internal/cache"
	"finsight/internal/models"
	"finsight/internal/stream"
	"finsight/pkg/utils"
)

// ErrNotWatching - у LiveQuote нет выбранного тикера
var ErrNotWatching = errors.New("no ticker is being watched")

// LiveQuote - котировка выбранного тикера: REST снимок плюс live-тики.
//
// Смена тикера переключает единственный слот; тики и снимок прежнего
// тикера после переключения на отображаемое значение не влияют.
type LiveQuote struct {
	cache  *cache.Cache
	api    QuoteAPI
	slot   *stream.Slot
	logger *utils.Logger

	// switchMu сериализует Watch/Stop/Reconnect; mu не удерживается при
	// вызовах слота и кэша, которые доставляют в notify
	switchMu  sync.Mutex
	stopWatch func()

	mu        sync.Mutex
	ticker    string
	handle    *stream.Handle
	listeners map[int]func(models.Quote)
	nextID    int
}

// NewLiveQuote создаёт котировку без выбранного тикера
func NewLiveQuote(c *cache.Cache, api QuoteAPI, dialer stream.Dialer, cfg StreamConfig) *LiveQuote {
	l := &LiveQuote{
		cache:     c,
		api:       api,
		logger:    utils.OrGlobal(cfg.Logger).WithComponent("quote"),
		listeners: make(map[int]func(models.Quote)),
	}

	sc := cfg.slotConfig("quote")
	sc.Decoder = func(data []byte) (interface{}, error) {
		return models.DecodeTick(data)
	}
	sc.OnMessage = func(key stream.Key, msg interface{}) {
		if err := applyTick(c, key.ID, msg.(models.Tick)); err != nil {
			l.logger.Warn("dropping tick", utils.Ticker(key.ID), utils.Err(err))
		}
	}
	sc.OnState = func(key stream.Key, st stream.State) {
		l.logger.Debug("stream state", utils.Key(key.String()), utils.State(st.String()))
	}
	l.slot = stream.NewSlot(dialer, sc)
	return l
}

// Watch переключается на ticker и загружает снимок котировки.
// Ошибка снимка возвращается, но live-поток остаётся открытым и
// последнее известное значение не сбрасывается.
func (l *LiveQuote) Watch(ctx context.Context, ticker string) error {
	if err := utils.ValidateTicker(ticker); err != nil {
		return err
	}
	ticker = utils.NormalizeTicker(ticker)

	l.switchMu.Lock()
	h, err := l.slot.Subscribe(stream.PriceKey(ticker))
	if err != nil {
		l.switchMu.Unlock()
		return err
	}
	l.mu.Lock()
	l.ticker = ticker
	l.handle = h
	l.mu.Unlock()

	if l.stopWatch != nil {
		l.stopWatch()
	}
	l.stopWatch = cache.WatchAs(l.cache, QuoteKey(ticker), func(q models.Quote) {
		l.notify(ticker, q)
	})
	l.switchMu.Unlock()

	l.logger.Info("watching", utils.Ticker(ticker), utils.Generation(h.Generation()))
	return l.seed(ctx, h, ticker)
}

// seed записывает REST снимок, если подписка h ещё актуальна
func (l *LiveQuote) seed(ctx context.Context, h *stream.Handle, ticker string) error {
	q, err := l.api.GetPrice(ctx, ticker)
	if err != nil {
		l.logger.Warn("seed failed", utils.Ticker(ticker), utils.Err(err))
		return err
	}
	if !h.Current() {
		l.logger.Debug("dropping stale seed", utils.Ticker(ticker))
		return nil
	}
	seedQuote(l.cache, ticker, *q)
	return nil
}

// Ticker - выбранный тикер или ""
func (l *LiveQuote) Ticker() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticker
}

// Current - котировка выбранного тикера
func (l *LiveQuote) Current() (models.Quote, bool) {
	ticker := l.Ticker()
	if ticker == "" {
		return models.Quote{}, false
	}
	return cache.ReadAs[models.Quote](l.cache, QuoteKey(ticker))
}

// OnChange подписывает fn на изменения котировки выбранного тикера
func (l *LiveQuote) OnChange(fn func(models.Quote)) (cancel func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *LiveQuote) notify(ticker string, q models.Quote) {
	l.mu.Lock()
	if l.ticker != ticker {
		l.mu.Unlock()
		return
	}
	fns := make([]func(models.Quote), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(q)
	}
}

// Status - состояние live-потока
func (l *LiveQuote) Status() stream.State {
	return l.slot.State()
}

// Reconnect переоткрывает поток текущего тикера
func (l *LiveQuote) Reconnect() error {
	l.switchMu.Lock()
	defer l.switchMu.Unlock()

	if l.Ticker() == "" {
		return ErrNotWatching
	}
	h, err := l.slot.Reconnect()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.handle = h
	l.mu.Unlock()
	return nil
}

// Stop закрывает поток и снимает выбор тикера. Значение в кэше остаётся.
func (l *LiveQuote) Stop() {
	l.switchMu.Lock()
	defer l.switchMu.Unlock()

	l.mu.Lock()
	h := l.handle
	l.handle = nil
	l.ticker = ""
	l.mu.Unlock()

	if l.stopWatch != nil {
		l.stopWatch()
		l.stopWatch = nil
	}
	l.slot.Unsubscribe(h)
}

// Close останавливает слот
func (l *LiveQuote) Close() {
	l.Stop()
	l.slot.Close()
}

// applyTick сливает tick в котировку тикера подписки
func applyTick(c *cache.Cache, ticker string, tick models.Tick) error {
	if err := tick.CheckTicker(ticker); err != nil {
		return err
	}
	cache.Update(c, QuoteKey(ticker), func(prev models.Quote, ok bool) models.Quote {
		next := prev.Apply(tick)
		next.Ticker = ticker
		return next
	})
	return nil
}

// seedQuote заменяет котировку снимком целиком
func seedQuote(c *cache.Cache, ticker string, q models.Quote) {
	q.Ticker = ticker
	c.Set(QuoteKey(ticker), q)
}
