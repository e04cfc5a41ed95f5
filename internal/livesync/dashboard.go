package livesync

import (
	"context"
	"sync"

	"finsight/internal/cache"
	"finsight/internal/models"
	"finsight/internal/session"
	"finsight/internal/stream"
	"finsight/pkg/utils"
)

// DashboardConfig - зависимости дашборда
type DashboardConfig struct {
	API      API
	Dialer   stream.Dialer
	Session  *session.Session
	Cache    *cache.Cache // nil - создаётся свой
	Holdings []models.Holding
	Stream   StreamConfig
	Logger   *utils.Logger
}

// Dashboard собирает уведомления, котировку и оценку портфеля одной сессии.
// Завершение сессии (logout или 401/403) закрывает все потоки и очищает кэш.
type Dashboard struct {
	Notifications *Notifications
	Quote         *LiveQuote
	Valuator      *Valuator // nil без позиций

	cache      *cache.Cache
	ownCache   bool
	session    *session.Session
	logger     *utils.Logger
	stopListen func()

	closeOnce sync.Once
}

// NewDashboard создаёт дашборд; потоки открываются в Start
func NewDashboard(cfg DashboardConfig) *Dashboard {
	logger := utils.OrGlobal(cfg.Logger)
	if cfg.Stream.Logger == nil {
		cfg.Stream.Logger = logger
	}

	c, own := cfg.Cache, false
	if c == nil {
		c, own = cache.New(cache.Config{Logger: logger}), true
	}

	d := &Dashboard{
		Notifications: NewNotifications(c, cfg.API, cfg.Dialer, cfg.Stream),
		Quote:         NewLiveQuote(c, cfg.API, cfg.Dialer, cfg.Stream),
		cache:         c,
		ownCache:      own,
		session:       cfg.Session,
		logger:        logger.WithComponent("dashboard"),
	}
	if len(cfg.Holdings) > 0 {
		d.Valuator = NewValuator(c, cfg.API, cfg.Dialer, cfg.Holdings, cfg.Stream)
	}
	d.stopListen = cfg.Session.OnInvalidate(d.onSessionEnd)
	return d
}

// Cache - общий кэш дашборда
func (d *Dashboard) Cache() *cache.Cache {
	return d.cache
}

// Start открывает поток уведомлений и оценку портфеля
func (d *Dashboard) Start(ctx context.Context) error {
	token := d.session.Token()
	if token == "" {
		return session.ErrNotLoggedIn
	}
	if err := d.Notifications.Connect(token); err != nil {
		return err
	}
	if d.Valuator != nil {
		if err := d.Valuator.Start(ctx); err != nil {
			return err
		}
	}
	d.logger.Info("dashboard started")
	return nil
}

// onSessionEnd - токен больше недействителен: live-потоки закрываются,
// данные пользователя удаляются из кэша
func (d *Dashboard) onSessionEnd(reason string) {
	d.Notifications.Disconnect()
	d.Quote.Stop()
	if d.Valuator != nil {
		d.Valuator.Stop()
	}
	d.cache.Clear()
	d.logger.Info("session ended, live data dropped", utils.String("reason", reason))
}

// Close освобождает слоты и, если кэш собственный, останавливает его
func (d *Dashboard) Close() {
	d.closeOnce.Do(func() {
		d.stopListen()
		d.Notifications.Close()
		d.Quote.Close()
		if d.Valuator != nil {
			d.Valuator.Stop()
		}
		if d.ownCache {
			d.cache.Close()
		}
	})
}
