// Package livesync сводит REST снимки и live-потоки в локальный кэш:
// список уведомлений с оптимистичным "прочитать всё", котировка выбранного
// тикера и оценка портфеля.
package livesync

import (
	"context"
	"time"

	"finsight/internal/cache"
	"finsight/internal/models"
	"finsight/internal/stream"
	"finsight/pkg/retry"
	"finsight/pkg/utils"
)

// NotificationsKey - ключ списка уведомлений в кэше
var NotificationsKey = cache.NewKey("notifications")

// QuoteKey - ключ котировки тикера в кэше
func QuoteKey(ticker string) cache.Key {
	return cache.NewKey("quote", ticker)
}

// NotificationAPI - REST операции над уведомлениями
type NotificationAPI interface {
	GetNotifications(ctx context.Context) ([]models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteAlert(ctx context.Context, id int64) error
}

// QuoteAPI - REST снимок котировки
type QuoteAPI interface {
	GetPrice(ctx context.Context, ticker string) (*models.Quote, error)
}

// API - всё, что нужно слою синхронизации от REST клиента
type API interface {
	NotificationAPI
	QuoteAPI
}

// StreamConfig - параметры live-слотов
type StreamConfig struct {
	ConnectTimeout time.Duration
	Retry          retry.Config
	Logger         *utils.Logger
}

func (c StreamConfig) slotConfig(name string) stream.Config {
	return stream.Config{
		Name:           name,
		ConnectTimeout: c.ConnectTimeout,
		Retry:          c.Retry,
		Logger:         c.Logger,
	}
}
