package stream

import "strings"

// Purpose - назначение live-потока
type Purpose string

const (
	PurposePrice         Purpose = "price"
	PurposeNotifications Purpose = "notifications"
)

// Key - ключ подписки слота: (price, AAPL) или (notifications, <token>)
type Key struct {
	Purpose Purpose
	ID      string
}

// PriceKey - ключ потока котировок тикера
func PriceKey(ticker string) Key {
	return Key{Purpose: PurposePrice, ID: ticker}
}

// NotificationsKey - ключ потока уведомлений сессии
func NotificationsKey(token string) Key {
	return Key{Purpose: PurposeNotifications, ID: token}
}

// IsZero - ключ не задан
func (k Key) IsZero() bool {
	return k.Purpose == "" && k.ID == ""
}

// String - представление для логов; токен не печатается целиком
func (k Key) String() string {
	id := k.ID
	if k.Purpose == PurposeNotifications {
		id = redact(id)
	}
	return string(k.Purpose) + ":" + id
}

func redact(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "…"
}
