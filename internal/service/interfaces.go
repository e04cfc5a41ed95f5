package service

import (
	"time"

	"finsight/internal/models"
	"finsight/internal/repository"
	"finsight/internal/websocket"
)

// UserRepositoryInterface определяет интерфейс репозитория пользователей
type UserRepositoryInterface interface {
	Create(user *models.User) error
	GetByEmail(email string) (*models.User, error)
	GetByID(id int64) (*models.User, error)
	UpdatePasswordHash(id int64, hash string) error
}

// TokenRepositoryInterface определяет интерфейс хранилища сессионных токенов
type TokenRepositoryInterface interface {
	Create(tokenHash string, userID int64, expiresAt time.Time) error
	GetUserID(tokenHash string, now time.Time) (int64, error)
	Delete(tokenHash string) error
	DeleteExpired(now time.Time) (int64, error)
}

// AlertRepositoryInterface определяет интерфейс репозитория алертов
type AlertRepositoryInterface interface {
	Create(alert *models.Alert) error
	GetByUser(userID int64) ([]*models.Alert, error)
	GetByID(id, userID int64) (*models.Alert, error)
	GetActiveByTicker(ticker string) ([]*models.Alert, error)
	ActiveTickers() ([]string, error)
	MarkTriggered(id int64, at time.Time) error
	Delete(id, userID int64) error
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(n *models.Notification) error
	GetByUser(userID int64, limit int) ([]*models.Notification, error)
	MarkAllRead(userID int64) (int64, error)
	CountUnread(userID int64) (int, error)
	DeleteOlderThan(before time.Time) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ UserRepositoryInterface = (*repository.UserRepository)(nil)
var _ TokenRepositoryInterface = (*repository.TokenRepository)(nil)
var _ AlertRepositoryInterface = (*repository.AlertRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)

// Publisher - рассылка по топикам WebSocket.
//
// Позволяет избежать зависимости сервисов от реализации Hub
// и упрощает тестирование (можно подставить mock)
type Publisher interface {
	Publish(topic string, message interface{})
}

// TopicSource - тикеры, на которые подписаны клиенты
type TopicSource interface {
	ActiveTickers() []string
}

var _ Publisher = (*websocket.Hub)(nil)
var _ TopicSource = (*websocket.Hub)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// AuthServiceInterface определяет интерфейс сервиса аутентификации
type AuthServiceInterface interface {
	Login(email, password, clientKey string) (*models.LoginResponse, error)
	Authenticate(token string) (*models.User, error)
	Logout(token string) error
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	List(userID int64) ([]*models.Notification, error)
	MarkAllRead(userID int64) (int64, error)
}

// AlertServiceInterface определяет интерфейс сервиса алертов
type AlertServiceInterface interface {
	List(userID int64) ([]*models.Alert, error)
	Create(userID int64, req models.CreateAlertRequest) (*models.Alert, error)
	Delete(userID, alertID int64) error
}

// PriceServiceInterface определяет интерфейс сервиса котировок
type PriceServiceInterface interface {
	GetQuote(ticker string) (*models.Quote, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ AuthServiceInterface = (*AuthService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ AlertServiceInterface = (*AlertService)(nil)
var _ PriceServiceInterface = (*PriceService)(nil)
