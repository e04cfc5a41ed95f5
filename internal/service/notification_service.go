package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/metrics"
	"finsight/internal/models"
	"finsight/internal/websocket"
	"finsight/pkg/utils"
)

// MaxListedNotifications - сколько последних уведомлений отдаёт List
const MaxListedNotifications = 500

// NotificationService предоставляет бизнес-логику уведомлений.
//
// Отвечает за:
// - Журнал уведомлений пользователя (новые сверху)
// - Пометку всех как прочитанных
// - Создание уведомления при срабатывании алерта и push в топик пользователя
type NotificationService struct {
	repo      NotificationRepositoryInterface
	publisher Publisher
	logger    *utils.Logger
}

// NewNotificationService создает новый экземпляр NotificationService.
// publisher может быть nil (без push).
func NewNotificationService(repo NotificationRepositoryInterface, publisher Publisher, logger *utils.Logger) *NotificationService {
	return &NotificationService{
		repo:      repo,
		publisher: publisher,
		logger:    utils.OrGlobal(logger).WithComponent("notifications"),
	}
}

// List возвращает уведомления пользователя, новые первыми
func (s *NotificationService) List(userID int64) ([]*models.Notification, error) {
	return s.repo.GetByUser(userID, MaxListedNotifications)
}

// MarkAllRead помечает все уведомления прочитанными; идемпотентен
func (s *NotificationService) MarkAllRead(userID int64) (int64, error) {
	n, err := s.repo.MarkAllRead(userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("notifications marked read", utils.UserID(userID), utils.Int64("count", n))
	}
	return n, nil
}

// CreateForAlert сохраняет уведомление о срабатывании алерта
// и отправляет его подписчикам пользователя
func (s *NotificationService) CreateForAlert(alert *models.Alert, price decimal.Decimal) (*models.Notification, error) {
	alertID := alert.ID
	n := &models.Notification{
		UserID:  alert.UserID,
		AlertID: &alertID,
		Message: alert.TriggerMessage(price),
	}

	if err := s.repo.Create(n); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.Inc()

	if s.publisher != nil {
		s.publisher.Publish(websocket.UserTopic(n.UserID), n)
	}

	s.logger.Info("notification created",
		utils.NotificationID(n.ID),
		utils.AlertID(alertID),
		utils.UserID(n.UserID),
	)
	return n, nil
}

// Prune удаляет прочитанные уведомления старше retention
func (s *NotificationService) Prune(retention time.Duration, now time.Time) (int64, error) {
	n, err := s.repo.DeleteOlderThan(now.Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("old notifications removed", utils.Int64("count", n))
	}
	return n, nil
}

// RunRetention периодически вызывает Prune до отмены контекста
func (s *NotificationService) RunRetention(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Prune(retention, time.Now()); err != nil {
				s.logger.Warn("failed to prune notifications", utils.Err(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
