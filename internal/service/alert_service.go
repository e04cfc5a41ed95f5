package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/metrics"
	"finsight/internal/models"
	"finsight/pkg/utils"
)

// AlertNotifier - создание уведомления о срабатывании
type AlertNotifier interface {
	CreateForAlert(alert *models.Alert, price decimal.Decimal) (*models.Notification, error)
}

// AlertService - ценовые алерты пользователей и их проверка по котировкам
type AlertService struct {
	repo     AlertRepositoryInterface
	notifier AlertNotifier
	logger   *utils.Logger
}

// NewAlertService создает новый экземпляр AlertService
func NewAlertService(repo AlertRepositoryInterface, notifier AlertNotifier, logger *utils.Logger) *AlertService {
	return &AlertService{
		repo:     repo,
		notifier: notifier,
		logger:   utils.OrGlobal(logger).WithComponent("alerts"),
	}
}

// List возвращает алерты пользователя
func (s *AlertService) List(userID int64) ([]*models.Alert, error) {
	return s.repo.GetByUser(userID)
}

// Create проверяет запрос и сохраняет алерт
func (s *AlertService) Create(userID int64, req models.CreateAlertRequest) (*models.Alert, error) {
	if err := utils.ValidateTicker(req.Ticker); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	alert := &models.Alert{
		UserID:        userID,
		Ticker:        utils.NormalizeTicker(req.Ticker),
		ConditionType: req.ConditionType,
		Threshold:     req.Threshold,
	}
	if err := s.repo.Create(alert); err != nil {
		return nil, err
	}

	s.logger.Info("alert created",
		utils.AlertID(alert.ID),
		utils.UserID(userID),
		utils.Ticker(alert.Ticker),
		utils.String("condition", string(alert.ConditionType)),
	)
	return alert, nil
}

// Delete удаляет алерт пользователя вместе с его уведомлениями
func (s *AlertService) Delete(userID, alertID int64) error {
	if err := s.repo.Delete(alertID, userID); err != nil {
		return err
	}
	s.logger.Info("alert deleted", utils.AlertID(alertID), utils.UserID(userID))
	return nil
}

// ActiveTickers - тикеры с активными алертами
func (s *AlertService) ActiveTickers() ([]string, error) {
	return s.repo.ActiveTickers()
}

// Evaluate проверяет активные алерты тикера по котировке.
// Сработавший алерт уходит на паузу AlertCooldown; возвращает число срабатываний.
func (s *AlertService) Evaluate(quote models.Quote, now time.Time) (int, error) {
	alerts, err := s.repo.GetActiveByTicker(quote.Ticker)
	if err != nil {
		return 0, err
	}

	var errs []error
	triggered := 0
	for _, alert := range alerts {
		if !alert.ShouldTrigger(quote.CurrentPrice, now) {
			continue
		}

		if err := s.repo.MarkTriggered(alert.ID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		ts := models.NewTimestamp(now)
		alert.LastTriggeredAt = &ts

		if _, err := s.notifier.CreateForAlert(alert, quote.CurrentPrice); err != nil {
			errs = append(errs, err)
			continue
		}

		metrics.RecordAlertTriggered(string(alert.ConditionType))
		triggered++
	}

	return triggered, errors.Join(errs...)
}
