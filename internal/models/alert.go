package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionType - условие срабатывания алерта
type ConditionType string

const (
	ConditionGT ConditionType = "GT" // цена строго выше порога
	ConditionLT ConditionType = "LT" // цена строго ниже порога
)

// AlertCooldown - пауза после срабатывания
const AlertCooldown = 5 * time.Minute

var (
	ErrInvalidCondition = errors.New("condition must be GT or LT")
	ErrInvalidThreshold = errors.New("threshold must be positive")
)

// Alert - ценовой алерт пользователя
type Alert struct {
	ID              int64           `json:"id" db:"id"`
	UserID          int64           `json:"-" db:"user_id"`
	Ticker          string          `json:"ticker" db:"ticker"`
	ConditionType   ConditionType   `json:"conditionType" db:"condition_type"`
	Threshold       decimal.Decimal `json:"threshold" db:"threshold"`
	Active          bool            `json:"active" db:"active"`
	LastTriggeredAt *Timestamp      `json:"lastTriggeredAt,omitempty" db:"last_triggered_at"`
	CreatedAt       Timestamp       `json:"createdAt" db:"created_at"`
	UpdatedAt       Timestamp       `json:"updatedAt" db:"updated_at"`
}

// CreateAlertRequest - тело POST /api/alerts
type CreateAlertRequest struct {
	Ticker        string          `json:"ticker"`
	ConditionType ConditionType   `json:"conditionType"`
	Threshold     decimal.Decimal `json:"threshold"`
}

// Validate проверяет условие и порог (тикер проверяет вызывающий)
func (r CreateAlertRequest) Validate() error {
	if r.ConditionType != ConditionGT && r.ConditionType != ConditionLT {
		return fmt.Errorf("%w: %q", ErrInvalidCondition, r.ConditionType)
	}
	if !r.Threshold.IsPositive() {
		return ErrInvalidThreshold
	}
	return nil
}

// Matches - цена удовлетворяет условию (строгое сравнение)
func (a *Alert) Matches(price decimal.Decimal) bool {
	switch a.ConditionType {
	case ConditionGT:
		return price.GreaterThan(a.Threshold)
	case ConditionLT:
		return price.LessThan(a.Threshold)
	default:
		return false
	}
}

// InCooldown - алерт недавно срабатывал
func (a *Alert) InCooldown(now time.Time) bool {
	return a.LastTriggeredAt != nil && now.Sub(a.LastTriggeredAt.Time) < AlertCooldown
}

// ShouldTrigger - активен, не на паузе и условие выполнено
func (a *Alert) ShouldTrigger(price decimal.Decimal, now time.Time) bool {
	return a.Active && !a.InCooldown(now) && a.Matches(price)
}

// TriggerMessage - текст уведомления о срабатывании
func (a *Alert) TriggerMessage(price decimal.Decimal) string {
	return fmt.Sprintf("Price Alert: %s is now $%s, triggering your alert for %s $%s.",
		a.Ticker, price.StringFixed(2), a.ConditionType, a.Threshold.StringFixed(2))
}
