package models

import (
	"errors"
	"sort"
)

// ErrInvalidNotification - push-кадр уведомления не прошёл проверку
var ErrInvalidNotification = errors.New("invalid notification")

// Notification - уведомление о сработавшем алерте.
//
// Создаётся сервером; единственное изменение на клиенте - unread -> read.
type Notification struct {
	ID        int64     `json:"id" db:"id"`
	Message   string    `json:"message" db:"message"`
	AlertID   *int64    `json:"alertId" db:"alert_id"`
	Read      bool      `json:"read" db:"is_read"`
	CreatedAt Timestamp `json:"createdAt" db:"created_at"`

	UserID int64 `json:"-" db:"user_id"`
}

// Validate проверяет обязательные поля
func (n *Notification) Validate() error {
	switch {
	case n.ID <= 0:
		return errors.Join(ErrInvalidNotification, errors.New("id must be positive"))
	case n.Message == "":
		return errors.Join(ErrInvalidNotification, errors.New("message is empty"))
	case n.CreatedAt.IsZero():
		return errors.Join(ErrInvalidNotification, errors.New("createdAt is missing"))
	}
	return nil
}

// BelongsToAlert - уведомление порождено указанным алертом
func (n *Notification) BelongsToAlert(alertID int64) bool {
	return n.AlertID != nil && *n.AlertID == alertID
}

// SortNewestFirst сортирует по убыванию id (id на сервере монотонны)
func SortNewestFirst(list []Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].ID > list[j].ID
	})
}

// CountUnread - количество непрочитанных
func CountUnread(list []Notification) int {
	n := 0
	for i := range list {
		if !list[i].Read {
			n++
		}
	}
	return n
}
