package repository

import (
	"database/sql"
	"time"

	"finsight/internal/models"
)

// NotificationRepository - работа с таблицей notifications
//
// Функции:
// - Create: создать уведомление о срабатывании алерта
// - GetByUser: журнал пользователя, новые первыми
// - MarkAllRead: пометить все непрочитанные
// - CountUnread: количество непрочитанных
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление и заполняет ID
func (r *NotificationRepository) Create(n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, alert_id, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if n.CreatedAt.IsZero() {
		n.CreatedAt = models.NewTimestamp(time.Now())
	}

	return r.db.QueryRow(
		query,
		n.UserID,
		n.AlertID,
		n.Message,
		n.Read,
		n.CreatedAt,
	).Scan(&n.ID)
}

// GetByUser возвращает уведомления пользователя (новые первыми).
// limit <= 0 - без ограничения.
func (r *NotificationRepository) GetByUser(userID int64, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, user_id, alert_id, message, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY id DESC`

	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]*models.Notification, 0)
	for rows.Next() {
		n := &models.Notification{}
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.AlertID,
			&n.Message,
			&n.Read,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

// MarkAllRead помечает все непрочитанные; повторный вызов ничего не меняет
func (r *NotificationRepository) MarkAllRead(userID int64) (int64, error) {
	result, err := r.db.Exec(`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountUnread возвращает количество непрочитанных
func (r *NotificationRepository) CountUnread(userID int64) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOlderThan - автоочистка старых прочитанных уведомлений
func (r *NotificationRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM notifications WHERE is_read AND created_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
