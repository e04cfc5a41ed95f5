package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"finsight/internal/models"
)

// AlertRepository - работа с таблицей alerts
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository создает новый экземпляр репозитория
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, user_id, ticker, condition_type, threshold, active, last_triggered_at, created_at, updated_at`

// Create добавляет алерт
func (r *AlertRepository) Create(alert *models.Alert) error {
	query := `
		INSERT INTO alerts (user_id, ticker, condition_type, threshold, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	now := models.NewTimestamp(time.Now())
	alert.Ticker = strings.ToUpper(alert.Ticker)
	alert.Active = true
	alert.CreatedAt = now
	alert.UpdatedAt = now

	return r.db.QueryRow(
		query,
		alert.UserID,
		alert.Ticker,
		string(alert.ConditionType),
		alert.Threshold,
		alert.Active,
		alert.CreatedAt,
		alert.UpdatedAt,
	).Scan(&alert.ID)
}

// GetByUser возвращает алерты пользователя, новые первыми
func (r *AlertRepository) GetByUser(userID int64) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE user_id = $1
		ORDER BY id DESC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

// GetByID возвращает алерт пользователя по ID
func (r *AlertRepository) GetByID(id, userID int64) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE id = $1 AND user_id = $2`

	alert := &models.Alert{}
	if err := scanAlert(r.db.QueryRow(query, id, userID), alert); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// GetActiveByTicker - активные алерты всех пользователей по тикеру
func (r *AlertRepository) GetActiveByTicker(ticker string) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE ticker = $1 AND active
		ORDER BY id`

	rows, err := r.db.Query(query, strings.ToUpper(ticker))
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

// ActiveTickers - тикеры, по которым есть активные алерты
func (r *AlertRepository) ActiveTickers() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT ticker FROM alerts WHERE active ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, err
		}
		tickers = append(tickers, ticker)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickers, nil
}

// MarkTriggered фиксирует время срабатывания (начало паузы)
func (r *AlertRepository) MarkTriggered(id int64, at time.Time) error {
	query := `
		UPDATE alerts
		SET last_triggered_at = $1, updated_at = $1
		WHERE id = $2`

	result, err := r.db.Exec(query, at.UTC(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Delete удаляет алерт пользователя вместе с его уведомлениями.
// Обе операции в одной транзакции.
func (r *AlertRepository) Delete(id, userID int64) (err error) {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM notifications WHERE alert_id = $1 AND user_id = $2`, id, userID); err != nil {
		return fmt.Errorf("delete alert notifications: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM alerts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		err = ErrAlertNotFound
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner, alert *models.Alert) error {
	var condition string
	err := row.Scan(
		&alert.ID,
		&alert.UserID,
		&alert.Ticker,
		&condition,
		&alert.Threshold,
		&alert.Active,
		&alert.LastTriggeredAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	alert.ConditionType = models.ConditionType(condition)
	return err
}

func scanAlerts(rows *sql.Rows) ([]*models.Alert, error) {
	defer rows.Close()

	alerts := make([]*models.Alert, 0)
	for rows.Next() {
		alert := &models.Alert{}
		if err := scanAlert(rows, alert); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}
