package repository

import (
	"database/sql"
	"errors"
	"time"
)

// TokenRepository - сессионные токены.
// Хранится только SHA-256 хеш токена, сам токен знает лишь клиент.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository создает новый экземпляр репозитория
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create сохраняет хеш токена пользователя
func (r *TokenRepository) Create(tokenHash string, userID int64, expiresAt time.Time) error {
	query := `
		INSERT INTO auth_tokens (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(query, tokenHash, userID, expiresAt.UTC(), time.Now().UTC())
	return err
}

// GetUserID возвращает владельца действующего токена
func (r *TokenRepository) GetUserID(tokenHash string, now time.Time) (int64, error) {
	query := `
		SELECT user_id
		FROM auth_tokens
		WHERE token_hash = $1 AND expires_at > $2`

	var userID int64
	err := r.db.QueryRow(query, tokenHash, now.UTC()).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTokenNotFound
		}
		return 0, err
	}
	return userID, nil
}

// Delete отзывает токен
func (r *TokenRepository) Delete(tokenHash string) error {
	result, err := r.db.Exec(`DELETE FROM auth_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteExpired удаляет просроченные токены, возвращает количество
func (r *TokenRepository) DeleteExpired(now time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM auth_tokens WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
