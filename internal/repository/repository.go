package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Ошибки репозиториев
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user with this email already exists")
	ErrTokenNotFound = errors.New("token not found or expired")
	ErrAlertNotFound = errors.New("alert not found")
)

// uniqueViolation - код PostgreSQL для нарушения UNIQUE
const uniqueViolation = "23505"

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, uniqueViolation)
}
