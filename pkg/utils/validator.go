package utils

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных
//
// Используется клиентом (тикер перед подпиской) и сервером (логин, алерты).

var (
	ErrEmptyTicker   = errors.New("ticker cannot be empty")
	ErrInvalidTicker = errors.New("invalid ticker format")
	ErrInvalidEmail  = errors.New("invalid email format")
	ErrShortPassword = errors.New("password must be at least 8 characters")
)

// MaxTickerLength - максимальная длина биржевого тикера
const MaxTickerLength = 10

// тикер: буквы/цифры, допускаются '.' и '-' внутри (BRK.B, RDS-A)
var tickerPattern = regexp.MustCompile(`^[A-Z0-9]+([.-][A-Z0-9]+)*$`)

// NormalizeTicker приводит тикер к верхнему регистру без пробелов
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// ValidateTicker проверяет формат тикера (после нормализации)
func ValidateTicker(ticker string) error {
	t := NormalizeTicker(ticker)
	if t == "" {
		return ErrEmptyTicker
	}
	if len(t) > MaxTickerLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidTicker, ticker, MaxTickerLength)
	}
	if !tickerPattern.MatchString(t) {
		return fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	return nil
}

// ValidateEmail проверяет адрес (без display name)
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword проверяет минимальную длину пароля
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrShortPassword
	}
	return nil
}
