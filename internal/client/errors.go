package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"finsight/internal/models"
)

var (
	// ErrUnauthorized - сервер ответил 401/403; сессия уже сброшена
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetwork - запрос не дошёл до сервера или ответ не прочитан
	ErrNetwork = errors.New("network error occurred")

	// ErrMalformedPayload - тело успешного ответа не разбирается
	ErrMalformedPayload = models.ErrMalformedPayload
)

// APIError - ответ сервера со статусом не 2xx
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is - 401/403 совпадают с ErrUnauthorized
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && IsAuthStatus(e.Status)
}

// Retryable - повторять имеет смысл только 5xx и 429
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsAuthStatus - статус означает недействительную сессию
func IsAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// errorBody - JSON ошибки бэкенда
type errorBody struct {
	Error string `json:"error"`
}

// messageFromBody - читаемое сообщение: поле error JSON, текст или
// "Request failed (<status>)"
func messageFromBody(status int, contentType string, body []byte) string {
	text := strings.TrimSpace(string(body))

	if strings.Contains(contentType, "application/json") {
		var eb errorBody
		if err := models.JSON.Unmarshal(body, &eb); err == nil && eb.Error != "" {
			return eb.Error
		}
		return fmt.Sprintf("Request failed (%d)", status)
	}
	if text != "" {
		return text
	}
	return fmt.Sprintf("Request failed (%d)", status)
}

// networkError оборачивает сбой транспорта
type networkError struct {
	cause error
}

func (e *networkError) Error() string {
	return ErrNetwork.Error() + ": " + e.cause.Error()
}

func (e *networkError) Unwrap() []error {
	return []error{ErrNetwork, e.cause}
}

func (e *networkError) Retryable() bool { return true }
