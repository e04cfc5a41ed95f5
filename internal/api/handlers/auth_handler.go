package handlers

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"finsight/internal/api/middleware"
	"finsight/internal/models"
	"finsight/internal/service"
)

// AuthHandler - логин и выход
//
// Endpoints:
// - POST /api/auth/login - email/пароль -> {token, user}
// - POST /api/auth/logout - отзыв текущего токена
type AuthHandler struct {
	authService service.AuthServiceInterface
}

// NewAuthHandler создает новый AuthHandler с внедрением зависимости
func NewAuthHandler(authService service.AuthServiceInterface) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login проверяет учётные данные и выдаёт токен
//
// HTTP коды:
// - 200 OK: {token, user}
// - 400 Bad Request: некорректное тело
// - 401 Unauthorized: неверный email или пароль
// - 429 Too Many Requests: превышен лимит попыток
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	resp, err := h.authService.Login(req.Email, req.Password, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		case errors.Is(err, service.ErrTooManyAttempts):
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(err)))
			respondWithError(w, http.StatusTooManyRequests, "Too many login attempts, try again later")
		default:
			respondWithError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// Logout отзывает токен текущего запроса
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.Logout(middleware.TokenFromContext(r.Context())); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientIP - адрес клиента без порта (ключ лимитера попыток)
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds - значение заголовка Retry-After, не меньше секунды
func retryAfterSeconds(err error) int {
	var rle *service.RateLimitError
	if !errors.As(err, &rle) {
		return 1
	}
	secs := int(math.Ceil(rle.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
