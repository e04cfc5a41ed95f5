package middleware

import (
	"context"
	"net/http"
	"strings"

	"finsight/internal/models"
)

// Authenticator - проверка bearer-токена
type Authenticator interface {
	Authenticate(token string) (*models.User, error)
}

type contextKey int

const (
	userKey contextKey = iota
	tokenKey
)

// BearerToken извлекает токен из "Authorization: Bearer <token>".
// allowQuery разрешает ?token= (браузерный WebSocket не умеет заголовки).
func BearerToken(r *http.Request, allowQuery bool) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// Auth - middleware аутентификации запросов.
//
// Проверяет bearer-токен, кладёт пользователя и токен в context.
// Отсутствующий или недействительный токен - 401 Unauthorized.
func Auth(auth Authenticator, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r, allowQuery)
			if token == "" {
				unauthorized(w)
				return
			}

			user, err := auth.Authenticate(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUser - context с пользователем (для тестов handlers)
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext возвращает пользователя, установленного Auth
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok && user != nil
}

// TokenFromContext возвращает токен текущего запроса
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="finsight"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Unauthorized"}`))
}
