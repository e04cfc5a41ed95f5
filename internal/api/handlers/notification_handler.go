package handlers

import (
	"net/http"

	"finsight/internal/service"
)

// NotificationHandler отвечает за журнал уведомлений пользователя
//
// Endpoints:
// - GET /api/notifications - список, новые первыми
// - POST /api/notifications/mark-all-as-read - пометить все прочитанными
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// GetNotifications возвращает массив уведомлений текущего пользователя
//
// HTTP коды:
// - 200 OK: массив (пустой, если уведомлений нет)
// - 500 Internal Server Error: ошибка сервера
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	notifications, err := h.notificationService.List(user.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get notifications")
		return
	}

	respondWithJSON(w, http.StatusOK, notifications)
}

// MarkAllAsRead помечает все уведомления прочитанными; идемпотентен
func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if _, err := h.notificationService.MarkAllRead(user.ID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to mark notifications as read")
		return
	}

	w.WriteHeader(http.StatusOK)
}
