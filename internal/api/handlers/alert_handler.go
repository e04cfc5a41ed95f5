package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"finsight/internal/models"
	"finsight/internal/repository"
	"finsight/internal/service"
	"finsight/pkg/utils"
)

// AlertHandler - ценовые алерты пользователя
//
// Endpoints:
// - GET /api/alerts - список
// - POST /api/alerts - создать
// - DELETE /api/alerts/{id} - удалить вместе с уведомлениями
type AlertHandler struct {
	alertService service.AlertServiceInterface
}

// NewAlertHandler создает новый AlertHandler с внедрением зависимости
func NewAlertHandler(alertService service.AlertServiceInterface) *AlertHandler {
	return &AlertHandler{alertService: alertService}
}

// GetAlerts возвращает алерты текущего пользователя
func (h *AlertHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	alerts, err := h.alertService.List(user.ID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get alerts")
		return
	}

	respondWithJSON(w, http.StatusOK, alerts)
}

// CreateAlert создаёт алерт
//
// HTTP коды:
// - 201 Created: созданный алерт
// - 400 Bad Request: некорректный тикер, условие или порог
func (h *AlertHandler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.CreateAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	alert, err := h.alertService.Create(user.ID, req)
	if err != nil {
		if isValidationError(err) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to create alert")
		return
	}

	respondWithJSON(w, http.StatusCreated, alert)
}

// DeleteAlert удаляет алерт
//
// HTTP коды:
// - 204 No Content: удалён
// - 400 Bad Request: некорректный id
// - 404 Not Found: алерта нет или он чужой
func (h *AlertHandler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid alert ID")
		return
	}

	if err := h.alertService.Delete(user.ID, id); err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			respondWithError(w, http.StatusNotFound, "Alert not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "Failed to delete alert")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func isValidationError(err error) bool {
	return errors.Is(err, utils.ErrInvalidTicker) ||
		errors.Is(err, utils.ErrEmptyTicker) ||
		errors.Is(err, models.ErrInvalidCondition) ||
		errors.Is(err, models.ErrInvalidThreshold)
}
