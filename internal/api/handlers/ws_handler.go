package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"finsight/internal/websocket"
	"finsight/pkg/utils"
)

// TopicServer - апгрейд соединения и подписка на топик
type TopicServer interface {
	ServeTopic(w http.ResponseWriter, r *http.Request, topic string)
}

// StreamHandler - WebSocket потоки
//
// Endpoints:
// - WS /ws/price/{ticker} - тики тикера
// - WS /ws/notifications - уведомления пользователя (токен проверен middleware)
type StreamHandler struct {
	hub TopicServer
}

// NewStreamHandler создает новый StreamHandler
func NewStreamHandler(hub TopicServer) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// ServePrice подписывает клиента на тики тикера
func (h *StreamHandler) ServePrice(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	if err := utils.ValidateTicker(ticker); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ticker")
		return
	}
	h.hub.ServeTopic(w, r, websocket.PriceTopic(utils.NormalizeTicker(ticker)))
}

// ServeNotifications подписывает клиента на уведомления текущего пользователя
func (h *StreamHandler) ServeNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	h.hub.ServeTopic(w, r, websocket.UserTopic(user.ID))
}
