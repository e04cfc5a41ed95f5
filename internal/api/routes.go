package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finsight/internal/api/handlers"
	"finsight/internal/api/middleware"
	"finsight/internal/service"
	"finsight/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	AuthService         service.AuthServiceInterface
	NotificationService service.NotificationServiceInterface
	AlertService        service.AlertServiceInterface
	PriceService        service.PriceServiceInterface
	Hub                 handlers.TopicServer
	CORSOrigins         []string
	Logger              *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/
//
//	├── /auth/login - POST, без токена
//	├── /auth/logout - POST
//	├── /notifications - GET
//	├── /notifications/mark-all-as-read - POST
//	├── /price/{ticker} - GET
//	├── /alerts - GET, POST
//	└── /alerts/{id} - DELETE
//
// /ws/
//
//	├── /price/{ticker} - тики, без токена
//	└── /notifications - уведомления, Bearer или ?token=
//
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для защищенных маршрутов)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.CORSOrigins))

	// Preflight для любых путей; ответ формирует CORS
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	api := router.PathPrefix("/api").Subrouter()

	if deps.AuthService != nil {
		authHandler := handlers.NewAuthHandler(deps.AuthService)
		api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)

		protected := api.NewRoute().Subrouter()
		protected.Use(middleware.Auth(deps.AuthService, false))
		protected.HandleFunc("/auth/logout", authHandler.Logout).Methods(http.MethodPost)

		if deps.NotificationService != nil {
			h := handlers.NewNotificationHandler(deps.NotificationService)
			protected.HandleFunc("/notifications", h.GetNotifications).Methods(http.MethodGet)
			protected.HandleFunc("/notifications/mark-all-as-read", h.MarkAllAsRead).Methods(http.MethodPost)
		}

		if deps.AlertService != nil {
			h := handlers.NewAlertHandler(deps.AlertService)
			protected.HandleFunc("/alerts", h.GetAlerts).Methods(http.MethodGet)
			protected.HandleFunc("/alerts", h.CreateAlert).Methods(http.MethodPost)
			protected.HandleFunc("/alerts/{id:[0-9]+}", h.DeleteAlert).Methods(http.MethodDelete)
		}

		if deps.PriceService != nil {
			h := handlers.NewPriceHandler(deps.PriceService)
			protected.HandleFunc("/price/{ticker}", h.GetPrice).Methods(http.MethodGet)
		}

		if deps.Hub != nil {
			streams := handlers.NewStreamHandler(deps.Hub)
			router.HandleFunc("/ws/price/{ticker}", streams.ServePrice)

			ws := router.PathPrefix("/ws").Subrouter()
			ws.Use(middleware.Auth(deps.AuthService, true))
			ws.HandleFunc("/notifications", streams.ServeNotifications)
		}
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}
