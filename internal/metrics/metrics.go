package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики FinSight
// ============================================================
//
// Клиентская часть (subsystem stream/cache/sync/api) и
// reference backend (subsystem hub/alerts/http).
// Метки - только назначение потока (price, notifications), без тикеров,
// чтобы не раздувать кардинальность.

const namespace = "finsight"

// ============ Live-потоки ============

// StreamState - текущее состояние слота (1 для активного состояния)
var StreamState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "state",
		Help:      "Current connection state per stream purpose (1 = active state)",
	},
	[]string{"purpose", "state"},
)

// StreamFrames - входящие кадры по результату обработки
var StreamFrames = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Inbound frames by outcome (delivered, stale, malformed)",
	},
	[]string{"purpose", "outcome"},
)

// StreamReconnects - попытки переподключения
var StreamReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts by kind (auto, manual)",
	},
	[]string{"purpose", "kind"},
)

// ============ Кэш ============

// CacheWrites - записи в кэш по источнику
var CacheWrites = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Cache writes by key prefix",
	},
	[]string{"prefix"},
)

// CacheFetches - фоновые и явные загрузки
var CacheFetches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "fetches_total",
		Help:      "Cache fetches by key prefix and result",
	},
	[]string{"prefix", "result"},
)

// ============ Согласование ============

// OptimisticRollbacks - откаты оптимистичных изменений
var OptimisticRollbacks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "optimistic_rollbacks_total",
		Help:      "Optimistic updates rolled back after server failure",
	},
	[]string{"operation"},
)

// UnreadNotifications - текущее число непрочитанных уведомлений
var UnreadNotifications = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "unread_notifications",
		Help:      "Unread notifications in the local cache",
	},
)

// ============ REST ============

// APIRequestLatency - латентность запросов к API
var APIRequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_latency_ms",
		Help:      "REST request latency in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"method", "route", "status"},
)

// SessionInvalidations - принудительные выходы (401/403)
var SessionInvalidations = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "session_invalidations_total",
		Help:      "Sessions invalidated by 401/403 responses",
	},
)

// ============ Backend ============

// HubClients - подключённые WebSocket клиенты
var HubClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "clients",
		Help:      "Connected WebSocket clients",
	},
)

// HubDroppedMessages - сообщения, не доставленные медленным клиентам
var HubDroppedMessages = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because of full buffers",
	},
)

// AlertsTriggered - сработавшие алерты
var AlertsTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "triggered_total",
		Help:      "Price alerts triggered by condition",
	},
	[]string{"condition"},
)

// NotificationsCreated - созданные уведомления
var NotificationsCreated = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "notifications_created_total",
		Help:      "Notifications created by the alert evaluator",
	},
)

// HTTPRequests - входящие HTTP запросы сервера
var HTTPRequests = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "Server-side HTTP request duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"method", "status"},
)

// ============================================================
// Хелперы
// ============================================================

// allStates - значения для StreamState (совпадают с stream.State.String)
var allStates = []string{"idle", "connecting", "open", "backoff", "closed", "error"}

// RecordStreamState выставляет 1 для текущего состояния и 0 для остальных
func RecordStreamState(purpose, state string) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		StreamState.WithLabelValues(purpose, s).Set(v)
	}
}

// RecordFrame учитывает входящий кадр
func RecordFrame(purpose, outcome string) {
	StreamFrames.WithLabelValues(purpose, outcome).Inc()
}

// RecordReconnect учитывает попытку переподключения
func RecordReconnect(purpose string, manual bool) {
	kind := "auto"
	if manual {
		kind = "manual"
	}
	StreamReconnects.WithLabelValues(purpose, kind).Inc()
}

// RecordCacheWrite учитывает запись в кэш
func RecordCacheWrite(prefix string) {
	CacheWrites.WithLabelValues(prefix).Inc()
}

// RecordCacheFetch учитывает загрузку
func RecordCacheFetch(prefix string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CacheFetches.WithLabelValues(prefix, result).Inc()
}

// RecordRollback учитывает откат оптимистичного изменения
func RecordRollback(operation string) {
	OptimisticRollbacks.WithLabelValues(operation).Inc()
}

// RecordAPIRequest записывает латентность REST запроса.
// status = 0 означает сетевую ошибку.
func RecordAPIRequest(method, route string, status int, latencyMs float64) {
	s := "network_error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	APIRequestLatency.WithLabelValues(method, route, s).Observe(latencyMs)
}

// RecordHTTPRequest записывает входящий запрос сервера
func RecordHTTPRequest(method string, status int, latencyMs float64) {
	HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Observe(latencyMs)
}

// RecordAlertTriggered учитывает сработавший алерт и созданное уведомление
func RecordAlertTriggered(condition string) {
	AlertsTriggered.WithLabelValues(condition).Inc()
	NotificationsCreated.Inc()
}
