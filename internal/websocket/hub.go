package websocket

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"finsight/internal/metrics"
	"finsight/pkg/utils"
)

// DefaultClientBuffer - размер буфера исходящих сообщений клиента
const DefaultClientBuffer = 256

// envelope - кадр для рассылки по топику
type envelope struct {
	topic string
	data  []byte
}

// Hub управляет WebSocket соединениями и рассылкой по топикам.
//
// Каждый клиент подписан ровно на один топик: "price:<ticker>" или
// "user:<id>". Publish не блокируется: при переполненной очереди кадр
// отбрасывается и учитывается в DroppedMessages, медленный клиент
// отключается.
//
// Использование:
// 1. hub := NewHub(logger, 0)
// 2. go hub.Run()
// 3. hub.Publish(PriceTopic("AAPL"), tick)
type Hub struct {
	topics map[string]map[*Client]struct{}

	publish    chan envelope
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	clientBuffer int
	dropped      atomic.Uint64
	upgrader     *websocket.Upgrader

	mu     sync.RWMutex
	logger *utils.Logger
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger, clientBuffer int) *Hub {
	if clientBuffer <= 0 {
		clientBuffer = DefaultClientBuffer
	}
	return &Hub{
		topics:       make(map[string]map[*Client]struct{}),
		publish:      make(chan envelope, 1024),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		stop:         make(chan struct{}),
		clientBuffer: clientBuffer,
		upgrader:     NewOriginChecker(nil).Upgrader(),
		logger:       utils.OrGlobal(logger).WithComponent("hub"),
	}
}

// Run запускает главный цикл Hub; завершается после Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.topics[client.topic]
			if !ok {
				set = make(map[*Client]struct{})
				h.topics[client.topic] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			metrics.HubClients.Inc()
			h.logger.Debug("client connected", utils.String("topic", client.topic), utils.Count(h.ClientCount()))

		case client := <-h.unregister:
			if h.remove(client) {
				h.logger.Debug("client disconnected", utils.String("topic", client.topic), utils.Count(h.ClientCount()))
			}

		case env := <-h.publish:
			h.deliver(env)
		}
	}
}

// deliver отправляет кадр подписчикам топика.
// Копируем список под коротким RLock, отправляем без блокировки.
func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	set := h.topics[env.topic]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- env.data:
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.remove(c)
	}
	if len(slow) > 0 {
		h.logger.Warn("removed slow clients", utils.Count(len(slow)), utils.String("topic", env.topic))
	}
}

// remove удаляет клиента и закрывает его очередь (один раз)
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[c.topic]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.topics, c.topic)
	}
	close(c.send)
	metrics.HubClients.Dec()
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.topics {
		for c := range set {
			close(c.send)
			metrics.HubClients.Dec()
		}
		delete(h.topics, topic)
	}
}

// Stop останавливает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Publish сериализует message и рассылает подписчикам топика
func (h *Hub) Publish(topic string, message interface{}) {
	data, err := encodeFrame(message)
	if err != nil {
		h.logger.Error("failed to encode message", utils.String("topic", topic), utils.Err(err))
		return
	}
	h.PublishRaw(topic, data)
}

// PublishRaw рассылает готовый кадр; не блокируется
func (h *Hub) PublishRaw(topic string, data []byte) {
	select {
	case h.publish <- envelope{topic: topic, data: data}:
	case <-h.stop:
	default:
		h.dropped.Add(1)
		metrics.HubDroppedMessages.Inc()
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.topics {
		n += len(set)
	}
	return n
}

// Subscribers - количество клиентов топика
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Topics - топики с подписчиками и заданным префиксом, по алфавиту
func (h *Hub) Topics(prefix string) []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		if strings.HasPrefix(topic, prefix) {
			out = append(out, topic)
		}
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ActiveTickers - тикеры, на которые кто-то подписан
func (h *Hub) ActiveTickers() []string {
	topics := h.Topics(priceTopicPrefix)
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if ticker, ok := TickerFromTopic(t); ok {
			out = append(out, ticker)
		}
	}
	return out
}

// DroppedMessages - сколько кадров отброшено из-за переполнения
func (h *Hub) DroppedMessages() uint64 {
	return h.dropped.Load()
}
