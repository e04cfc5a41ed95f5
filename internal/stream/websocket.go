package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Время ожидания записи служебного кадра
	writeWait = 10 * time.Second

	// Время ожидания pong от сервера
	pongWait = 60 * time.Second

	// Интервал ping (меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего кадра
	maxMessageSize = 65536
)

// ErrUnsupportedPurpose - dialer не знает, куда подключать ключ
var ErrUnsupportedPurpose = errors.New("unsupported stream purpose")

// HandshakeError - сервер отверг handshake (например 401)
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// WebsocketDialer подключает ключи к эндпоинтам бэкенда:
//
//	(price, T)          -> {BaseURL}/ws/price/{T}
//	(notifications, tk) -> {BaseURL}/ws/notifications + Authorization: Bearer tk
type WebsocketDialer struct {
	BaseURL          string // ws://host:port
	HandshakeTimeout time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration

	dialer *websocket.Dialer
}

// NewWebsocketDialer создаёт dialer; baseURL может быть http(s):// - схема
// будет заменена на ws(s)://
func NewWebsocketDialer(baseURL string, handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		BaseURL:          WSBaseURL(baseURL),
		HandshakeTimeout: handshakeTimeout,
		PongWait:         pongWait,
		PingPeriod:       pingPeriod,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// WSBaseURL приводит адрес API к адресу WebSocket
func WSBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// URL - адрес эндпоинта для ключа
func (d *WebsocketDialer) URL(key Key) (string, error) {
	switch key.Purpose {
	case PurposePrice:
		return d.BaseURL + "/ws/price/" + url.PathEscape(key.ID), nil
	case PurposeNotifications:
		return d.BaseURL + "/ws/notifications", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPurpose, key.Purpose)
	}
}

// Dial открывает WebSocket соединение
func (d *WebsocketDialer) Dial(ctx context.Context, key Key) (Transport, error) {
	u, err := d.URL(key)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if key.Purpose == PurposeNotifications && key.ID != "" {
		header.Set("Authorization", "Bearer "+key.ID)
	}

	conn, resp, err := d.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial error: %w", err)
	}

	return newWSTransport(conn, d.PongWait, d.PingPeriod), nil
}

// wsTransport - Transport поверх gorilla соединения с ping/pong
type wsTransport struct {
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
	writeMu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn, pongWait, pingPeriod time.Duration) *wsTransport {
	t := &wsTransport{conn: conn, done: make(chan struct{})}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.pingPump(pingPeriod)
	return t
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) pingPump(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				// разрыв увидит ReadMessage
				return
			}
		}
	}
}

// Close отправляет close-кадр (best effort) и закрывает соединение
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}
