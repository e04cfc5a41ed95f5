package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finsight/internal/metrics"
	"finsight/internal/models"
	"finsight/internal/session"
	"finsight/pkg/retry"
	"finsight/pkg/utils"
)

// maxBodySize - ограничение на чтение тела ответа
const maxBodySize = 4 << 20

// Config - параметры REST клиента
type Config struct {
	BaseURL string
	HTTP    HTTPConfig

	// Retry применяется только к идемпотентным GET
	Retry retry.Config
}

// Client - REST клиент FinSight API.
//
// Токен берётся из Session; любой ответ 401/403 сбрасывает сессию
// (Session.Invalidate) и возвращает ошибку, совпадающую с ErrUnauthorized.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Session
	retry   retry.Config
	logger  *utils.Logger
}

// New создаёт клиент
func New(cfg Config, sess *session.Session, logger *utils.Logger) *Client {
	if cfg.HTTP == (HTTPConfig{}) {
		cfg.HTTP = DefaultHTTPConfig()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    newHTTPClient(cfg.HTTP),
		session: sess,
		retry:   cfg.Retry,
		logger:  utils.OrGlobal(logger).WithComponent("api"),
	}
}

// BaseURL - адрес API
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session - сессия клиента
func (c *Client) Session() *session.Session {
	return c.session
}

// ============================================================
// Операции API
// ============================================================

// Login выполняет вход и сохраняет токен в сессии
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	req := models.LoginRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: login response has no token", ErrMalformedPayload)
	}
	if err := c.session.Login(resp.Token, resp.User); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout отзывает токен на сервере и завершает локальную сессию.
// Локальная сессия завершается и при ошибке запроса.
func (c *Client) Logout(ctx context.Context) error {
	if !c.session.LoggedIn() {
		return nil
	}
	route := "/api/auth/logout"
	err := c.do(ctx, http.MethodPost, route, route, nil, nil)
	c.session.Logout()
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}
	return err
}

// GetNotifications - уведомления пользователя (сервер отдаёт новые первыми)
func (c *Client) GetNotifications(ctx context.Context) ([]models.Notification, error) {
	var list []models.Notification
	if err := c.get(ctx, "/api/notifications", "/api/notifications", &list); err != nil {
		return nil, err
	}
	for i := range list {
		if err := list[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	return list, nil
}

// MarkAllNotificationsRead помечает все уведомления прочитанными на сервере
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	route := "/api/notifications/mark-all-as-read"
	return c.do(ctx, http.MethodPost, route, route, struct{}{}, nil)
}

// GetPrice - последняя котировка тикера
func (c *Client) GetPrice(ctx context.Context, ticker string) (*models.Quote, error) {
	var q models.Quote
	path := "/api/price/" + url.PathEscape(ticker)
	if err := c.get(ctx, "/api/price/{ticker}", path, &q); err != nil {
		return nil, err
	}
	if q.Ticker == "" {
		q.Ticker = ticker
	}
	return &q, nil
}

// ListAlerts - алерты пользователя
func (c *Client) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	var list []models.Alert
	if err := c.get(ctx, "/api/alerts", "/api/alerts", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateAlert создаёт алерт
func (c *Client) CreateAlert(ctx context.Context, req models.CreateAlertRequest) (*models.Alert, error) {
	var a models.Alert
	if err := c.do(ctx, http.MethodPost, "/api/alerts", "/api/alerts", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAlert удаляет алерт (сервер удаляет и его уведомления)
func (c *Client) DeleteAlert(ctx context.Context, id int64) error {
	path := "/api/alerts/" + strconv.FormatInt(id, 10)
	return c.do(ctx, http.MethodDelete, "/api/alerts/{id}", path, nil, nil)
}

// ============================================================
// Транспорт
// ============================================================

// get - идемпотентный запрос с повторами
func (c *Client) get(ctx context.Context, route, path string, out interface{}) error {
	cfg := c.retry
	if cfg.MaxRetries <= 1 {
		return c.do(ctx, http.MethodGet, route, path, nil, out)
	}

	cfg.RetryIf = shouldRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("retrying request",
			utils.String("route", route),
			utils.Attempt(attempt),
			utils.Delay(delay),
			utils.Err(err),
		)
	}
	return retry.Do(ctx, func() error {
		return c.do(ctx, http.MethodGet, route, path, nil, out)
	}, cfg)
}

// shouldRetry - сетевые сбои, 5xx и 429, кроме отмены контекста.
// Ошибки разбора и построения запроса помечены retry.Permanent.
func shouldRetry(err error) bool {
	return retry.IsRetryable(err) && retry.RetryIfNotContext(err)
}

// do выполняет один запрос. route - шаблон пути для метрик.
func (c *Client) do(ctx context.Context, method, route, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := models.JSON.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		metrics.RecordAPIRequest(method, route, 0, latency)
		c.logger.Warn("request failed", utils.String("method", method), utils.String("route", route), utils.Err(err))
		return &networkError{cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	metrics.RecordAPIRequest(method, route, resp.StatusCode, latency)
	if err != nil {
		return &networkError{cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Status:  resp.StatusCode,
			Message: messageFromBody(resp.StatusCode, resp.Header.Get("Content-Type"), data),
		}
		if IsAuthStatus(resp.StatusCode) {
			reason := session.ReasonUnauthorized
			if resp.StatusCode == http.StatusForbidden {
				reason = session.ReasonForbidden
			}
			metrics.SessionInvalidations.Inc()
			c.session.Invalidate(reason)
		}
		c.logger.Debug("api error",
			utils.String("method", method),
			utils.String("route", route),
			utils.HTTPStatus(resp.StatusCode),
			utils.String("message", apiErr.Message),
		)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		if out != nil {
			return retry.Permanent(fmt.Errorf("%w: empty response body", ErrMalformedPayload))
		}
		return nil
	}
	if err := models.JSON.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	return nil
}
