package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"finsight/internal/models"
	"finsight/internal/repository"
)

// ============ Mock UserRepository ============

type MockUserRepository struct {
	users     map[int64]*models.User
	nextID    int64
	createErr error
	getErr    error
	rehashed  map[int64]string
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users:    make(map[int64]*models.User),
		nextID:   1,
		rehashed: make(map[int64]string),
	}
}

func (m *MockUserRepository) Create(user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, u := range m.users {
		if u.Email == strings.ToLower(user.Email) {
			return repository.ErrUserExists
		}
	}
	user.ID = m.nextID
	user.Email = strings.ToLower(user.Email)
	m.nextID++
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *MockUserRepository) GetByEmail(email string) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *MockUserRepository) GetByID(id int64) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MockUserRepository) UpdatePasswordHash(id int64, hash string) error {
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = hash
	m.rehashed[id] = hash
	return nil
}

// ============ Mock TokenRepository ============

type tokenEntry struct {
	userID    int64
	expiresAt time.Time
}

type MockTokenRepository struct {
	tokens    map[string]tokenEntry
	createErr error
}

func NewMockTokenRepository() *MockTokenRepository {
	return &MockTokenRepository{tokens: make(map[string]tokenEntry)}
}

func (m *MockTokenRepository) Create(tokenHash string, userID int64, expiresAt time.Time) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.tokens[tokenHash] = tokenEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MockTokenRepository) GetUserID(tokenHash string, now time.Time) (int64, error) {
	e, ok := m.tokens[tokenHash]
	if !ok || !e.expiresAt.After(now) {
		return 0, repository.ErrTokenNotFound
	}
	return e.userID, nil
}

func (m *MockTokenRepository) Delete(tokenHash string) error {
	if _, ok := m.tokens[tokenHash]; !ok {
		return repository.ErrTokenNotFound
	}
	delete(m.tokens, tokenHash)
	return nil
}

func (m *MockTokenRepository) DeleteExpired(now time.Time) (int64, error) {
	var n int64
	for h, e := range m.tokens {
		if !e.expiresAt.After(now) {
			delete(m.tokens, h)
			n++
		}
	}
	return n, nil
}

// ============ Mock AlertRepository ============

type MockAlertRepository struct {
	mu        sync.Mutex
	alerts    map[int64]*models.Alert
	nextID    int64
	createErr error
	getErr    error
	markErr   error
	triggered []int64
}

func NewMockAlertRepository() *MockAlertRepository {
	return &MockAlertRepository{alerts: make(map[int64]*models.Alert), nextID: 1}
}

func (m *MockAlertRepository) add(userID int64, ticker string, cond models.ConditionType, threshold string) *models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &models.Alert{
		ID:            m.nextID,
		UserID:        userID,
		Ticker:        ticker,
		ConditionType: cond,
		Threshold:     decimal.RequireFromString(threshold),
		Active:        true,
	}
	m.nextID++
	m.alerts[a.ID] = a
	return a
}

func (m *MockAlertRepository) Create(alert *models.Alert) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.ID = m.nextID
	alert.Active = true
	m.nextID++
	copied := *alert
	m.alerts[alert.ID] = &copied
	return nil
}

func (m *MockAlertRepository) GetByUser(userID int64) ([]*models.Alert, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Alert, 0)
	for _, a := range m.alerts {
		if a.UserID == userID {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MockAlertRepository) GetByID(id, userID int64) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.UserID != userID {
		return nil, repository.ErrAlertNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *MockAlertRepository) GetActiveByTicker(ticker string) ([]*models.Alert, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Alert, 0)
	for _, a := range m.alerts {
		if a.Ticker == ticker && a.Active {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockAlertRepository) ActiveTickers() ([]string, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{})
	for _, a := range m.alerts {
		if a.Active {
			set[a.Ticker] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockAlertRepository) MarkTriggered(id int64, at time.Time) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return repository.ErrAlertNotFound
	}
	ts := models.NewTimestamp(at)
	a.LastTriggeredAt = &ts
	m.triggered = append(m.triggered, id)
	return nil
}

func (m *MockAlertRepository) Delete(id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.UserID != userID {
		return repository.ErrAlertNotFound
	}
	delete(m.alerts, id)
	return nil
}

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu        sync.Mutex
	items     []*models.Notification
	nextID    int64
	createErr error
	markErr   error
	lastLimit int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(n *models.Notification) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID
	m.nextID++
	copied := *n
	m.items = append(m.items, &copied)
	return nil
}

func (m *MockNotificationRepository) GetByUser(userID int64, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	out := make([]*models.Notification, 0)
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].UserID == userID {
			copied := *m.items[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) MarkAllRead(userID int64) (int64, error) {
	if m.markErr != nil {
		return 0, m.markErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if item.UserID == userID && !item.Read {
			item.Read = true
			n++
		}
	}
	return n, nil
}

func (m *MockNotificationRepository) CountUnread(userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.UserID == userID && !item.Read {
			n++
		}
	}
	return n, nil
}

func (m *MockNotificationRepository) DeleteOlderThan(before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var n int64
	for _, item := range m.items {
		if item.Read && item.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, item)
	}
	m.items = kept
	return n, nil
}

// ============ Mock Publisher / TopicSource ============

type published struct {
	topic   string
	message interface{}
}

type MockPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (m *MockPublisher) Publish(topic string, message interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{topic: topic, message: message})
}

func (m *MockPublisher) byTopic(topic string) []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interface{}
	for _, p := range m.messages {
		if p.topic == topic {
			out = append(out, p.message)
		}
	}
	return out
}

type MockTopics struct {
	tickers []string
}

func (m *MockTopics) ActiveTickers() []string {
	return m.tickers
}

// ============ Mock AlertEvaluator ============

type MockEvaluator struct {
	tickers   []string
	evaluated []models.Quote
	evalErr   error
}

func (m *MockEvaluator) Evaluate(quote models.Quote, now time.Time) (int, error) {
	m.evaluated = append(m.evaluated, quote)
	return 0, m.evalErr
}

func (m *MockEvaluator) ActiveTickers() ([]string, error) {
	return m.tickers, nil
}
