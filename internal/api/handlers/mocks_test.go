package handlers

import (
	"net/http"
	"sort"
	"sync"

	"finsight/internal/models"
	"finsight/internal/repository"
	"finsight/internal/service"
	"finsight/pkg/utils"
)

// ============ Mock AuthService ============

type MockAuthService struct {
	users     map[string]*models.User
	loginErr  error
	lastKey   string
	loggedOut []string
}

func NewMockAuthService() *MockAuthService {
	return &MockAuthService{users: make(map[string]*models.User)}
}

func (m *MockAuthService) Login(email, password, clientKey string) (*models.LoginResponse, error) {
	m.lastKey = clientKey
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	if password != "password123" {
		return nil, service.ErrInvalidCredentials
	}
	user := &models.User{ID: 1, Email: email, Name: "Demo"}
	m.users["token-1"] = user
	return &models.LoginResponse{Token: "token-1", User: *user}, nil
}

func (m *MockAuthService) Authenticate(token string) (*models.User, error) {
	if u, ok := m.users[token]; ok {
		return u, nil
	}
	return nil, service.ErrInvalidToken
}

func (m *MockAuthService) Logout(token string) error {
	m.loggedOut = append(m.loggedOut, token)
	delete(m.users, token)
	return nil
}

// ============ Mock NotificationService ============

type MockNotificationService struct {
	items   map[int64][]*models.Notification
	listErr error
	markErr error
	marked  []int64
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{items: make(map[int64][]*models.Notification)}
}

func (m *MockNotificationService) Add(userID int64, n *models.Notification) {
	m.items[userID] = append([]*models.Notification{n}, m.items[userID]...)
}

func (m *MockNotificationService) List(userID int64) ([]*models.Notification, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.Notification, 0, len(m.items[userID]))
	out = append(out, m.items[userID]...)
	return out, nil
}

func (m *MockNotificationService) MarkAllRead(userID int64) (int64, error) {
	if m.markErr != nil {
		return 0, m.markErr
	}
	m.marked = append(m.marked, userID)
	var n int64
	for _, item := range m.items[userID] {
		if !item.Read {
			item.Read = true
			n++
		}
	}
	return n, nil
}

// ============ Mock AlertService ============

type MockAlertService struct {
	alerts    map[int64]*models.Alert
	nextID    int64
	createErr error
	deleted   []int64
}

func NewMockAlertService() *MockAlertService {
	return &MockAlertService{alerts: make(map[int64]*models.Alert), nextID: 1}
}

func (m *MockAlertService) List(userID int64) ([]*models.Alert, error) {
	out := make([]*models.Alert, 0)
	for _, a := range m.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MockAlertService) Create(userID int64, req models.CreateAlertRequest) (*models.Alert, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	if err := utils.ValidateTicker(req.Ticker); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := &models.Alert{
		ID:            m.nextID,
		UserID:        userID,
		Ticker:        utils.NormalizeTicker(req.Ticker),
		ConditionType: req.ConditionType,
		Threshold:     req.Threshold,
		Active:        true,
	}
	m.nextID++
	m.alerts[a.ID] = a
	return a, nil
}

func (m *MockAlertService) Delete(userID, alertID int64) error {
	a, ok := m.alerts[alertID]
	if !ok || a.UserID != userID {
		return repository.ErrAlertNotFound
	}
	delete(m.alerts, alertID)
	m.deleted = append(m.deleted, alertID)
	return nil
}

// ============ Mock PriceService ============

type MockPriceService struct {
	quotes map[string]*models.Quote
	err    error
}

func (m *MockPriceService) GetQuote(ticker string) (*models.Quote, error) {
	if err := utils.ValidateTicker(ticker); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	q, ok := m.quotes[utils.NormalizeTicker(ticker)]
	if !ok {
		return nil, service.ErrQuoteNotFound
	}
	return q, nil
}

// ============ Mock TopicServer ============

type MockTopicServer struct {
	mu     sync.Mutex
	topics []string
}

func (m *MockTopicServer) ServeTopic(w http.ResponseWriter, r *http.Request, topic string) {
	m.mu.Lock()
	m.topics = append(m.topics, topic)
	m.mu.Unlock()
	w.WriteHeader(http.StatusSwitchingProtocols)
}
