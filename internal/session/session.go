package session

import (
	"errors"
	"sync"

	"finsight/internal/models"
	"finsight/pkg/utils"
)

// Причины завершения сессии
const (
	ReasonLogout       = "logout"
	ReasonUnauthorized = "unauthorized"
	ReasonForbidden    = "forbidden"
)

// ErrNotLoggedIn - операция требует активной сессии
var ErrNotLoggedIn = errors.New("not logged in")

// Credentials - токен и профиль пользователя
type Credentials struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Store - хранилище учётных данных между запусками
type Store interface {
	Load() (*Credentials, error) // nil, nil - ничего не сохранено
	Save(Credentials) error
	Clear() error
}

// Session - явный контекст аутентификации клиента.
//
// Заменяет глобальное хранилище токена: REST клиент читает токен отсюда,
// а при 401/403 вызывает Invalidate, и все подписчики OnInvalidate
// (live-потоки, кэш) сворачиваются.
type Session struct {
	mu     sync.RWMutex
	creds  *Credentials
	store  Store
	logger *utils.Logger

	listenersMu sync.Mutex
	listeners   map[int]func(reason string)
	nextID      int
}

// New создаёт сессию. store может быть nil.
func New(store Store, logger *utils.Logger) *Session {
	return &Session{
		store:     store,
		logger:    utils.OrGlobal(logger).WithComponent("session"),
		listeners: make(map[int]func(string)),
	}
}

// Restore поднимает сохранённые учётные данные
func (s *Session) Restore() error {
	if s.store == nil {
		return nil
	}
	creds, err := s.store.Load()
	if err != nil {
		return err
	}
	if creds == nil || creds.Token == "" {
		return nil
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()

	s.logger.Debug("session restored", utils.UserID(creds.User.ID))
	return nil
}

// Login сохраняет учётные данные после успешного входа
func (s *Session) Login(token string, user models.User) error {
	if token == "" {
		return errors.New("empty token")
	}
	creds := Credentials{Token: token, User: user}

	s.mu.Lock()
	s.creds = &creds
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Save(creds); err != nil {
			return err
		}
	}
	s.logger.Info("logged in", utils.UserID(user.ID))
	return nil
}

// Logout - добровольный выход
func (s *Session) Logout() {
	s.end(ReasonLogout)
}

// Invalidate - принудительный выход (сервер отверг токен).
// Идемпотентен: слушатели вызываются только при наличии активной сессии.
func (s *Session) Invalidate(reason string) {
	s.end(reason)
}

func (s *Session) end(reason string) {
	s.mu.Lock()
	had := s.creds != nil
	s.creds = nil
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Clear(); err != nil {
			s.logger.Warn("failed to clear stored credentials", utils.Err(err))
		}
	}
	if !had {
		return
	}

	if reason == ReasonLogout {
		s.logger.Info("logged out")
	} else {
		s.logger.Warn("session invalidated", utils.String("reason", reason))
	}

	s.listenersMu.Lock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(reason)
	}
}

// Token - текущий токен или ""
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.Token
}

// User - текущий пользователь
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return models.User{}, false
	}
	return s.creds.User, true
}

// LoggedIn - есть активная сессия
func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

// OnInvalidate подписывает fn на завершение сессии; возвращает отписку
func (s *Session) OnInvalidate(fn func(reason string)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}
