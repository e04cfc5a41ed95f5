package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsight/internal/models"
	"finsight/internal/repository"
	"finsight/pkg/crypto"
	"finsight/pkg/ratelimit"
	"finsight/pkg/utils"
)

// Ошибки аутентификации
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTooManyAttempts    = errors.New("too many login attempts, try again later")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// RateLimitError - отказ лимитера с оценкой времени до следующей попытки
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return ErrTooManyAttempts.Error() }

func (e *RateLimitError) Unwrap() error { return ErrTooManyAttempts }

// AuthConfig - параметры аутентификации
type AuthConfig struct {
	TokenTTL   time.Duration
	BcryptCost int
	LoginRate  float64 // попыток в секунду на ключ
	LoginBurst float64
}

// AuthService - логин по email/паролю и bearer-токены.
//
// Пароли хранятся как bcrypt-хеши, токены - как sha256 от случайного
// значения. Попытки логина ограничены token bucket на ключ клиента.
type AuthService struct {
	users   UserRepositoryInterface
	tokens  TokenRepositoryInterface
	limiter *ratelimit.KeyedLimiter
	cfg     AuthConfig
	now     func() time.Time
	logger  *utils.Logger
}

// NewAuthService создает новый экземпляр AuthService
func NewAuthService(users UserRepositoryInterface, tokens TokenRepositoryInterface, cfg AuthConfig, logger *utils.Logger) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = crypto.DefaultCost
	}
	if cfg.LoginRate <= 0 {
		cfg.LoginRate = 0.2
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 5
	}
	return &AuthService{
		users:   users,
		tokens:  tokens,
		limiter: ratelimit.NewKeyedLimiter(cfg.LoginRate, cfg.LoginBurst),
		cfg:     cfg,
		now:     time.Now,
		logger:  utils.OrGlobal(logger).WithComponent("auth"),
	}
}

// Login проверяет пароль и выдаёт новый токен.
// clientKey - ключ ограничения попыток (адрес клиента); пустой - email.
func (s *AuthService) Login(email, password, clientKey string) (*models.LoginResponse, error) {
	if clientKey == "" {
		clientKey = email
	}
	if l := s.limiter.Get(clientKey); !l.Allow() {
		return nil, &RateLimitError{RetryAfter: l.RetryAfter()}
	}

	user, err := s.users.GetByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := crypto.VerifyPassword(password, user.PasswordHash); err != nil {
		s.logger.Info("login rejected", utils.UserID(user.ID))
		return nil, ErrInvalidCredentials
	}

	if crypto.NeedsRehash(user.PasswordHash, s.cfg.BcryptCost) {
		if hash, err := crypto.HashPassword(password, s.cfg.BcryptCost); err == nil {
			if err := s.users.UpdatePasswordHash(user.ID, hash); err != nil {
				s.logger.Warn("failed to rehash password", utils.UserID(user.ID), utils.Err(err))
			}
		}
	}

	token, err := crypto.NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	if err := s.tokens.Create(crypto.HashToken(token), user.ID, s.now().Add(s.cfg.TokenTTL)); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	s.logger.Info("user logged in", utils.UserID(user.ID))
	return &models.LoginResponse{Token: token, User: *user}, nil
}

// Authenticate возвращает владельца действующего токена
func (s *AuthService) Authenticate(token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	userID, err := s.tokens.GetUserID(crypto.HashToken(token), s.now())
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// Logout отзывает токен; неизвестный токен не ошибка
func (s *AuthService) Logout(token string) error {
	err := s.tokens.Delete(crypto.HashToken(token))
	if err != nil && !errors.Is(err, repository.ErrTokenNotFound) {
		return err
	}
	return nil
}

// EnsureUser создаёт пользователя, если его ещё нет (демо-аккаунт)
func (s *AuthService) EnsureUser(email, name, password string) (*models.User, error) {
	if err := utils.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := utils.ValidatePassword(password); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hash, err := crypto.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	user = &models.User{Email: email, Name: name, PasswordHash: hash}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}

	s.logger.Info("user created", utils.UserID(user.ID), utils.String("email", user.Email))
	return user, nil
}

// RunMaintenance периодически удаляет просроченные токены
// и забытые ведра лимитера до отмены контекста
func (s *AuthService) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.tokens.DeleteExpired(s.now())
			if err != nil {
				s.logger.Warn("failed to delete expired tokens", utils.Err(err))
			} else if n > 0 {
				s.logger.Debug("expired tokens removed", utils.Int64("count", n))
			}
			s.limiter.Prune()
		case <-ctx.Done():
			return
		}
	}
}
