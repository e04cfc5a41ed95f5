package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"finsight/internal/cache"
	"finsight/internal/client"
	"finsight/internal/config"
	"finsight/internal/livesync"
	"finsight/internal/session"
	"finsight/internal/stream"
	"finsight/pkg/utils"
)

// app - общие зависимости команд
type app struct {
	cfg     *config.ClientConfig
	logger  *utils.Logger
	session *session.Session
	client  *client.Client
	dialer  stream.Dialer

	in  io.Reader
	out io.Writer
	mu  sync.Mutex // вывод из обработчиков live-потоков
}

// loadApp подменяется в тестах
var loadApp = newApp

func newApp() (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	var store session.Store = session.NewMemoryStore()
	if cfg.SessionFile != "" && cfg.SessionPassphrase != "" {
		fileStore, err := session.NewFileStore(cfg.SessionFile, cfg.SessionPassphrase)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}

	sess := session.New(store, logger)
	if err := sess.Restore(); err != nil {
		if !errors.Is(err, session.ErrCorruptStore) {
			return nil, fmt.Errorf("restore session: %w", err)
		}
		logger.Warn("stored session is unreadable, login again", utils.Err(err))
		sess.Logout()
	}

	httpCfg := client.DefaultHTTPConfig()
	httpCfg.TotalTimeout = cfg.HTTPTimeout

	wsBase := cfg.WSURL
	if wsBase == "" {
		wsBase = cfg.APIURL
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		session: sess,
		client: client.New(client.Config{
			BaseURL: cfg.APIURL,
			HTTP:    httpCfg,
			Retry:   cfg.RetryConfig(),
		}, sess, logger),
		dialer: stream.NewWebsocketDialer(wsBase, cfg.ConnectTimeout),
		in:     os.Stdin,
		out:    os.Stdout,
	}, nil
}

// persistent - сохраняется ли сессия между запусками
func (a *app) persistent() bool {
	return a.cfg.SessionFile != "" && a.cfg.SessionPassphrase != ""
}

// requireLogin - ошибка для команд, которым нужен токен
func (a *app) requireLogin() error {
	if a.session.LoggedIn() {
		return nil
	}
	return fmt.Errorf("%w: run `finsight login` first", session.ErrNotLoggedIn)
}

func (a *app) printf(format string, args ...interface{}) {
	a.mu.Lock()
	fmt.Fprintf(a.out, format, args...)
	a.mu.Unlock()
}

func (a *app) println(s string) {
	a.mu.Lock()
	fmt.Fprintln(a.out, s)
	a.mu.Unlock()
}

// streamConfig - параметры live-слотов из конфигурации
func (a *app) streamConfig() livesync.StreamConfig {
	return livesync.StreamConfig{
		ConnectTimeout: a.cfg.ConnectTimeout,
		Retry:          a.cfg.ReconnectConfig(),
		Logger:         a.logger,
	}
}

// newCache - кэш с таймаутом загрузок из конфигурации
func (a *app) newCache() *cache.Cache {
	return cache.New(cache.Config{FetchTimeout: a.cfg.FetchTimeout, Logger: a.logger})
}

// fail печатает ошибку в stderr в единообразном виде
func fail(err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", apiErr.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
