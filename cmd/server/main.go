package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"finsight/internal/api"
	"finsight/internal/config"
	"finsight/internal/repository"
	"finsight/internal/service"
	"finsight/internal/websocket"
	"finsight/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", utils.Err(err))
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	if err := repository.EnsureSchema(db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// Инициализация репозиториев
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// WebSocket hub
	hub := websocket.NewHub(logger, cfg.Hub.ClientBuffer)
	hub.AllowOrigins(cfg.Server.CORSOrigins)
	go hub.Run()
	defer hub.Stop()

	// Инициализация сервисов
	notificationService := service.NewNotificationService(notificationRepo, hub, logger)
	alertService := service.NewAlertService(alertRepo, notificationService, logger)
	priceService := service.NewPriceService(service.PriceConfig{
		Enabled:      cfg.Simulator.Enabled,
		TickInterval: cfg.Simulator.TickInterval,
		BasePrice:    cfg.Simulator.BasePrice,
		Spread:       cfg.Simulator.Spread,
		Volume:       cfg.Simulator.Volume,
	}, hub, hub, alertService, logger)
	authService := service.NewAuthService(userRepo, tokenRepo, service.AuthConfig{
		TokenTTL:   cfg.Security.TokenTTL,
		BcryptCost: cfg.Security.BcryptCost,
		LoginRate:  cfg.Security.LoginRate,
		LoginBurst: float64(cfg.Security.LoginBurst),
	}, logger)

	if cfg.Security.SeedUserEmail != "" {
		if _, err := authService.EnsureUser(cfg.Security.SeedUserEmail, "Demo User", cfg.Security.SeedUserPass); err != nil {
			return fmt.Errorf("seed user: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go priceService.Run(ctx)
	go authService.RunMaintenance(ctx, cfg.Cleanup.Interval)
	go notificationService.RunRetention(ctx, cfg.Cleanup.NotificationRetention, cfg.Cleanup.Interval)

	// Настройка HTTP роутера
	router := api.SetupRoutes(&api.Dependencies{
		AuthService:         authService,
		NotificationService: notificationService,
		AlertService:        alertService,
		PriceService:        priceService,
		Hub:                 hub,
		CORSOrigins:         cfg.Server.CORSOrigins,
		Logger:              logger,
	})

	// HTTP сервер. WriteTimeout не ставим: WebSocket соединения долгоживущие,
	// у них свои дедлайны записи.
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			utils.String("addr", server.Addr),
			utils.Bool("https", cfg.Server.UseHTTPS),
			utils.Bool("simulator", cfg.Simulator.Enabled),
		)
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down server", utils.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok {
			return err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
