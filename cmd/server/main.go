package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/cache"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/config"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/database"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/handler"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/logger"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/middleware"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/queue"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/repository"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/router"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/service"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/utils"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/validation"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if os.Getenv("AUTO_MIGRATE") == "true" {
		if err := database.Migrate(cfg.DatabaseURL(), "up"); err != nil {
			log.Error("migrate", "err", err)
			os.Exit(1)
		}
	}

	tokens, err := utils.NewTokenIssuer(cfg.RefreshSecret, cfg.RefreshSecretPrevious, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		log.Error("token issuer", "err", err)
		os.Exit(1)
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn("redis unavailable: rate limiting and secret cache disabled")
	} else {
		defer rdb.Close()
	}

	opts := []service.Option{service.WithLogger(log)}
	if sc := cache.NewSecretCache(config.LoadSecretCacheConfig(), rdb, log); sc != nil {
		opts = append(opts, service.WithSecretCache(sc))
	}
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, cfg.EventsQueue, log)
		defer pub.Close()
		opts = append(opts, service.WithEvents(pub))
	}
	auth := service.NewAuthService(repository.NewUserRepo(db), repository.NewSessionRepo(db), tokens, cfg.BcryptCost, opts...)

	e := echo.New()
	e.HideBanner = true
	e.IPExtractor = middleware.IPExtractor(cfg.IPSource)
	e.Validator = validation.New()
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: true,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization,
			middleware.HeaderDeviceID, middleware.HeaderMacID},
	}))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency_ms", v.Latency.Milliseconds(), "ip", v.RemoteIP}
			if v.Error != nil {
				log.Error("request", append(attrs, "err", v.Error.Error())...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e,
		handler.NewAuthHandler(auth, handler.CookieConfig{Secure: cfg.CookieSecure, SameSite: cfg.CookieSameSite}, log),
		auth,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	)

	// SIGHUP re-reads the refresh secrets; SIGINT/SIGTERM shut down.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			cur, prev, err := config.ReloadRefreshSecrets()
			if err == nil {
				err = tokens.SetRefreshSecrets(cur, prev)
			}
			if err != nil {
				log.Error("reload refresh secrets", "err", err)
				continue
			}
			log.Info("refresh secrets reloaded", "has_previous", prev != "")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}
