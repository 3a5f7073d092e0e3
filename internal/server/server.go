package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qurrota/apiserver/config"
	"github.com/qurrota/apiserver/internal/auth"
	"github.com/qurrota/apiserver/internal/db"
	"github.com/qurrota/apiserver/internal/handlers"
	"github.com/qurrota/apiserver/internal/imagehost"
	"github.com/qurrota/apiserver/internal/logging"
	"github.com/qurrota/apiserver/internal/metrics"
	"github.com/qurrota/apiserver/internal/mq"
	"github.com/qurrota/apiserver/internal/notify"
	"github.com/qurrota/apiserver/internal/ratelimit"
	"github.com/qurrota/apiserver/internal/services"
	"github.com/qurrota/apiserver/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type closer func(ctx context.Context) error

// Server wraps the HTTP server, router and the connections behind them.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
	closers    []closer
}

// New connects every backing service and builds the router.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{log: log}

	repo, err := s.openRepository(ctx, cfg)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	dispatcher, err := NewDispatcher(ctx, cfg, log)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return dispatcher.Close() })

	images, err := imagehost.New(ctx, cfg)
	if err != nil {
		log.Warn("image host unavailable, uploads will fail", zap.String("provider", cfg.ImageHost.Provider), zap.Error(err))
		images = nil
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	accounts := services.NewAccountService(services.Deps{
		Repo:         repo,
		Hasher:       auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		Tokens:       tokens,
		Notifier:     dispatcher,
		Images:       images,
		Logger:       log,
		DefaultImage: cfg.DefaultImage,
	})

	limiter := s.newLimiter(ctx, cfg)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger(log.Named("http")),
		metrics.Middleware,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/test", handlers.Test)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, accounts, limiter, log)
	})
	router.Route("/api/profile", func(r chi.Router) {
		handlers.ProfileRouter(r, accounts, cfg.ImageHost.MaxUploadSize, handlers.RequireAuth(tokens), log)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and pending
// notifications, then closes the backing connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close(ctx)
	return err
}

func (s *Server) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.log.Warn("failed to close resource", zap.Error(err))
		}
	}
	s.closers = nil
}

func (s *Server) openRepository(ctx context.Context, cfg config.Config) (services.AccountRepository, error) {
	switch cfg.Database.Driver {
	case config.DriverMongo:
		client, database, err := db.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		s.closers = append(s.closers, client.Disconnect)

		repo := store.NewMongoAccountRepository(database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return repo, nil
	default:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return conn.Close() })
		return store.NewAccountRepository(conn), nil
	}
}

func (s *Server) newLimiter(ctx context.Context, cfg config.Config) *ratelimit.Limiter {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	s.closers = append(s.closers, func(context.Context) error { return client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.log.Warn("redis unreachable, rate limiting fails open", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	return ratelimit.New(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, s.log.Named("ratelimit"))
}

// NewDispatcher builds the notification dispatcher selected by
// NOTIFY_TRANSPORT.
func NewDispatcher(ctx context.Context, cfg config.Config, log *zap.Logger) (notify.Dispatcher, error) {
	if !cfg.Email.EmailEnabled() && cfg.Notify.Transport == config.NotifyDirect {
		log.Warn("EMAIL_USER or EMAIL_PASS not set, notification emails will be skipped")
	}
	switch cfg.Notify.Transport {
	case config.NotifyRabbitMQ, config.NotifyPubSub:
		backend, err := mq.New(ctx, cfg.Notify.Transport, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Notify.Transport, err)
		}
		return notify.NewQueueDispatcher(backend, cfg.Notify.Channel, cfg.Notify.SendTimeout, log), nil
	default:
		mailer := notify.NewSMTPMailer(cfg.Email, cfg.Notify.SendTimeout)
		return notify.NewDirectDispatcher(mailer, cfg.Notify.SendTimeout, log), nil
	}
}
