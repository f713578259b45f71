package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/signlearn/apiserver/config"
	"github.com/signlearn/apiserver/internal/auth"
	"github.com/signlearn/apiserver/internal/events"
	"github.com/signlearn/apiserver/internal/handlers"
	"github.com/signlearn/apiserver/internal/logging"
	"github.com/signlearn/apiserver/internal/metrics"
	"github.com/signlearn/apiserver/internal/mq"
	"github.com/signlearn/apiserver/internal/services"
	"github.com/signlearn/apiserver/internal/storage"
	"go.uber.org/zap"
)

// Version is reported by the API index.
const Version = "1.0.0"

const (
	requestTimeout = 15 * time.Second
	// writeTimeout outlasts requestTimeout so the 504 can still be written.
	writeTimeout = requestTimeout + 5*time.Second
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *zap.Logger
	sweeper    *services.RefreshTokenSweeper
	closers    []CloseFunc

	stopSweeper context.CancelFunc
	sweeperDone sync.WaitGroup
}

// New wires storage, messaging and services from cfg and builds the router.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger}

	repo, closeRepo, err := OpenUserRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open user repository: %w", err)
	}
	s.closers = append(s.closers, closeRepo)

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = s.close(ctx)
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	var avatarStore services.ObjectStore
	if objects != nil {
		avatarStore = objects
		logger.Info("object storage ready", zap.String("backend", cfg.Storage.Backend), zap.String("bucket", objects.Bucket()))
	}

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = s.close(ctx)
		return nil, fmt.Errorf("open message queue: %w", err)
	}
	var notifier services.Notifier
	if queue != nil {
		s.closers = append(s.closers, func(context.Context) error { return queue.Close() })
		notifier = events.NewPublisher(queue, logger)
		logger.Info("message queue ready", zap.String("backend", cfg.MQ.Backend))
	}

	m := metrics.New()
	tokens := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshSecret: cfg.Auth.RefreshSecret,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	authService := services.NewAuthService(
		repo,
		tokens,
		auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		services.AuthOptions{
			ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
			ResetRevokesSessions: cfg.Auth.ResetRevokesSessions,
		},
		notifier,
		m,
		logger,
	)
	userService := services.NewUserService(repo, tokens.RefreshTTL(), logger)
	avatarService := services.NewAvatarService(repo, avatarStore, logger)
	s.sweeper = services.NewRefreshTokenSweeper(repo, tokens.RefreshTTL(), cfg.Auth.RefreshSweepInterval, logger)

	requireAuth := handlers.RequireAuth(authService, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger(logger),
		m.Middleware,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz(cfg.Env))
	router.Handle("/metrics", m.Handler())
	router.Route("/api", func(r chi.Router) {
		r.Get("/", handlers.Index(Version))
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, handlers.NewAuthHandler(authService, cfg.Auth.ExposeResetToken, logger), requireAuth)
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, handlers.NewUserHandler(userService, authService, avatarService, logger), requireAuth)
		})
		r.Route("/admin", func(r chi.Router) {
			handlers.AdminRouter(r, handlers.NewAdminHandler(userService, logger), requireAuth)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start launches the refresh-token sweeper and runs the HTTP server until
// Shutdown is called.
func (s *Server) Start() error {
	sweepCtx, cancel := context.WithCancel(context.Background())
	s.stopSweeper = cancel
	s.sweeperDone.Add(1)
	go func() {
		defer s.sweeperDone.Done()
		s.sweeper.Run(sweepCtx)
	}()

	s.logger.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops the sweeper and closes backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.stopSweeper != nil {
		s.stopSweeper()
		s.sweeperDone.Wait()
	}
	return errors.Join(err, s.close(ctx))
}

func (s *Server) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
