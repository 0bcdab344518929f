package server

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/savage-app/savage/config"
	"github.com/savage-app/savage/internal/db"
	"github.com/savage-app/savage/internal/handlers"
	"github.com/savage-app/savage/internal/mq"
	"github.com/savage-app/savage/internal/services"
	"github.com/savage-app/savage/internal/session"
	"github.com/savage-app/savage/internal/store"
	"github.com/savage-app/savage/pkg/logger"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sqlx.DB
	bus        *mq.MQ
	log        zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Server with its middleware, routes and background
// workers. Background workers stop on Shutdown.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logger.With("server")

	if strings.TrimSpace(cfg.Auth.SessionSecret) == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	messageRepo := store.NewMessageRepository(dbConn)
	responseRepo := store.NewResponseRepository(dbConn)

	bus, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	syncer := services.NewSyncPublisher(bus, cfg.Search.SyncChannel)

	validator := services.NewValidator(userRepo)
	userService := services.NewUserService(userRepo)
	authService := services.NewAuthService(userRepo, validator, syncer, cfg.Auth.RememberTTL, logger.With("auth"))
	messageService := services.NewMessageService(
		messageRepo, responseRepo, userRepo, validator, syncer, logger.With("messages"),
		services.WithSenderTrash(cfg.Messages.SenderCanTrash),
	)

	sessions, err := session.NewManager(cfg.Auth.SessionSecret, session.Options{
		CookieName: cfg.Auth.SessionCookie,
		UserKey:    cfg.Auth.SessionKey,
		TTL:        cfg.Auth.SessionTTL,
		Secure:     cfg.Auth.SecureCookies,
	})
	if err != nil {
		_ = bus.Close()
		_ = dbConn.Close()
		return nil, err
	}

	views, err := handlers.NewViews(logger.With("views"))
	if err != nil {
		_ = bus.Close()
		_ = dbConn.Close()
		return nil, err
	}

	webLog := logger.With("http")
	web := handlers.NewWeb(views, sessions, messageService, webLog)
	authn := handlers.NewAuthenticator(authService, userService, cfg.Auth.RememberCookie, cfg.Auth.SecureCookies, webLog)
	limiter := handlers.NewIPRateLimiter(cfg.Auth.LoginRatePerMinute, cfg.Auth.LoginBurst)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if cfg.TrustProxy {
		// RemoteAddr then keys the login limiter on the forwarded client.
		router.Use(middleware.RealIP)
	}
	router.Use(
		handlers.RequestLogger(webLog),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(dbConn))

	router.Group(func(r chi.Router) {
		if !cfg.Auth.SecureCookies {
			r.Use(plaintextHTTP)
		}
		r.Use(
			csrfGuard(cfg.Auth, webLog),
			sessions.Middleware,
			authn.Middleware,
		)
		r.Get("/", web.Home)
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, web, authn, limiter)
			r.Route("/messages", func(r chi.Router) {
				handlers.MessageRouter(r, web, messageService)
			})
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		bus:        bus,
		log:        log,
		cancel:     cancel,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		limiter.Run(bgCtx)
	}()

	// A local bus only reaches subscribers in this process, so the server
	// consumes its own sync requests. Brokers are drained by the worker.
	if bus.InProcess() {
		syncService, err := newUsernameSyncService(ctx, cfg, userRepo)
		if err != nil {
			_ = s.Shutdown(context.Background())
			return nil, err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := syncService.Subscribe(bgCtx, bus, cfg.Search.SyncChannel)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, mq.ErrClosed) {
				log.Error().Err(err).Msg("username sync subscriber stopped")
			}
		}()
	}

	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Str("mq", s.bus.Name()).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops background workers and closes
// the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	s.wg.Wait()
	if s.bus != nil {
		if cerr := s.bus.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("close mq")
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

// csrfGuard derives a 32 byte key from CSRF_KEY, or the session secret when
// unset.
func csrfGuard(cfg config.AuthConfig, log zerolog.Logger) func(http.Handler) http.Handler {
	secret := cfg.CSRFKey
	if secret == "" {
		secret = cfg.SessionSecret
	}
	key := sha256.Sum256([]byte(secret))

	return csrf.Protect(key[:],
		csrf.Secure(cfg.SecureCookies),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.CookieName("savage_csrf"),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Warn().Err(csrf.FailureReason(r)).Str("path", r.URL.Path).Msg("csrf check failed")
			http.Error(w, "Forbidden - invalid CSRF token", http.StatusForbidden)
		})),
	)
}

// plaintextHTTP tells the CSRF guard the request arrived without TLS.
func plaintextHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}
