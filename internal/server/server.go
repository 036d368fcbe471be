// Package server assembles the HTTP service: sessions, per-route CSRF
// protection, the demo form endpoints and the admin surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/wudi/csrfguard/internal/config"
	"github.com/wudi/csrfguard/internal/logging"
	"github.com/wudi/csrfguard/internal/metrics"
	"github.com/wudi/csrfguard/internal/middleware"
	"github.com/wudi/csrfguard/internal/session"
	"go.uber.org/zap"
)

// Server is the csrfguard HTTP service.
type Server struct {
	cfg        *config.Config // startup config; listener and admin settings
	routes     atomic.Pointer[routeTable]
	store      session.Store
	sessions   *session.Manager
	collector  *metrics.Collector
	redis      redis.UniversalClient
	ownsRedis  bool
	app        http.Handler
	handler    http.Handler
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRedisClient uses client for the redis session backend instead of
// dialing one from the config. The caller keeps ownership.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(s *Server) { s.redis = client }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// New builds a Server from cfg.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.collector == nil {
		s.collector = metrics.NewCollector()
	}

	store, err := s.newStore(cfg.Session)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.sessions = session.NewManager(store, cfg.Session,
		session.WithRecorder(s.collector),
		session.WithLogger(logging.Global()),
	)

	s.app = s.appRouter()
	if err := s.Reload(cfg); err != nil {
		s.Close()
		return nil, err
	}
	s.handler = s.buildHandler()
	return s, nil
}

func (s *Server) newStore(cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case "", config.SessionBackendMemory:
		return session.NewMemoryStore(time.Minute), nil
	case config.SessionBackendRedis:
		if s.redis == nil {
			s.redis = redis.NewClient(&redis.Options{
				Addr:        cfg.Redis.Address,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			s.ownsRedis = true
		}
		return session.NewRedisStore(s.redis, cfg.Redis.Prefix), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
}

// Reload recompiles the CSRF routes from cfg and swaps them in. On error
// the running routes are kept. Session and listener settings only take
// effect on restart.
func (s *Server) Reload(cfg *config.Config) error {
	table, err := s.compileRoutes(cfg, s.app)
	if err != nil {
		return fmt.Errorf("compiling routes: %w", err)
	}
	s.routes.Store(table)
	logging.Info("CSRF routes compiled",
		zap.Int("routes", table.protectors.Len()),
		zap.Strings("ids", table.protectors.RouteIDs()),
	)
	return nil
}

// buildHandler assembles the middleware chain in front of the admin
// endpoints and the protected application.
func (s *Server) buildHandler() http.Handler {
	root := httprouter.New()
	root.GET("/healthz", s.handleHealth)
	if s.cfg.Admin.Enabled {
		metricsPath := s.cfg.Admin.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		root.Handler(http.MethodGet, metricsPath, s.collector.Handler())
		root.GET("/admin/csrf", s.handleCSRFStats)
	}
	root.HandleMethodNotAllowed = false
	root.RedirectTrailingSlash = false
	root.RedirectFixedPath = false
	root.NotFound = s.sessions.Middleware()(http.HandlerFunc(s.protect))

	return middleware.NewBuilder().
		Use(middleware.RequestID()).
		Use(middleware.Recovery()).
		Use(middleware.SecurityHeaders(s.cfg.Headers)).
		Use(middleware.LoggingWithConfig(middleware.LoggingConfig{SkipPaths: []string{"/healthz"}})).
		Use(s.instrument).
		Handler(root)
}

// protect runs the request through the CSRF route that owns its path.
func (s *Server) protect(w http.ResponseWriter, r *http.Request) {
	s.routes.Load().resolve(r.URL.Path).handler.ServeHTTP(w, r)
}

// instrument records request counts and latency per CSRF route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := s.routes.Load().resolve(r.URL.Path).id
		s.collector.RecordRequest(route, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Collector returns the metrics collector.
func (s *Server) Collector() *metrics.Collector { return s.collector }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	sc := s.cfg.Server
	s.httpServer = &http.Server{
		Addr:         sc.Address,
		Handler:      s,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Starting server", zap.String("address", sc.Address))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.Close()
			return err
		}
	case <-ctx.Done():
	}

	logging.Info("Shutting down gracefully...")
	return s.Shutdown(sc.ShutdownTimeout)
}

// Shutdown stops accepting requests, waits for in-flight ones and
// releases the session store.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			logging.Error("Server shutdown error", zap.Error(err))
		}
	}
	s.Close()
	logging.Info("Server shutdown complete")
	return err
}

// Close releases the session store and any Redis client the server dialed.
func (s *Server) Close() {
	if s.store != nil {
		s.store.Close()
	}
	if s.ownsRedis && s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logging.Warn("Redis close error", zap.Error(err))
		}
		s.ownsRedis = false
	}
}
