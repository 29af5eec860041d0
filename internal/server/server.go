package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/wikifront/internal/auth"
)

// Routes are the paths the wiki handler is mounted on.
type Routes struct {
	// ScriptPath is the entry point, e.g. "/index.php".
	ScriptPath string
	// ArticlePath is the pretty URL pattern, e.g. "/wiki/$1".
	ArticlePath string
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger

	wiki atomic.Pointer[http.Handler]
	srv  *http.Server
}

// New builds the router. A nil authenticator serves every request as the
// anonymous user.
func New(port int, logger *slog.Logger, authenticator *auth.Authenticator, timeout time.Duration, routes Routes) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Server{Port: port, logger: logger}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	if authenticator != nil {
		r.Use(PrincipalMiddleware(authenticator))
	}
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "wikifront")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	wiki := http.HandlerFunc(s.serveWiki)
	if routes.ScriptPath != "" {
		r.Handle(routes.ScriptPath, wiki)
	}
	if prefix, _, ok := strings.Cut(routes.ArticlePath, "$1"); ok && prefix != "" && prefix != "/" {
		r.Handle(prefix+"*", wiki)
	}
	r.Handle("/*", wiki)

	s.Router = r
	s.srv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetHandler swaps the handler behind the wiki routes. It is safe to call
// while serving.
func (s *Server) SetHandler(h http.Handler) {
	s.wiki.Store(&h)
}

func (s *Server) serveWiki(w http.ResponseWriter, r *http.Request) {
	h := s.wiki.Load()
	if h == nil {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	(*h).ServeHTTP(w, r)
}

// Start listens on the configured port and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
