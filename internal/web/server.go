package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"monthcal/internal/calendar"
	"monthcal/internal/config"
	appLog "monthcal/internal/log"
	"monthcal/internal/store"
)

// Route names. calendar.RouteFullDay is the day page.
const (
	RouteIndex     = "calendar_index"
	RouteCalendar  = "calendar"
	RouteMonth     = "calendar_month"
	RouteAPIMonth  = "api_month"
	RouteAPIEvents = "api_events"
)

// ErrUnknownRoute is returned by BuildURL for names that are not registered.
var ErrUnknownRoute = errors.New("unknown route")

// Server serves the calendar pages. Its router doubles as the URL builder
// handed to the month renderer.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	clock    calendar.Clock
	router   *mux.Router
	renderer *calendar.Renderer
	pages    map[string]*template.Template
	registry *prometheus.Registry
	metrics  *metrics
	limiter  *limiter
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the clock used for "today".
func WithClock(c calendar.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// NewServer builds the router, templates and middleware for cfg.
func NewServer(cfg *config.Config, st *store.Store, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		store:    st,
		clock:    calendar.SystemClock{Location: cfg.Location()},
		router:   mux.NewRouter(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = newMetrics(s.registry)
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	s.renderer = calendar.NewRenderer(
		calendar.WithURLBuilder(s),
		calendar.WithClock(s.clock),
		calendar.WithWeekStart(cfg.FirstWeekday()),
	)

	pages, err := newPageCache(template.FuncMap{
		"url":       s.urlFunc,
		"timeRange": timeRange,
	})
	if err != nil {
		return nil, err
	}
	s.pages = pages

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.StrictSlash(true)
	r.Use(s.metrics.middleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Metrics {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/{calendar_name}/{year:[0-9]+}/{month:[0-9]+}", s.handleAPIMonth).
		Methods(http.MethodGet).Name(RouteAPIMonth)
	api.HandleFunc("/{calendar_name}/events", s.handleAPIEvents).
		Methods(http.MethodGet).Name(RouteAPIEvents)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet).Name(RouteIndex)
	r.HandleFunc("/{calendar_name}/", s.handleCalendar).Methods(http.MethodGet).Name(RouteCalendar)
	r.HandleFunc("/{calendar_name}/{year:[0-9]+}/{month:[0-9]+}/", s.handleMonth).
		Methods(http.MethodGet).Name(RouteMonth)
	r.HandleFunc("/{calendar_name}/{year:[0-9]+}/{month:[0-9]+}/{day:[0-9]+}/", s.handleDay).
		Methods(http.MethodGet).Name(calendar.RouteFullDay)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
}

// BuildURL resolves a named route. It implements calendar.URLBuilder.
func (s *Server) BuildURL(route string, params map[string]string) (string, error) {
	rt := s.router.Get(route)
	if rt == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownRoute, route)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, params[k])
	}

	u, err := rt.URL(pairs...)
	if err != nil {
		return "", fmt.Errorf("route %s: %w", route, err)
	}
	return u.String(), nil
}

// urlFunc is the template form of BuildURL: {{url "name" "key" "value" ...}}.
func (s *Server) urlFunc(route string, pairs ...string) (string, error) {
	if len(pairs)%2 != 0 {
		return "", fmt.Errorf("url %s: odd number of parameters", route)
	}
	params := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		params[pairs[i]] = pairs[i+1]
	}
	return s.BuildURL(route, params)
}

// Handler returns the router wrapped in the access log, panic recovery,
// basic auth and rate limiting middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if s.limiter != nil {
		h = s.limiter.middleware(h)
	}
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		h = s.basicAuthMiddleware(h)
	}
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)(h)
	return handlers.CombinedLoggingHandler(appLog.Writer(), h)
}

// Renderer exposes the month renderer wired to this server's routes.
func (s *Server) Renderer() *calendar.Renderer {
	return s.renderer
}

// StartServer serves s on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
