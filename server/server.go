package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/velmie/vitalrelay"
	"github.com/velmie/vitalrelay/fhir"
	"github.com/velmie/vitalrelay/prommetrics"
)

// Enqueuer stores new outbound messages.
type Enqueuer interface {
	Enqueue(ctx context.Context, entry vitalrelay.Entry) (vitalrelay.OutboundMessage, error)
}

// MessageBuilder wraps a record into an outbound message.
type MessageBuilder interface {
	Message(s fhir.Submission) (vitalrelay.Entry, error)
}

// Store is the read side of the message store the status endpoints query.
type Store interface {
	ListMessages(ctx context.Context, filter vitalrelay.MessageFilter) ([]vitalrelay.OutboundMessage, error)
	ListResponses(ctx context.Context, filter vitalrelay.ResponseFilter) ([]vitalrelay.InboundResponse, error)
}

// Server routes the relay HTTP API.
type Server struct {
	enqueuer Enqueuer
	store    Store
	builder  MessageBuilder
	cfg      Config
	validate *validator.Validate
	router   chi.Router
}

// New builds the router. The handler is ready to serve once New returns.
func New(enqueuer Enqueuer, store Store, builder MessageBuilder, opts ...Option) (*Server, error) {
	if enqueuer == nil {
		return nil, ErrEnqueuerRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}
	if builder == nil {
		return nil, ErrBuilderRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		enqueuer: enqueuer,
		store:    store,
		builder:  builder,
		cfg:      cfg.withDefaults(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.router = s.routes()

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(otelhttp.NewMiddleware(tracingName))
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	if s.cfg.Registry != nil {
		r.Use(prommetrics.NewHTTPMetrics(s.cfg.Registry).Middleware)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}))
	}
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/messages", s.listMessages)
	if s.cfg.Responses != nil {
		r.Post("/responses", s.receiveResponse)
	}
	r.Post("/{recordType}/{operation}", s.enqueue)
	r.Get("/{recordType}/status/{year}/{jurisdictionId}/{certNo}", s.status)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.cfg.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
