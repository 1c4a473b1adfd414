package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/auth"
	"quiz-attempt-service/internal/metrics"
)

// RouterConfig collects what the HTTP surface needs. Metrics and Now are
// optional.
type RouterConfig struct {
	Service      *app.AttemptService
	Auth         *auth.Service
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	CORSOrigins  []string
	TickInterval time.Duration
	Now          func() time.Time
}

// NewRouter wires the REST endpoints, the attempt websocket, health and
// metrics onto a chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	errs := errorWriter{logger: logger}
	attempts := &AttemptHandler{service: cfg.Service, errors: errs}

	var tracker SocketTracker
	if cfg.Metrics != nil {
		tracker = cfg.Metrics
	}
	ws := NewWSHandler(cfg.Service, cfg.Auth, logger, tracker, cfg.TickInterval, cfg.Now)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	r.Get("/ws", ws.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth, errs.write))

		r.Post("/quizzes/{quizID}/attempts", attempts.Start)
		r.Get("/quizzes/{quizID}/attempts", attempts.List)

		r.Get("/attempts/{attemptID}", attempts.Results)
		r.Post("/attempts/{attemptID}/complete", attempts.Complete)
		r.Put("/attempts/{attemptID}/answers/{questionID}", attempts.SaveAnswer)
		r.Put("/attempts/{attemptID}/answers/{questionID}/grade", attempts.Grade)
	})
	return r
}
