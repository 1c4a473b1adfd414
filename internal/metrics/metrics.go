package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quiz-attempt-service/internal/domain"
)

// Metrics owns the service's Prometheus collectors and implements the
// attempt service's lifecycle recorder.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attemptsStarted *prometheus.CounterVec
	attemptsDone    *prometheus.CounterVec
	answersSaved    prometheus.Counter
	answersGraded   prometheus.Counter
	rejections      *prometheus.CounterVec
	liveSockets     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		attemptsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempts_started_total",
				Help: "Attempts handed out by start, split by new or resumed",
			},
			[]string{"kind"},
		),
		attemptsDone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempts_completed_total",
				Help: "Attempts completed, by completion trigger",
			},
			[]string{"trigger"},
		),
		answersSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_answers_saved_total",
			Help: "Answers saved by learners",
		}),
		answersGraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_answers_graded_total",
			Help: "Answers graded by hand",
		}),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempt_rejections_total",
				Help: "Operations refused by attempt rules",
			},
			[]string{"reason"},
		),
		liveSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_live_sockets",
			Help: "Open attempt websocket connections",
		}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration,
		m.attemptsStarted, m.attemptsDone,
		m.answersSaved, m.answersGraded,
		m.rejections, m.liveSockets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) AttemptStarted(resumed bool) {
	kind := "new"
	if resumed {
		kind = "resumed"
	}
	m.attemptsStarted.WithLabelValues(kind).Inc()
}

func (m *Metrics) AttemptCompleted(trigger domain.CompletionTrigger) {
	m.attemptsDone.WithLabelValues(string(trigger)).Inc()
}

func (m *Metrics) AnswerSaved()  { m.answersSaved.Inc() }
func (m *Metrics) AnswerGraded() { m.answersGraded.Inc() }

func (m *Metrics) Rejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// SocketOpened and SocketClosed track live attempt sockets.
func (m *Metrics) SocketOpened() { m.liveSockets.Inc() }
func (m *Metrics) SocketClosed() { m.liveSockets.Dec() }

// Middleware records request counts and durations labelled by chi route
// pattern, so path ids do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
