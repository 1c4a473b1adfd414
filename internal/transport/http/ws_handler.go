package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/auth"
	"quiz-attempt-service/internal/domain"
)

// SocketTracker observes websocket lifetimes, typically for a gauge.
type SocketTracker interface {
	SocketOpened()
	SocketClosed()
}

type WSHandler struct {
	service  *app.AttemptService
	auth     *auth.Service
	logger   *zap.Logger
	tracker  SocketTracker
	tick     time.Duration
	now      func() time.Time
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, authSvc *auth.Service, logger *zap.Logger, tracker SocketTracker, tick time.Duration, now func() time.Time) *WSHandler {
	if tick <= 0 {
		tick = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &WSHandler{
		service: service,
		auth:    authSvc,
		logger:  logger,
		tracker: tracker,
		tick:    tick,
		now:     now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string   `json:"questionId"`
	Value      []string `json:"value"`
}

type timePayload struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ServeWS upgrades GET /ws?attemptId=..&token=.. and streams the live state of
// one attempt. Browsers cannot set headers on a websocket handshake, so the
// bearer token travels in the query string.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	errs := errorWriter{logger: h.logger}
	attemptID := r.URL.Query().Get("attemptId")
	if attemptID == "" {
		errs.write(w, fmt.Errorf("%w: missing attemptId", errBadRequest))
		return
	}
	actor, err := h.auth.Parse(r.URL.Query().Get("token"))
	if err != nil {
		errs.write(w, err)
		return
	}
	state, err := h.service.State(r.Context(), actor, attemptID)
	if err != nil {
		errs.write(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if h.tracker != nil {
		h.tracker.SocketOpened()
		defer h.tracker.SocketClosed()
	}

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	tickerDone := make(chan struct{})
	completed := make(chan struct{})

	// Only this goroutine writes to conn. After a write error it keeps
	// draining send so producers never block.
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.String("attempt_id", attemptID), zap.Error(err))
				failed = true
			}
		}
	}()

	go func() {
		defer close(tickerDone)
		h.countdown(r, actor, state.Attempt, send, closeSignals, completed)
	}()

	send <- outboundMessage{Type: "state", Payload: state}

	markCompleted := onceCloser(completed)
	if state.Attempt.Completed() {
		markCompleted()
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- socketError(errBadRequest)
				continue
			}
			answer, err := h.service.SaveAnswer(r.Context(), actor, attemptID, payload.QuestionID, payload.Value)
			if err != nil {
				send <- socketError(err)
				continue
			}
			send <- outboundMessage{Type: "saved", Payload: answer}
		case "complete":
			res, err := h.service.Complete(r.Context(), actor, attemptID, domain.TriggerManual)
			if err != nil {
				send <- socketError(err)
				continue
			}
			markCompleted()
			send <- outboundMessage{Type: "result", Payload: res}
		case "state":
			current, err := h.service.State(r.Context(), actor, attemptID)
			if err != nil {
				send <- socketError(err)
				continue
			}
			send <- outboundMessage{Type: "state", Payload: current}
		default:
			send <- outboundMessage{Type: "error", Payload: errorBody{Error: "bad_request", Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-tickerDone
	close(send)
	<-writerDone
}

// countdown pushes the remaining time every tick and completes the attempt
// with TIMEOUT when it reaches zero. Untimed attempts get no ticks.
func (h *WSHandler) countdown(r *http.Request, actor domain.Actor, attempt domain.Attempt, send chan<- outboundMessage, closeSignals, completed <-chan struct{}) {
	if attempt.Completed() || attempt.TimeLimitSnapshotMinutes == nil {
		return
	}
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	for {
		select {
		case <-closeSignals:
			return
		case <-completed:
			return
		case <-ticker.C:
		}

		remaining := app.RemainingSeconds(attempt.TimeLimitSnapshotMinutes, attempt.StartedAt, h.now())
		msg := outboundMessage{Type: "time", Payload: timePayload{RemainingSeconds: *remaining}}
		if *remaining == 0 {
			res, err := h.service.Complete(r.Context(), actor, attempt.ID, domain.TriggerTimeout)
			if err != nil {
				h.logger.Warn("auto-complete on timeout failed", zap.String("attempt_id", attempt.ID), zap.Error(err))
				msg = socketError(err)
			} else {
				msg = outboundMessage{Type: "result", Payload: res}
			}
			select {
			case send <- outboundMessage{Type: "time", Payload: timePayload{}}:
			case <-closeSignals:
				return
			}
		}
		select {
		case send <- msg:
		case <-closeSignals:
			return
		}
		if *remaining == 0 {
			return
		}
	}
}

func socketError(err error) outboundMessage {
	_, code := classify(err)
	return outboundMessage{Type: "error", Payload: errorBody{Error: code, Message: err.Error()}}
}

func onceCloser(ch chan struct{}) func() {
	closed := false
	return func() {
		if !closed {
			closed = true
			close(ch)
		}
	}
}
