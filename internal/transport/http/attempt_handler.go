package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/auth"
	"quiz-attempt-service/internal/domain"
)

// AttemptHandler exposes the attempt lifecycle over JSON.
type AttemptHandler struct {
	service *app.AttemptService
	errors  errorWriter
}

type saveAnswerRequest struct {
	Value []string `json:"value"`
}

type completeRequest struct {
	Trigger domain.CompletionTrigger `json:"trigger"`
}

type gradeRequest struct {
	PointsEarned *int `json:"pointsEarned"`
}

// Start handles POST /api/quizzes/{quizID}/attempts. A resumed attempt is
// answered with 200, a new one with 201.
func (h *AttemptHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	res, err := h.service.Start(r.Context(), actor, chi.URLParam(r, "quizID"))
	if err != nil {
		h.errors.write(w, err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *AttemptHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	attempts, err := h.service.ListAttempts(r.Context(), actor, chi.URLParam(r, "quizID"))
	if err != nil {
		h.errors.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (h *AttemptHandler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req saveAnswerRequest
	if err := decode(w, r, &req); err != nil {
		h.errors.write(w, err)
		return
	}
	answer, err := h.service.SaveAnswer(r.Context(), actor,
		chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID"), req.Value)
	if err != nil {
		h.errors.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// Complete accepts an empty body; the trigger defaults to MANUAL.
func (h *AttemptHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req completeRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.errors.write(w, err)
		return
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerManual
	}
	if !req.Trigger.Valid() {
		h.errors.write(w, fmt.Errorf("%w: unknown trigger %q", errBadRequest, req.Trigger))
		return
	}
	res, err := h.service.Complete(r.Context(), actor, chi.URLParam(r, "attemptID"), req.Trigger)
	if err != nil {
		h.errors.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AttemptHandler) Results(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	res, err := h.service.Results(r.Context(), actor, chi.URLParam(r, "attemptID"))
	if err != nil {
		h.errors.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AttemptHandler) Grade(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req gradeRequest
	if err := decode(w, r, &req); err != nil {
		h.errors.write(w, err)
		return
	}
	if req.PointsEarned == nil {
		h.errors.write(w, fmt.Errorf("%w: pointsEarned is required", errBadRequest))
		return
	}
	res, err := h.service.GradeAnswer(r.Context(), actor,
		chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID"), *req.PointsEarned)
	if err != nil {
		h.errors.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
