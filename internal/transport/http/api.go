package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"classroom-quiz-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type sessionSummary struct {
	Code        string                    `json:"code"`
	QuizTitle   string                    `json:"quizTitle"`
	Status      domain.Status             `json:"status"`
	Index       int                       `json:"index"`
	Total       int                       `json:"total"`
	Connected   int                       `json:"connected"`
	Answered    int                       `json:"answered"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	s, err := h.service.Session(r.Context(), code)
	if err != nil {
		h.respondError(w, err)
		return
	}
	index := s.CurrentQuestion
	if index < 0 {
		index = s.LastQuestion
	}
	respondJSON(w, http.StatusOK, sessionSummary{
		Code:        s.Code,
		QuizTitle:   s.QuizTitle,
		Status:      s.Status,
		Index:       index,
		Total:       len(s.Questions),
		Connected:   s.Connected(),
		Answered:    s.Answered(),
		Leaderboard: domain.BuildLeaderboard(s.Players),
	})
}

func (h *Handler) handleWordCloud(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid question index", Code: "invalid"})
		return
	}
	buckets, err := h.service.WordCloud(r.Context(), code, index)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, buckets)
}

func (h *Handler) handleJoinQR(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	if _, err := h.service.Session(r.Context(), code); err != nil {
		h.respondError(w, err)
		return
	}
	png, err := qrcode.Encode(h.joinURL(code), qrcode.Medium, qrSize)
	if err != nil {
		h.respondError(w, fmt.Errorf("encode join qr: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(png)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.respondError(w, domain.ErrSessionNotFound)
		return
	}
	snap, err := h.snapshots.Load(r.Context(), chi.URLParam(r, "classID"), strings.ToUpper(chi.URLParam(r, "code")))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *Handler) joinURL(code string) string {
	return strings.TrimRight(h.publicURL, "/") + "/join/" + code
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		msg = "internal server error"
	}
	respondJSON(w, status, errorResponse{Error: msg, Code: code})
}

// classify maps domain errors onto an HTTP status and a short machine code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidClassID),
		errors.Is(err, domain.ErrMalformedAnswer),
		errors.Is(err, domain.ErrInvalidQuiz),
		errors.Is(err, domain.ErrInvalidQuestion):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return http.StatusConflict, "already_answered"
	case errors.Is(err, domain.ErrSubmissionLimit):
		return http.StatusConflict, "submission_limit"
	case errors.Is(err, domain.ErrNotAcceptingAnswers):
		return http.StatusConflict, "not_accepting"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrCodeExhausted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
