package http

import (
	"context"
	"net/http"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/logger"
	"classroom-quiz-service/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// SnapshotReader reads back exported sessions for reporting.
type SnapshotReader interface {
	Load(ctx context.Context, classID, code string) (domain.Snapshot, error)
}

// Handler serves the presenter and participant websockets and the small
// read-only REST surface around a session.
type Handler struct {
	service   *app.QuizService
	snapshots SnapshotReader
	log       logger.Logger
	publicURL string
	upgrader  websocket.Upgrader
}

// NewHandler wires the transport. snapshots may be nil when no reporting
// store is configured.
func NewHandler(service *app.QuizService, snapshots SnapshotReader, log logger.Logger, publicURL string) *Handler {
	return &Handler{
		service:   service,
		snapshots: snapshots,
		log:       log,
		publicURL: publicURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router returns a configured chi router with all routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/ws/host", h.ServeHost)
	r.Get("/ws/play", h.ServePlay)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions/{code}", h.handleSession)
		r.Get("/sessions/{code}/wordcloud/{index}", h.handleWordCloud)
		r.Get("/sessions/{code}/qr.png", h.handleJoinQR)
		r.Get("/snapshots/{classID}/{code}", h.handleSnapshot)
	})
	return r
}
