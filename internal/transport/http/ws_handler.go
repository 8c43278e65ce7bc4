package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
)

const countdownTick = time.Second

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Answer json.RawMessage `json:"answer"`
}

type wordPayload struct {
	Word string `json:"word"`
}

type hostedPayload struct {
	Code    string `json:"code"`
	ClassID string `json:"classId"`
	JoinURL string `json:"joinUrl"`
}

type joinedPayload struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	ClientID string `json:"clientId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func errorMessage(err error) outboundMessage[any] {
	_, code := classify(err)
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error(), Code: code}}
}

// ServeHost upgrades the presenter connection. It hosts quizId under a fresh
// code, or resumes the session named by code after a reload.
func (h *Handler) ServeHost(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	classID := r.URL.Query().Get("classId")
	code := strings.ToUpper(r.URL.Query().Get("code"))
	if quizID == "" && code == "" {
		http.Error(w, "missing quizId or code", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var host *app.HostController
	if code != "" {
		host, err = h.service.ResumeHost(r.Context(), code, classID)
	} else {
		host, err = h.service.HostQuiz(r.Context(), quizID, classID)
	}
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	code = host.Code()
	log := h.log.With("code", code, "role", "host")

	updates, cancel, err := h.service.Watch(r.Context(), code)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		ticker := time.NewTicker(countdownTick)
		defer ticker.Stop()
		var latest *domain.Session
		for {
			var msg outboundMessage[any]
			select {
			case s, ok := <-updates:
				if !ok {
					return
				}
				if s == nil {
					msg = outboundMessage[any]{Type: "ended", Payload: hostedPayload{Code: code}}
					latest = nil
					break
				}
				latest = s
				msg = outboundMessage[any]{Type: "session", Payload: app.NewHostView(s, time.Now())}
			case <-ticker.C:
				if latest == nil || latest.Status != domain.StatusQuestion || latest.QuestionStartedAt == nil {
					continue
				}
				msg = outboundMessage[any]{Type: "session", Payload: app.NewHostView(latest, time.Now())}
			case <-closeSignals:
				return
			}
			select {
			case send <- msg:
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "hosted", Payload: hostedPayload{Code: code, ClassID: host.ClassID(), JoinURL: h.joinURL(code)}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		ctx, done := context.WithTimeout(r.Context(), 10*time.Second)
		var err error
		switch inbound.Type {
		case "start":
			err = host.StartQuiz(ctx)
		case "next":
			err = host.Advance(ctx)
		case "skip":
			err = host.Skip(ctx)
		case "end":
			err = h.service.EndSession(ctx, code)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type", Code: "invalid"}}
		}
		done()
		if err != nil {
			log.Info("host command rejected", "command", inbound.Type, "error", err)
			send <- errorMessage(err)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// ServePlay upgrades a participant connection and joins the session under name.
func (h *Handler) ServePlay(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.URL.Query().Get("code"))
	name := r.URL.Query().Get("name")
	clientID := r.URL.Query().Get("clientId")
	if code == "" || name == "" {
		http.Error(w, "missing code or name", http.StatusBadRequest)
		return
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	participant, err := h.service.Join(r.Context(), code, name, clientID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	log := h.log.With("code", code, "player", participant.Name())

	views, cancel, err := participant.Views(r.Context())
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case v, ok := <-views:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "view", Payload: v}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{Code: code, Name: participant.Name(), ClientID: clientID}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		ctx, done := context.WithTimeout(r.Context(), 10*time.Second)
		var err error
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err = json.Unmarshal(inbound.Payload, &payload); err != nil || len(payload.Answer) == 0 {
				err = domain.ErrMalformedAnswer
				break
			}
			err = participant.SubmitAnswer(ctx, payload.Answer)
		case "word":
			var payload wordPayload
			if err = json.Unmarshal(inbound.Payload, &payload); err != nil {
				err = domain.ErrMalformedAnswer
				break
			}
			err = participant.SubmitWord(ctx, payload.Word)
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type", Code: "invalid"}}
		}
		done()
		if err != nil {
			send <- errorMessage(err)
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
