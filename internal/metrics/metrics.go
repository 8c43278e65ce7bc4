package metrics

import (
	"errors"
	"net/http"

	"classroom-quiz-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsHosted counts lobbies opened under a fresh code.
	SessionsHosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_sessions_hosted_total",
			Help: "Total number of hosted quiz sessions",
		},
	)

	// ActiveSessions tracks host controllers currently running in this process.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quiz_sessions_active",
			Help: "Current number of sessions with a running host controller",
		},
	)

	// QuestionsClosed counts closed questions by what closed them.
	QuestionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_questions_closed_total",
			Help: "Total number of closed questions",
		},
		[]string{"reason"}, // time, all answered, skip, end
	)

	// Submissions counts participant answers and words by outcome.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Total number of participant submissions",
		},
		[]string{"kind", "outcome"}, // kind: answer/word, outcome: accepted/rejected/failed
	)

	// SnapshotExports counts finished-session exports.
	SnapshotExports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_snapshot_exports_total",
			Help: "Total number of finished session exports",
		},
		[]string{"status"}, // success/failure
	)
)

const (
	KindAnswer = "answer"
	KindWord   = "word"

	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// ObserveSubmission records one submission attempt by the error returned to
// the participant. Domain rejections and store failures are counted apart.
func ObserveSubmission(kind string, err error) {
	outcome := OutcomeAccepted
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotAcceptingAnswers),
		errors.Is(err, domain.ErrAlreadyAnswered),
		errors.Is(err, domain.ErrSubmissionLimit),
		errors.Is(err, domain.ErrMalformedAnswer):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeFailed
	}
	Submissions.WithLabelValues(kind, outcome).Inc()
}

// ObserveExport records the result of a snapshot export.
func ObserveExport(err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	SnapshotExports.WithLabelValues(status).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
