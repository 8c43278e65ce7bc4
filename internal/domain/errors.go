package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session record is missing or unreadable.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question index outside the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidQuiz is returned when a quiz cannot be played as supplied.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrInvalidQuestion wraps type-specific question validation failures.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrInvalidTransition is returned when a host action does not apply to the current phase.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrNotAcceptingAnswers is returned when a participant submits outside an open question.
	ErrNotAcceptingAnswers = errors.New("question is not accepting answers")
	// ErrAlreadyAnswered is returned on a second submission for the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrSubmissionLimit is returned when an author reaches the word-cloud cap.
	ErrSubmissionLimit = errors.New("word cloud submission limit reached")
	// ErrInvalidClassID is returned for class ids that cannot key a snapshot.
	ErrInvalidClassID = errors.New("invalid class id")
	// ErrInvalidName is returned for display names that cannot be used as player keys.
	ErrInvalidName = errors.New("invalid player name")
	// ErrMalformedAnswer indicates an answer payload that does not fit the question type.
	ErrMalformedAnswer = errors.New("malformed answer")
	// ErrCodeExhausted is returned when no free session code was found.
	ErrCodeExhausted = errors.New("could not allocate a unique session code")
)
