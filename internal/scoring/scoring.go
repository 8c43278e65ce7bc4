// Package scoring maps (question, submitted answer, elapsed time) to
// correctness and points. Every function here is pure.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"classroom-quiz-service/internal/domain"
)

// ErrNotScored is returned for question types that award no points.
var ErrNotScored = errors.New("question type is not scored")

const (
	basePoints     = 500
	speedPoints    = 500
	positionPoints = 200
	perfectOrder   = 200
	minTimeFactor  = 0.5
	sliderExact    = 1000
	sliderClose    = 800
	sliderNear     = 500
	sliderFar      = 200
)

// Result is the outcome of scoring one answer. Correct is what drives the
// streak: for sorting it means the full order was right, for slider that the
// value was within tolerance.
type Result struct {
	Correct bool `json:"correct"`
	Points  int  `json:"points"`
}

// Elapsed converts the answer and question-start epochs (ms) into a duration.
func Elapsed(startedAtMs, answeredAtMs int64) time.Duration {
	return time.Duration(answeredAtMs-startedAtMs) * time.Millisecond
}

// TimeFraction is clamp(1 - elapsed/limit, 0, 1).
func TimeFraction(elapsed, limit time.Duration) float64 {
	return decay(elapsed, limit, 0)
}

// TimeFactor is clamp(1 - elapsed/limit, 0.5, 1).
func TimeFactor(elapsed, limit time.Duration) float64 {
	return decay(elapsed, limit, minTimeFactor)
}

func decay(elapsed, limit time.Duration, floor float64) float64 {
	if limit <= 0 {
		return 1
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return clamp(1-elapsed.Seconds()/limit.Seconds(), floor, 1)
}

// Score evaluates one answer against its question.
func Score(q domain.Question, answer json.RawMessage, elapsed time.Duration) (Result, error) {
	limit := q.TimeLimitDuration()
	switch q.Type {
	case domain.QuestionMultipleChoice, domain.QuestionTrueFalse:
		idx, err := decodeIndex(answer)
		if err != nil {
			return Result{}, err
		}
		return speedResult(idx == q.CorrectIndex, elapsed, limit), nil
	case domain.QuestionOpen:
		var text string
		if err := json.Unmarshal(answer, &text); err != nil {
			return Result{}, fmt.Errorf("%w: open answer: %v", domain.ErrMalformedAnswer, err)
		}
		return speedResult(MatchesAccepted(q, text), elapsed, limit), nil
	case domain.QuestionSorting:
		var order []int
		if err := json.Unmarshal(answer, &order); err != nil {
			return Result{}, fmt.Errorf("%w: sorting answer: %v", domain.ErrMalformedAnswer, err)
		}
		return scoreSorting(len(q.Items), order, elapsed, limit), nil
	case domain.QuestionSlider:
		var value float64
		if err := json.Unmarshal(answer, &value); err != nil {
			return Result{}, fmt.Errorf("%w: slider answer: %v", domain.ErrMalformedAnswer, err)
		}
		return scoreSlider(q, value, elapsed, limit), nil
	case domain.QuestionWordCloud:
		return Result{}, ErrNotScored
	default:
		return Result{}, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidQuestion, q.Type)
	}
}

// MatchesAccepted reports whether a trimmed (optionally case-folded) answer is one of the accepted answers.
func MatchesAccepted(q domain.Question, answer string) bool {
	answer = strings.TrimSpace(answer)
	for _, accepted := range q.AcceptedAnswers {
		accepted = strings.TrimSpace(accepted)
		if q.IgnoreCase {
			if strings.ToLower(answer) == strings.ToLower(accepted) {
				return true
			}
			continue
		}
		if answer == accepted {
			return true
		}
	}
	return false
}

func speedResult(correct bool, elapsed, limit time.Duration) Result {
	if !correct {
		return Result{}
	}
	points := math.Round(basePoints + speedPoints*TimeFraction(elapsed, limit))
	return Result{Correct: true, Points: int(points)}
}

// scoreSorting compares the submitted item indices against the identity order.
func scoreSorting(items int, order []int, elapsed, limit time.Duration) Result {
	correct := 0
	for pos, item := range order {
		if pos < items && item == pos {
			correct++
		}
	}
	all := correct == items && len(order) == items
	base := correct * positionPoints
	if all {
		base += perfectOrder
	}
	points := math.Round(float64(base) * TimeFactor(elapsed, limit))
	return Result{Correct: all, Points: int(points)}
}

func scoreSlider(q domain.Question, value float64, elapsed, limit time.Duration) Result {
	distance := math.Abs(value - q.CorrectValue)
	tol := q.Tolerance
	var base float64
	switch {
	case distance <= tol:
		base = sliderExact
	case distance <= 2*tol:
		base = sliderClose
	case distance <= 4*tol:
		base = sliderNear
	case distance <= 8*tol:
		base = sliderFar
	}
	points := math.Round(base * TimeFactor(elapsed, limit))
	return Result{Correct: distance <= tol, Points: int(points)}
}

func decodeIndex(answer json.RawMessage) (int, error) {
	var v float64
	if err := json.Unmarshal(answer, &v); err != nil {
		return 0, fmt.Errorf("%w: choice answer: %v", domain.ErrMalformedAnswer, err)
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: choice index %v is not an integer", domain.ErrMalformedAnswer, v)
	}
	return int(v), nil
}

// Apply folds one question's result into a player's running score and streak.
// A nil result is a missing answer: no points and the streak resets.
func Apply(prev domain.PlayerState, res *Result) domain.PlayerState {
	next := prev
	if res == nil || !res.Correct {
		next.Streak = 0
	} else {
		next.Streak++
	}
	if res != nil && res.Points > 0 {
		next.Score += res.Points
	}
	return next
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
