package session

import (
	"context"
	"fmt"
	"strconv"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/store"
	"github.com/google/uuid"
)

// HostWriter is the host-only write capability: it is the single writer of
// every session-level field.
type HostWriter struct {
	store store.Store
	code  string
}

func NewHostWriter(st store.Store, code string) *HostWriter {
	return &HostWriter{store: st, code: code}
}

// Create writes a fresh lobby record for the quiz hosted for classID.
func (w *HostWriter) Create(ctx context.Context, quiz domain.Quiz, classID string) error {
	err := w.store.Set(ctx, Path(w.code), map[string]any{
		"classId":         classID,
		"quizTitle":       quiz.Title,
		"questions":       quiz.Questions,
		"status":          domain.StatusLobby,
		"currentQuestion": -1,
		"lastQuestion":    -1,
	})
	if err != nil {
		return fmt.Errorf("create session %s: %w", w.code, err)
	}
	return nil
}

// OpenQuestion enters question(i): it clears that question's answers, results
// and word cloud and publishes the start time and shuffle in the same write.
func (w *HostWriter) OpenQuestion(ctx context.Context, index int, startedAt *int64, shuffled []int) error {
	i := strconv.Itoa(index)
	err := w.store.Update(ctx, Path(w.code), map[string]any{
		"status":            domain.StatusQuestion,
		"currentQuestion":   index,
		"lastQuestion":      index,
		"questionStartedAt": startedAt,
		"shuffledOrder":     shuffled,
		"answers/" + i:      nil,
		"wordCloud/" + i:    nil,
		"results/" + i:      nil,
	})
	if err != nil {
		return fmt.Errorf("open question %d of %s: %w", index, w.code, err)
	}
	return nil
}

// CloseQuestion enters results(i) and writes the scored players' score and
// streak leaves together with what each player was awarded for the question.
func (w *HostWriter) CloseQuestion(ctx context.Context, index int, scores map[string]domain.PlayerState, results map[string]domain.QuestionResult) error {
	values := map[string]any{
		"status":            domain.StatusResults,
		"currentQuestion":   index,
		"questionStartedAt": nil,
	}
	for name, p := range scores {
		values["players/"+name+"/score"] = p.Score
		values["players/"+name+"/streak"] = p.Streak
	}
	i := strconv.Itoa(index)
	for name, r := range results {
		values["results/"+i+"/"+name] = r
	}
	if err := w.store.Update(ctx, Path(w.code), values); err != nil {
		return fmt.Errorf("close question %d of %s: %w", index, w.code, err)
	}
	return nil
}

// ShowLeaderboard enters leaderboard(i).
func (w *HostWriter) ShowLeaderboard(ctx context.Context, index int) error {
	err := w.store.Update(ctx, Path(w.code), map[string]any{
		"status":          domain.StatusLeaderboard,
		"currentQuestion": -1,
		"lastQuestion":    index,
		"shuffledOrder":   nil,
	})
	if err != nil {
		return fmt.Errorf("show leaderboard of %s: %w", w.code, err)
	}
	return nil
}

// Finish enters the terminal phase.
func (w *HostWriter) Finish(ctx context.Context) error {
	err := w.store.Update(ctx, Path(w.code), map[string]any{
		"status":            domain.StatusFinal,
		"currentQuestion":   -1,
		"questionStartedAt": nil,
		"shuffledOrder":     nil,
	})
	if err != nil {
		return fmt.Errorf("finish session %s: %w", w.code, err)
	}
	return nil
}

// Remove deletes the record; every subscriber observes the session as gone.
func (w *HostWriter) Remove(ctx context.Context) error {
	if err := w.store.Delete(ctx, Path(w.code)); err != nil {
		return fmt.Errorf("remove session %s: %w", w.code, err)
	}
	return nil
}

// ParticipantWriter is the participant-only write capability, bound to one
// player name. It can only touch that player's own keys.
type ParticipantWriter struct {
	store store.Store
	code  string
	name  string
}

func NewParticipantWriter(st store.Store, code, name string) (*ParticipantWriter, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	return &ParticipantWriter{store: st, code: code, name: name}, nil
}

func (w *ParticipantWriter) Name() string { return w.name }

// Join writes players/{name}.
func (w *ParticipantWriter) Join(ctx context.Context, state domain.PlayerState) error {
	if err := w.store.Set(ctx, Path(w.code, "players", w.name), state); err != nil {
		return fmt.Errorf("join %s as %s: %w", w.code, w.name, err)
	}
	return nil
}

// SubmitAnswer writes answers/{index}/{name}.
func (w *ParticipantWriter) SubmitAnswer(ctx context.Context, index int, rec domain.AnswerRecord) error {
	if err := w.store.Set(ctx, Path(w.code, "answers", strconv.Itoa(index), w.name), rec); err != nil {
		return fmt.Errorf("submit answer %d to %s: %w", index, w.code, err)
	}
	return nil
}

// SubmitWord appends a word-cloud entry under a fresh id so concurrent appends never collide.
func (w *ParticipantWriter) SubmitWord(ctx context.Context, index int, word string, at int64) error {
	entry := domain.WordCloudEntry{Word: word, Author: w.name, Timestamp: at}
	path := Path(w.code, "wordCloud", strconv.Itoa(index), uuid.NewString())
	if err := w.store.Set(ctx, path, entry); err != nil {
		return fmt.Errorf("submit word %d to %s: %w", index, w.code, err)
	}
	return nil
}
