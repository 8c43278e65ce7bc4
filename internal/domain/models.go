package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// QuestionType discriminates the answer shape and scoring rule of a question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "mc"
	QuestionTrueFalse      QuestionType = "tf"
	QuestionOpen           QuestionType = "open"
	QuestionSorting        QuestionType = "sorting"
	QuestionSlider         QuestionType = "slider"
	QuestionWordCloud      QuestionType = "wordcloud"
)

// Status is the global phase of a session.
type Status string

const (
	StatusLobby       Status = "lobby"
	StatusQuestion    Status = "question"
	StatusResults     Status = "results"
	StatusLeaderboard Status = "leaderboard"
	StatusFinal       Status = "final"
)

// Question is one quiz item. Only the fields of its Type are meaningful.
type Question struct {
	Type      QuestionType `json:"type"`
	Text      string       `json:"text"`
	ImageURL  string       `json:"imageUrl,omitempty"`
	TimeLimit int          `json:"timeLimit"` // seconds

	// mc / tf
	Options      []string `json:"options,omitempty"`
	CorrectIndex int      `json:"correctIndex"`

	// open
	AcceptedAnswers []string `json:"acceptedAnswers,omitempty"`
	IgnoreCase      bool     `json:"ignoreCase,omitempty"`

	// sorting; Items are listed in their correct order
	Items []string `json:"items,omitempty"`

	// slider
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	CorrectValue float64 `json:"correctValue"`
	Tolerance    float64 `json:"tolerance"`
	Unit         string  `json:"unit,omitempty"`

	// wordcloud
	MaxSubmissions int `json:"maxSubmissions,omitempty"`
}

// Timed reports whether the question runs a countdown and is scored.
func (q Question) Timed() bool {
	return q.Type != QuestionWordCloud
}

// TimeLimitDuration returns the countdown length.
func (q Question) TimeLimitDuration() time.Duration {
	return time.Duration(q.TimeLimit) * time.Second
}

// Validate checks the type-specific fields.
func (q Question) Validate() error {
	if q.Timed() && q.TimeLimit <= 0 {
		return fmt.Errorf("%w: %s question needs a positive time limit", ErrInvalidQuestion, q.Type)
	}
	switch q.Type {
	case QuestionMultipleChoice, QuestionTrueFalse:
		if len(q.Options) == 0 {
			return fmt.Errorf("%w: no options", ErrInvalidQuestion)
		}
		if q.Type == QuestionTrueFalse && len(q.Options) != 2 {
			return fmt.Errorf("%w: true/false needs exactly 2 options", ErrInvalidQuestion)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("%w: correct index %d out of range", ErrInvalidQuestion, q.CorrectIndex)
		}
	case QuestionOpen:
		if len(q.AcceptedAnswers) == 0 {
			return fmt.Errorf("%w: no accepted answers", ErrInvalidQuestion)
		}
	case QuestionSorting:
		if len(q.Items) < 2 {
			return fmt.Errorf("%w: sorting needs at least 2 items", ErrInvalidQuestion)
		}
	case QuestionSlider:
		if q.Min >= q.Max {
			return fmt.Errorf("%w: slider min must be below max", ErrInvalidQuestion)
		}
		if q.CorrectValue < q.Min || q.CorrectValue > q.Max {
			return fmt.Errorf("%w: correct value outside slider range", ErrInvalidQuestion)
		}
		if q.Tolerance < 0 {
			return fmt.Errorf("%w: negative tolerance", ErrInvalidQuestion)
		}
	case QuestionWordCloud:
		if q.MaxSubmissions < 1 {
			return fmt.Errorf("%w: word cloud needs maxSubmissions >= 1", ErrInvalidQuestion)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, q.Type)
	}
	return nil
}

// Public returns a copy without the answer key, safe to show to participants.
func (q Question) Public() Question {
	q.CorrectIndex = 0
	q.AcceptedAnswers = nil
	q.IgnoreCase = false
	q.CorrectValue = 0
	q.Tolerance = 0
	return q
}

// Quiz is the authoring collaborator's input: a title and ordered questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Validate checks the quiz can be played.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidQuiz)
	}
	for i, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return fmt.Errorf("%w: question %d: %w", ErrInvalidQuiz, i, err)
		}
	}
	return nil
}

// PlayerState is the per-player record, keyed by display name.
type PlayerState struct {
	JoinedAt int64  `json:"joinedAt"`
	Score    int    `json:"score"`
	Streak   int    `json:"streak"`
	ClientID string `json:"clientId,omitempty"`
}

// AnswerRecord is one participant's submission for one question.
// Answer holds an index, a string, a number or a list of indices depending on the question type.
type AnswerRecord struct {
	Answer     json.RawMessage `json:"answer"`
	AnsweredAt int64           `json:"answeredAt"`
}

// IndexAnswer encodes an mc/tf selection.
func IndexAnswer(i int) json.RawMessage { return mustRaw(i) }

// TextAnswer encodes an open answer.
func TextAnswer(s string) json.RawMessage { return mustRaw(s) }

// NumberAnswer encodes a slider value.
func NumberAnswer(v float64) json.RawMessage { return mustRaw(v) }

// OrderAnswer encodes a sorting submission as original item indices in the submitted order.
func OrderAnswer(order []int) json.RawMessage { return mustRaw(order) }

func mustRaw(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// WordCloudEntry is one free-form word-cloud submission.
type WordCloudEntry struct {
	Word      string `json:"word"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
}

// QuestionResult is what the host awarded one player for one question.
type QuestionResult struct {
	Correct bool `json:"correct"`
	Points  int  `json:"points"`
}

// Session is the decoded session record for one quiz instance.
type Session struct {
	Code              string
	ClassID           string
	QuizTitle         string
	Questions         []Question
	Status            Status
	CurrentQuestion   int
	LastQuestion      int
	QuestionStartedAt *int64
	ShuffledOrder     []int
	Players           map[string]PlayerState
	Answers           map[int]map[string]AnswerRecord
	WordCloud         map[int][]WordCloudEntry
	Results           map[int]map[string]QuestionResult
}

// Question returns the current question while one is active.
func (s *Session) Question() (Question, bool) {
	if s.CurrentQuestion < 0 || s.CurrentQuestion >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentQuestion], true
}

// Connected is the number of joined players.
func (s *Session) Connected() int {
	return len(s.Players)
}

// Answered is the number of answers recorded for the current question.
func (s *Session) Answered() int {
	if s.CurrentQuestion < 0 {
		return 0
	}
	return len(s.Answers[s.CurrentQuestion])
}

// Remaining reconstructs the countdown from questionStartedAt + timeLimit.
func (s *Session) Remaining(now time.Time) time.Duration {
	q, ok := s.Question()
	if !ok || !q.Timed() || s.QuestionStartedAt == nil || s.Status != StatusQuestion {
		return 0
	}
	deadline := time.UnixMilli(*s.QuestionStartedAt).Add(q.TimeLimitDuration())
	if left := deadline.Sub(now); left > 0 {
		return left
	}
	return 0
}

// LeaderboardEntry is a ranked view of one player.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Streak int    `json:"streak"`
}

// BuildLeaderboard orders players by score desc, then streak desc, then name.
// Players with equal scores share a rank.
func BuildLeaderboard(players map[string]PlayerState) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(players))
	for name, p := range players {
		entries = append(entries, LeaderboardEntry{Name: name, Score: p.Score, Streak: p.Streak})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].Streak != entries[j].Streak {
			return entries[i].Streak > entries[j].Streak
		}
		return entries[i].Name < entries[j].Name
	})
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
	return entries
}

// PlayerResult is the reporting view of a player's final standing.
type PlayerResult struct {
	Score  int `json:"score"`
	Streak int `json:"streak"`
}

// DefaultClassID keys snapshots when the host environment supplied no class.
const DefaultClassID = "default"

const maxClassIDLength = 64

// NormalizeClassID trims a class id and substitutes DefaultClassID for an
// empty one. The id becomes one segment of the snapshot key, so it may not
// contain a slash.
func NormalizeClassID(classID string) (string, error) {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return DefaultClassID, nil
	}
	if utf8.RuneCountInString(classID) > maxClassIDLength || strings.Contains(classID, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidClassID, classID)
	}
	return classID, nil
}

// Snapshot is the one-shot export of a finished session for the reporting collaborator.
type Snapshot struct {
	Code          string                            `json:"code"`
	ClassID       string                            `json:"classId"`
	QuizTitle     string                            `json:"quizTitle"`
	SavedAt       time.Time                         `json:"savedAt"`
	PlayerCount   int                               `json:"playerCount"`
	QuestionCount int                               `json:"questionCount"`
	Players       map[string]PlayerResult           `json:"players"`
	Questions     []Question                        `json:"questions"`
	Answers       map[int]map[string]AnswerRecord   `json:"answers"`
	WordCloud     map[int][]WordCloudEntry          `json:"wordCloud"`
	Results       map[int]map[string]QuestionResult `json:"results,omitempty"`
	Leaderboard   []LeaderboardEntry                `json:"leaderboard"`
}

// NewSnapshot copies a session record verbatim and adds the computed leaderboard.
// An empty classID is recorded as DefaultClassID.
func NewSnapshot(s *Session, classID string, savedAt time.Time) Snapshot {
	if classID == "" {
		classID = DefaultClassID
	}
	players := make(map[string]PlayerResult, len(s.Players))
	for name, p := range s.Players {
		players[name] = PlayerResult{Score: p.Score, Streak: p.Streak}
	}
	return Snapshot{
		Code:          s.Code,
		ClassID:       classID,
		QuizTitle:     s.QuizTitle,
		SavedAt:       savedAt,
		PlayerCount:   len(s.Players),
		QuestionCount: len(s.Questions),
		Players:       players,
		Questions:     s.Questions,
		Answers:       s.Answers,
		WordCloud:     s.WordCloud,
		Results:       s.Results,
		Leaderboard:   BuildLeaderboard(s.Players),
	}
}
