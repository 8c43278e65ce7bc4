// Package session maps the session record onto the record store.
//
// Key layout under sessions/{code}:
//
//	quizTitle, questions, classId    written once by the host at creation
//	status, currentQuestion,
//	lastQuestion, questionStartedAt,
//	shuffledOrder                    host only
//	players/{name}                   the named participant, once at join
//	players/{name}/score|streak      host only, while scoring results
//	results/{qIdx}/{name}            host only, the awarded result per player
//	answers/{qIdx}/{name}            the named participant, once per question
//	wordCloud/{qIdx}/{entryID}       the authoring participant, append only
//
// Writes go through HostWriter or ParticipantWriter; the two types share no
// methods, so a participant can never be handed a session-level write.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/store"
)

// Namespace is the first path segment of every session record.
const Namespace = "sessions"

const maxNameLength = 32

// Path returns the store path of a session record or one of its children.
func Path(code string, parts ...string) string {
	return store.Join(append([]string{Namespace, code}, parts...)...)
}

// ValidateName trims a display name and checks it can serve as a record key.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}
	return name, nil
}

type record struct {
	ClassID           string                                      `json:"classId"`
	QuizTitle         string                                      `json:"quizTitle"`
	Questions         []domain.Question                           `json:"questions"`
	Status            domain.Status                               `json:"status"`
	CurrentQuestion   *int                                        `json:"currentQuestion"`
	LastQuestion      *int                                        `json:"lastQuestion"`
	QuestionStartedAt *int64                                      `json:"questionStartedAt"`
	ShuffledOrder     []int                                       `json:"shuffledOrder"`
	Players           map[string]domain.PlayerState               `json:"players"`
	Answers           map[string]map[string]domain.AnswerRecord   `json:"answers"`
	WordCloud         map[string]map[string]domain.WordCloudEntry `json:"wordCloud"`
	Results           map[string]map[string]domain.QuestionResult `json:"results"`
}

// Decode builds a Session from a record tree. A missing tree, or one without a
// status (e.g. a stray late write after the host removed the record), is
// reported as ErrSessionNotFound.
func Decode(code string, tree any) (*domain.Session, error) {
	if tree == nil {
		return nil, domain.ErrSessionNotFound
	}
	var rec record
	if err := store.Decode(tree, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSessionNotFound, err)
	}
	if rec.Status == "" {
		return nil, domain.ErrSessionNotFound
	}

	s := &domain.Session{
		Code:              code,
		ClassID:           rec.ClassID,
		QuizTitle:         rec.QuizTitle,
		Questions:         rec.Questions,
		Status:            rec.Status,
		CurrentQuestion:   -1,
		LastQuestion:      -1,
		QuestionStartedAt: rec.QuestionStartedAt,
		ShuffledOrder:     rec.ShuffledOrder,
		Players:           rec.Players,
		Answers:           make(map[int]map[string]domain.AnswerRecord, len(rec.Answers)),
		WordCloud:         make(map[int][]domain.WordCloudEntry, len(rec.WordCloud)),
		Results:           make(map[int]map[string]domain.QuestionResult, len(rec.Results)),
	}
	if rec.CurrentQuestion != nil {
		s.CurrentQuestion = *rec.CurrentQuestion
	}
	if rec.LastQuestion != nil {
		s.LastQuestion = *rec.LastQuestion
	}
	if s.Players == nil {
		s.Players = make(map[string]domain.PlayerState)
	}
	for key, answers := range rec.Answers {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		s.Answers[idx] = answers
	}
	for key, results := range rec.Results {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		s.Results[idx] = results
	}
	for key, entries := range rec.WordCloud {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		list := make([]domain.WordCloudEntry, 0, len(entries))
		for _, e := range entries {
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Timestamp != list[j].Timestamp {
				return list[i].Timestamp < list[j].Timestamp
			}
			return list[i].Author < list[j].Author
		})
		s.WordCloud[idx] = list
	}
	return s, nil
}

// Reader gives read-only access to one session record.
type Reader struct {
	store store.Store
	code  string
}

func NewReader(st store.Store, code string) Reader {
	return Reader{store: st, code: code}
}

func (r Reader) Code() string { return r.code }

// Load reads the full record.
func (r Reader) Load(ctx context.Context) (*domain.Session, error) {
	tree, err := r.store.Get(ctx, Path(r.code))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", r.code, err)
	}
	return Decode(r.code, tree)
}

// Exists reports whether a live record is stored under the code.
func (r Reader) Exists(ctx context.Context) (bool, error) {
	_, err := r.Load(ctx)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Watch streams the decoded record after every mutation. A nil session means
// the record is gone. Only the latest snapshot is kept for slow consumers.
func (r Reader) Watch(ctx context.Context) (<-chan *domain.Session, func(), error) {
	events, cancel, err := r.store.Subscribe(ctx, Path(r.code))
	if err != nil {
		return nil, nil, fmt.Errorf("watch session %s: %w", r.code, err)
	}
	out := make(chan *domain.Session, 1)
	go func() {
		defer close(out)
		for ev := range events {
			s, err := Decode(r.code, ev.Value)
			if err != nil {
				s = nil
			}
			select {
			case out <- s:
			default:
				select {
				case <-out:
				default:
				}
				out <- s
			}
		}
	}()
	return out, cancel, nil
}
