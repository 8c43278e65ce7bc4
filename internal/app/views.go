package app

import (
	"time"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/wordcloud"
)

// Mode is what a participant's screen shows, derived from the session phase.
type Mode string

const (
	ModeWaiting     Mode = "waiting"
	ModeAnswering   Mode = "answering"
	ModeAnswered    Mode = "answered"
	ModeResults     Mode = "results"
	ModeLeaderboard Mode = "leaderboard"
	ModeFinal       Mode = "final"
	ModeGone        Mode = "gone"
)

// HostView is the presenter display state for one snapshot.
type HostView struct {
	Code        string                    `json:"code"`
	QuizTitle   string                    `json:"quizTitle"`
	Status      domain.Status             `json:"status"`
	Index       int                       `json:"index"`
	Total       int                       `json:"total"`
	Question    *domain.Question          `json:"question,omitempty"`
	Items       []string                  `json:"items,omitempty"`
	RemainingMs int64                     `json:"remainingMs"`
	Connected   int                       `json:"connected"`
	Answered    int                       `json:"answered"`
	Players     []string                  `json:"players"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	WordCloud   []wordcloud.Bucket        `json:"wordCloud,omitempty"`
}

// NewHostView derives the presenter display from a snapshot.
func NewHostView(s *domain.Session, now time.Time) HostView {
	v := HostView{
		Code:        s.Code,
		QuizTitle:   s.QuizTitle,
		Status:      s.Status,
		Index:       displayIndex(s),
		Total:       len(s.Questions),
		RemainingMs: s.Remaining(now).Milliseconds(),
		Connected:   s.Connected(),
		Answered:    s.Answered(),
		Leaderboard: domain.BuildLeaderboard(s.Players),
	}
	for name := range s.Players {
		v.Players = append(v.Players, name)
	}
	if v.Index >= 0 && v.Index < len(s.Questions) && s.Status != domain.StatusLobby {
		q := s.Questions[v.Index]
		v.Question = &q
		v.Items = shuffledItems(q, s.ShuffledOrder)
		if q.Type == domain.QuestionWordCloud {
			v.WordCloud = wordcloud.Aggregate(s.WordCloud[v.Index])
		}
	}
	return v
}

// ParticipantView is one participant's display state for one snapshot.
type ParticipantView struct {
	Mode        Mode                      `json:"mode"`
	Name        string                    `json:"name"`
	Index       int                       `json:"index"`
	Total       int                       `json:"total"`
	Question    *domain.Question          `json:"question,omitempty"`
	Items       []string                  `json:"items,omitempty"`
	ItemOrder   []int                     `json:"itemOrder,omitempty"`
	RemainingMs int64                     `json:"remainingMs"`
	Score       int                       `json:"score"`
	Streak      int                       `json:"streak"`
	Rank        int                       `json:"rank,omitempty"`
	WordsLeft   int                       `json:"wordsLeft,omitempty"`
	LastResult  *domain.QuestionResult    `json:"lastResult,omitempty"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
	WordCloud   []wordcloud.Bucket        `json:"wordCloud,omitempty"`
}

// NewParticipantView derives what one participant sees. submitted reports the
// client's local "already answered" flag for the current question.
func NewParticipantView(s *domain.Session, name string, submitted bool, now time.Time) ParticipantView {
	if s == nil {
		return ParticipantView{Mode: ModeGone, Name: name, Index: -1}
	}
	me := s.Players[name]
	v := ParticipantView{
		Name:   name,
		Index:  displayIndex(s),
		Total:  len(s.Questions),
		Score:  me.Score,
		Streak: me.Streak,
	}
	board := domain.BuildLeaderboard(s.Players)
	for _, e := range board {
		if e.Name == name {
			v.Rank = e.Rank
		}
	}

	switch s.Status {
	case domain.StatusLobby:
		v.Mode = ModeWaiting
	case domain.StatusQuestion:
		q, ok := s.Question()
		if !ok {
			v.Mode = ModeWaiting
			break
		}
		public := q.Public()
		v.Question = &public
		v.RemainingMs = s.Remaining(now).Milliseconds()
		v.Mode = ModeAnswering
		if q.Type == domain.QuestionWordCloud {
			left := q.MaxSubmissions - wordcloud.CountByAuthor(s.WordCloud[s.CurrentQuestion], name)
			if left < 0 {
				left = 0
			}
			v.WordsLeft = left
			v.WordCloud = wordcloud.Aggregate(s.WordCloud[s.CurrentQuestion])
			if left == 0 {
				v.Mode = ModeAnswered
			}
			break
		}
		if _, ok := s.Answers[s.CurrentQuestion][name]; ok || submitted {
			v.Mode = ModeAnswered
		}
		if q.Type == domain.QuestionSorting {
			v.Items = shuffledItems(q, s.ShuffledOrder)
			v.ItemOrder = s.ShuffledOrder
		}
	case domain.StatusResults:
		v.Mode = ModeResults
		if q, ok := s.Question(); ok {
			full := q
			v.Question = &full
			if q.Type == domain.QuestionWordCloud {
				v.WordCloud = wordcloud.Aggregate(s.WordCloud[s.CurrentQuestion])
			} else {
				v.LastResult = ownResult(s, name)
			}
		}
	case domain.StatusLeaderboard:
		v.Mode = ModeLeaderboard
		v.Leaderboard = board
	case domain.StatusFinal:
		v.Mode = ModeFinal
		v.Leaderboard = board
	default:
		v.Mode = ModeGone
	}
	return v
}

// ownResult reads what the host awarded name for the question on screen.
// A player the host did not score shows as zero points.
func ownResult(s *domain.Session, name string) *domain.QuestionResult {
	r := s.Results[s.CurrentQuestion][name]
	return &r
}

func displayIndex(s *domain.Session) int {
	if s.CurrentQuestion >= 0 {
		return s.CurrentQuestion
	}
	return s.LastQuestion
}

func shuffledItems(q domain.Question, order []int) []string {
	if q.Type != domain.QuestionSorting {
		return nil
	}
	if len(order) != len(q.Items) {
		return q.Items
	}
	items := make([]string, len(order))
	for i, idx := range order {
		if idx < 0 || idx >= len(q.Items) {
			return q.Items
		}
		items[i] = q.Items[idx]
	}
	return items
}
