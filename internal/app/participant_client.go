package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/logger"
	"classroom-quiz-service/internal/metrics"
	"classroom-quiz-service/internal/scoring"
	"classroom-quiz-service/internal/session"
	"classroom-quiz-service/internal/wordcloud"
)

// ParticipantClient is one joined player's connection to a session. It only
// writes its own player, answer and word-cloud keys.
type ParticipantClient struct {
	code     string
	clientID string
	log      logger.Logger
	reader   session.Reader
	writer   *session.ParticipantWriter
	now      func() time.Time

	mu       sync.Mutex
	answered map[int]bool
	words    map[int]int
}

func (p *ParticipantClient) Name() string { return p.writer.Name() }

func (p *ParticipantClient) Code() string { return p.code }

// join registers the player unless the name is already present, in which
// case the client reattaches to the existing player and keeps its score.
func (p *ParticipantClient) join(ctx context.Context) error {
	s, err := p.reader.Load(ctx)
	if err != nil {
		return err
	}
	name := p.writer.Name()
	if existing, ok := s.Players[name]; ok {
		if existing.ClientID != "" && existing.ClientID != p.clientID {
			p.log.Warn("name already taken by another client; sharing player", "code", p.code, "player", name)
		}
		p.mu.Lock()
		for i, answers := range s.Answers {
			if _, ok := answers[name]; ok {
				p.answered[i] = true
			}
		}
		p.mu.Unlock()
		p.log.Info("player rejoined", "code", p.code, "player", name)
		return nil
	}
	state := domain.PlayerState{JoinedAt: p.now().UnixMilli(), ClientID: p.clientID}
	if err := p.writer.Join(ctx, state); err != nil {
		p.log.Error("join failed", "code", p.code, "player", name, "error", err)
		return err
	}
	p.log.Info("player joined", "code", p.code, "player", name)
	return nil
}

// Views streams the participant display for every change of the record. The
// last view of a removed session has ModeGone and the channel closes after it.
func (p *ParticipantClient) Views(ctx context.Context) (<-chan ParticipantView, func(), error) {
	updates, cancel, err := p.reader.Watch(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan ParticipantView, 1)
	go func() {
		defer close(out)
		for s := range updates {
			v := p.View(s)
			select {
			case out <- v:
			default:
				select {
				case <-out:
				default:
				}
				out <- v
			}
			if v.Mode == ModeGone {
				cancel()
				return
			}
		}
	}()
	return out, cancel, nil
}

// View derives the display for a snapshot, folding in the local answered flag.
func (p *ParticipantClient) View(s *domain.Session) ParticipantView {
	submitted := false
	if s != nil && s.CurrentQuestion >= 0 {
		p.mu.Lock()
		submitted = p.answered[s.CurrentQuestion]
		p.mu.Unlock()
	}
	return NewParticipantView(s, p.writer.Name(), submitted, p.now())
}

// SubmitAnswer records the answer to the running question. The local answered
// flag is set before the write and stays set if the write fails.
func (p *ParticipantClient) SubmitAnswer(ctx context.Context, answer json.RawMessage) error {
	err := p.submitAnswer(ctx, answer)
	metrics.ObserveSubmission(metrics.KindAnswer, err)
	return err
}

func (p *ParticipantClient) submitAnswer(ctx context.Context, answer json.RawMessage) error {
	s, err := p.reader.Load(ctx)
	if err != nil {
		return err
	}
	q, ok := s.Question()
	if s.Status != domain.StatusQuestion || !ok || !q.Timed() {
		return domain.ErrNotAcceptingAnswers
	}
	if _, err := scoring.Score(q, answer, 0); errors.Is(err, domain.ErrMalformedAnswer) {
		return err
	}
	i := s.CurrentQuestion
	name := p.writer.Name()

	p.mu.Lock()
	if _, ok := s.Answers[i][name]; ok || p.answered[i] {
		p.mu.Unlock()
		return domain.ErrAlreadyAnswered
	}
	p.answered[i] = true
	p.mu.Unlock()

	rec := domain.AnswerRecord{Answer: answer, AnsweredAt: p.now().UnixMilli()}
	if err := p.writer.SubmitAnswer(ctx, i, rec); err != nil {
		p.log.Error("submit answer failed", "code", p.code, "player", name, "index", i, "error", err)
		return err
	}
	return nil
}

// SubmitWord adds one word to the running word-cloud question, up to the
// question's per-player limit.
func (p *ParticipantClient) SubmitWord(ctx context.Context, word string) error {
	err := p.submitWord(ctx, word)
	metrics.ObserveSubmission(metrics.KindWord, err)
	return err
}

func (p *ParticipantClient) submitWord(ctx context.Context, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return fmt.Errorf("%w: empty word", domain.ErrMalformedAnswer)
	}
	s, err := p.reader.Load(ctx)
	if err != nil {
		return err
	}
	q, ok := s.Question()
	if s.Status != domain.StatusQuestion || !ok || q.Type != domain.QuestionWordCloud {
		return domain.ErrNotAcceptingAnswers
	}
	i := s.CurrentQuestion
	name := p.writer.Name()

	p.mu.Lock()
	count := wordcloud.CountByAuthor(s.WordCloud[i], name)
	if p.words[i] > count {
		count = p.words[i]
	}
	if count >= q.MaxSubmissions {
		p.mu.Unlock()
		return domain.ErrSubmissionLimit
	}
	p.words[i] = count + 1
	p.mu.Unlock()

	if err := p.writer.SubmitWord(ctx, i, word, p.now().UnixMilli()); err != nil {
		p.log.Error("submit word failed", "code", p.code, "player", name, "index", i, "error", err)
		return err
	}
	return nil
}
