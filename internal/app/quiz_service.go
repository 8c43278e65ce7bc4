package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/logger"
	"classroom-quiz-service/internal/metrics"
	"classroom-quiz-service/internal/session"
	"classroom-quiz-service/internal/store"
	"classroom-quiz-service/internal/wordcloud"
	"golang.org/x/sync/singleflight"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// DefaultCodeRetries bounds how many codes are drawn before giving up.
const DefaultCodeRetries = 10

// QuizService hosts sessions and attaches participants to them. It keeps one
// HostController per live session code.
type QuizService struct {
	store    store.Store
	quizzes  QuizRepository
	exporter Exporter
	log      logger.Logger

	codeSource  io.Reader
	codeRetries int
	now         func() time.Time
	afterFunc   func(time.Duration, func()) Timer

	rndMu sync.Mutex
	rnd   *mrand.Rand

	mu      sync.Mutex
	hosts   map[string]*HostController
	resumes singleflight.Group
}

// Option customises a QuizService.
type Option func(*QuizService)

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

// WithTimers replaces time.AfterFunc for question countdowns.
func WithTimers(afterFunc func(time.Duration, func()) Timer) Option {
	return func(s *QuizService) { s.afterFunc = afterFunc }
}

// WithCodeSource sets the random source session codes are drawn from.
func WithCodeSource(r io.Reader) Option {
	return func(s *QuizService) { s.codeSource = r }
}

// WithCodeRetries bounds code generation attempts.
func WithCodeRetries(n int) Option {
	return func(s *QuizService) { s.codeRetries = n }
}

// WithShuffleSeed makes sorting shuffles reproducible.
func WithShuffleSeed(seed int64) Option {
	return func(s *QuizService) { s.rnd = mrand.New(mrand.NewSource(seed)) }
}

func NewQuizService(st store.Store, quizzes QuizRepository, exporter Exporter, log logger.Logger, opts ...Option) *QuizService {
	s := &QuizService{
		store:       st,
		quizzes:     quizzes,
		exporter:    exporter,
		log:         log,
		codeSource:  rand.Reader,
		codeRetries: DefaultCodeRetries,
		now:         time.Now,
		afterFunc:   func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		rnd:         mrand.New(mrand.NewSource(time.Now().UnixNano())),
		hosts:       make(map[string]*HostController),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HostQuiz creates a lobby for the quiz under a fresh code.
func (s *QuizService) HostQuiz(ctx context.Context, quizID, classID string) (*HostController, error) {
	classID, err := domain.NormalizeClassID(classID)
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if err := quiz.Validate(); err != nil {
		return nil, err
	}
	code, err := session.NewUniqueCode(ctx, func(ctx context.Context, code string) (bool, error) {
		if _, ok := s.Host(code); ok {
			return true, nil
		}
		return session.NewReader(s.store, code).Exists(ctx)
	}, s.codeSource, s.codeRetries)
	if err != nil {
		s.log.Error("no free session code", "quiz", quizID, "error", err)
		return nil, err
	}

	c := s.newController(code, classID, quiz)
	if err := c.writer.Create(ctx, quiz, classID); err != nil {
		s.log.Error("create session failed", "code", code, "error", err)
		return nil, err
	}
	c.status = domain.StatusLobby
	c.index = -1
	if err := c.start(0); err != nil {
		return nil, err
	}
	s.register(c)
	metrics.SessionsHosted.Inc()
	s.log.Info("session hosted", "code", code, "quiz", quizID, "class", classID, "questions", len(quiz.Questions))
	return c, nil
}

// ResumeHost reattaches to a session, for instance after a presenter reload.
// A controller already running for the code is returned as is; otherwise the
// phase and countdown are rebuilt from the record. Concurrent resumes of one
// code share a single controller, so only one countdown is ever armed.
func (s *QuizService) ResumeHost(ctx context.Context, code, classID string) (*HostController, error) {
	if c, ok := s.Host(code); ok {
		return c, nil
	}
	v, err, _ := s.resumes.Do(code, func() (any, error) {
		return s.resume(ctx, code, classID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*HostController), nil
}

func (s *QuizService) resume(ctx context.Context, code, classID string) (*HostController, error) {
	if c, ok := s.Host(code); ok {
		return c, nil
	}
	rec, err := session.NewReader(s.store, code).Load(ctx)
	if err != nil {
		return nil, err
	}
	if rec.ClassID != "" {
		if classID != "" && classID != rec.ClassID {
			s.log.Warn("resume under a different class ignored", "code", code, "class", rec.ClassID, "requested", classID)
		}
		classID = rec.ClassID
	}
	if classID, err = domain.NormalizeClassID(classID); err != nil {
		return nil, err
	}

	quiz := domain.Quiz{Title: rec.QuizTitle, Questions: rec.Questions}
	c := s.newController(code, classID, quiz)
	c.status = rec.Status
	c.index = rec.CurrentQuestion
	if c.index < 0 {
		c.index = rec.LastQuestion
	}
	c.exported = rec.Status == domain.StatusFinal

	if err := c.start(rec.Remaining(s.now())); err != nil {
		return nil, err
	}
	s.register(c)
	s.log.Info("session resumed", "code", code, "status", rec.Status, "index", c.index)
	return c, nil
}

// Host returns the running controller for a code.
func (s *QuizService) Host(code string) (*HostController, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.hosts[code]
	return c, ok
}

// EndSession removes the session record and forgets its controller.
func (s *QuizService) EndSession(ctx context.Context, code string) error {
	c, ok := s.Host(code)
	if !ok {
		var err error
		if c, err = s.ResumeHost(ctx, code, ""); err != nil {
			return err
		}
	}
	s.mu.Lock()
	delete(s.hosts, code)
	metrics.ActiveSessions.Set(float64(len(s.hosts)))
	s.mu.Unlock()
	return c.End(ctx)
}

// Join attaches a participant to a session under a display name.
func (s *QuizService) Join(ctx context.Context, code, name, clientID string) (*ParticipantClient, error) {
	writer, err := session.NewParticipantWriter(s.store, code, name)
	if err != nil {
		return nil, err
	}
	p := &ParticipantClient{
		code:     code,
		clientID: clientID,
		log:      s.log,
		reader:   session.NewReader(s.store, code),
		writer:   writer,
		now:      s.now,
		answered: make(map[int]bool),
		words:    make(map[int]int),
	}
	if err := p.join(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Session reads the current record.
func (s *QuizService) Session(ctx context.Context, code string) (*domain.Session, error) {
	return session.NewReader(s.store, code).Load(ctx)
}

// Watch streams the record of a session; nil marks removal.
func (s *QuizService) Watch(ctx context.Context, code string) (<-chan *domain.Session, func(), error) {
	return session.NewReader(s.store, code).Watch(ctx)
}

// WordCloud aggregates the entries of one word-cloud question.
func (s *QuizService) WordCloud(ctx context.Context, code string, index int) ([]wordcloud.Bucket, error) {
	rec, err := s.Session(ctx, code)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(rec.Questions) || rec.Questions[index].Type != domain.QuestionWordCloud {
		return nil, fmt.Errorf("%w: %d", domain.ErrQuestionNotFound, index)
	}
	return wordcloud.Aggregate(rec.WordCloud[index]), nil
}

// Shutdown stops every controller without touching the records.
func (s *QuizService) Shutdown() {
	s.mu.Lock()
	hosts := s.hosts
	s.hosts = make(map[string]*HostController)
	metrics.ActiveSessions.Set(0)
	s.mu.Unlock()
	for _, c := range hosts {
		c.Close()
	}
}

func (s *QuizService) newController(code, classID string, quiz domain.Quiz) *HostController {
	return &HostController{
		code:      code,
		classID:   classID,
		quiz:      quiz,
		log:       s.log,
		reader:    session.NewReader(s.store, code),
		writer:    session.NewHostWriter(s.store, code),
		exporter:  s.exporter,
		now:       s.now,
		afterFunc: s.afterFunc,
		shuffle:   s.shuffle,
	}
}

func (s *QuizService) register(c *HostController) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[c.code] = c
	metrics.ActiveSessions.Set(float64(len(s.hosts)))
}

// shuffle returns a Fisher-Yates permutation of 0..n-1.
func (s *QuizService) shuffle(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	for i := n - 1; i > 0; i-- {
		j := s.rnd.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}
