package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/logger"
	"classroom-quiz-service/internal/metrics"
	"classroom-quiz-service/internal/scoring"
	"classroom-quiz-service/internal/session"
)

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

const transitionTimeout = 10 * time.Second

// HostController drives one session through its phases. It is the only
// writer of session-level fields; every transition happens under mu against
// the controller's local phase, so a timer firing and a host click racing
// each other close a question exactly once.
type HostController struct {
	code     string
	classID  string
	quiz     domain.Quiz
	log      logger.Logger
	reader   session.Reader
	writer   *session.HostWriter
	exporter Exporter

	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
	shuffle   func(n int) []int

	mu       sync.Mutex
	status   domain.Status
	index    int
	timer    Timer
	exported bool
	closed   bool

	stopWatch func()
	watchDone chan struct{}
}

// ShouldAutoAdvance reports whether a question can close early: it is timed,
// at least one player is connected and every connected player has answered.
func ShouldAutoAdvance(q domain.Question, connected, answered int) bool {
	return q.Timed() && connected > 0 && answered >= connected
}

func (c *HostController) Code() string { return c.code }

func (c *HostController) ClassID() string { return c.classID }

// Status returns the controller's local phase and the question index it refers to.
func (c *HostController) Status() (domain.Status, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.index
}

// start begins watching the record and, when resuming mid-question, re-arms the countdown.
func (c *HostController) start(remaining time.Duration) error {
	updates, cancel, err := c.reader.Watch(context.Background())
	if err != nil {
		return fmt.Errorf("watch session %s: %w", c.code, err)
	}
	c.stopWatch = cancel
	c.watchDone = make(chan struct{})
	go c.watch(updates)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == domain.StatusQuestion && c.quiz.Questions[c.index].Timed() {
		c.armTimerLocked(c.index, remaining)
	}
	return nil
}

// StartQuiz leaves the lobby and opens the first question.
func (c *HostController) StartQuiz(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrSessionNotFound
	}
	if c.status != domain.StatusLobby {
		return fmt.Errorf("%w: start from %s", domain.ErrInvalidTransition, c.status)
	}
	return c.openQuestionLocked(ctx, 0)
}

// Advance moves to the next phase: lobby opens the first question, a running
// question is closed as a skip, results show the leaderboard and the
// leaderboard opens the next question or finishes the quiz.
func (c *HostController) Advance(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrSessionNotFound
	}
	switch c.status {
	case domain.StatusLobby:
		return c.openQuestionLocked(ctx, 0)
	case domain.StatusQuestion:
		return c.endQuestionLocked(ctx, c.index, "skip")
	case domain.StatusResults:
		if err := c.writer.ShowLeaderboard(ctx, c.index); err != nil {
			c.log.Error("show leaderboard failed", "code", c.code, "error", err)
			return err
		}
		c.status = domain.StatusLeaderboard
		return nil
	case domain.StatusLeaderboard:
		if c.index+1 < len(c.quiz.Questions) {
			return c.openQuestionLocked(ctx, c.index+1)
		}
		return c.finishLocked(ctx)
	default:
		return fmt.Errorf("%w: advance from %s", domain.ErrInvalidTransition, c.status)
	}
}

// Skip closes the running question now.
func (c *HostController) Skip(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrSessionNotFound
	}
	if c.status != domain.StatusQuestion {
		return fmt.Errorf("%w: skip from %s", domain.ErrInvalidTransition, c.status)
	}
	return c.endQuestionLocked(ctx, c.index, "skip")
}

// EndQuestion closes question i. It is a no-op unless question i is the one
// running, so repeated or late calls never score twice.
func (c *HostController) EndQuestion(ctx context.Context, i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.endQuestionLocked(ctx, i, "end")
}

// End stops the controller and removes the record, which every participant observes as gone.
func (c *HostController) End(ctx context.Context) error {
	c.shutdown()
	if err := c.writer.Remove(ctx); err != nil {
		c.log.Error("remove session failed", "code", c.code, "error", err)
		return err
	}
	c.log.Info("session ended", "code", c.code)
	return nil
}

// Close stops the timer and the watcher but leaves the record for a later resume.
func (c *HostController) Close() {
	c.shutdown()
}

func (c *HostController) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	if c.stopWatch != nil {
		c.stopWatch()
		<-c.watchDone
	}
}

func (c *HostController) openQuestionLocked(ctx context.Context, i int) error {
	q := c.quiz.Questions[i]
	var startedAt *int64
	if q.Timed() {
		ms := c.now().UnixMilli()
		startedAt = &ms
	}
	var shuffled []int
	if q.Type == domain.QuestionSorting {
		shuffled = c.shuffle(len(q.Items))
	}
	if err := c.writer.OpenQuestion(ctx, i, startedAt, shuffled); err != nil {
		c.log.Error("open question failed", "code", c.code, "index", i, "error", err)
		return err
	}
	c.status = domain.StatusQuestion
	c.index = i
	if q.Timed() {
		c.armTimerLocked(i, q.TimeLimitDuration())
	}
	c.log.Info("question opened", "code", c.code, "index", i, "type", q.Type)
	return nil
}

func (c *HostController) endQuestionLocked(ctx context.Context, i int, reason string) error {
	if c.status != domain.StatusQuestion || c.index != i {
		return nil
	}
	q := c.quiz.Questions[i]

	var (
		scores  map[string]domain.PlayerState
		results map[string]domain.QuestionResult
	)
	answered := 0
	if q.Timed() {
		s, err := c.reader.Load(ctx)
		if err != nil {
			c.log.Error("load session for scoring failed", "code", c.code, "index", i, "error", err)
			return err
		}
		if s.Status != domain.StatusQuestion || s.CurrentQuestion != i {
			// another controller for this code got there first
			c.log.Warn("question already closed on the record", "code", c.code, "index", i, "status", s.Status)
			c.stopTimerLocked()
			c.status = s.Status
			c.index = displayIndex(s)
			return nil
		}
		answered = len(s.Answers[i])
		scores, results = c.score(s, q, i)
	}

	if err := c.writer.CloseQuestion(ctx, i, scores, results); err != nil {
		c.log.Error("close question failed", "code", c.code, "index", i, "error", err)
		return err
	}
	c.stopTimerLocked()
	c.status = domain.StatusResults
	metrics.QuestionsClosed.WithLabelValues(reason).Inc()
	c.log.Info("question closed", "code", c.code, "index", i, "reason", reason, "answered", answered)
	return nil
}

// score applies the answers to question i on top of each player's running
// totals and returns the per-player award alongside. A missing or malformed
// answer is awarded nothing.
func (c *HostController) score(s *domain.Session, q domain.Question, i int) (map[string]domain.PlayerState, map[string]domain.QuestionResult) {
	scores := make(map[string]domain.PlayerState, len(s.Players))
	results := make(map[string]domain.QuestionResult, len(s.Players))
	for name, p := range s.Players {
		var res *scoring.Result
		if rec, ok := s.Answers[i][name]; ok {
			var elapsed time.Duration
			if s.QuestionStartedAt != nil {
				elapsed = scoring.Elapsed(*s.QuestionStartedAt, rec.AnsweredAt)
			}
			r, err := scoring.Score(q, rec.Answer, elapsed)
			switch {
			case errors.Is(err, domain.ErrMalformedAnswer):
				c.log.Warn("malformed answer treated as missing", "code", c.code, "index", i, "player", name, "error", err)
			case err != nil:
				c.log.Warn("answer not scored", "code", c.code, "index", i, "player", name, "error", err)
			default:
				res = &r
			}
		}
		scores[name] = scoring.Apply(p, res)
		if res != nil {
			results[name] = domain.QuestionResult{Correct: res.Correct, Points: res.Points}
		} else {
			results[name] = domain.QuestionResult{}
		}
	}
	return scores, results
}

func (c *HostController) finishLocked(ctx context.Context) error {
	if err := c.writer.Finish(ctx); err != nil {
		c.log.Error("finish session failed", "code", c.code, "error", err)
		return err
	}
	c.status = domain.StatusFinal
	c.index = len(c.quiz.Questions) - 1
	c.log.Info("quiz finished", "code", c.code)
	c.exportLocked(ctx)
	return nil
}

// exportLocked hands the finished session to the exporter once. Failures are
// logged and never block the final phase.
func (c *HostController) exportLocked(ctx context.Context) {
	if c.exported || c.exporter == nil {
		return
	}
	c.exported = true
	s, err := c.reader.Load(ctx)
	if err != nil {
		c.log.Error("load session for export failed", "code", c.code, "error", err)
		return
	}
	snap := domain.NewSnapshot(s, c.classID, c.now())
	err = c.exporter.Export(ctx, c.classID, snap)
	metrics.ObserveExport(err)
	if err != nil {
		c.log.Error("export snapshot failed", "code", c.code, "class", c.classID, "error", err)
		return
	}
	c.log.Info("snapshot exported", "code", c.code, "class", c.classID, "players", snap.PlayerCount)
}

func (c *HostController) armTimerLocked(i int, d time.Duration) {
	c.stopTimerLocked()
	c.timer = c.afterFunc(d, func() { c.timeUp(i) })
}

func (c *HostController) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *HostController) timeUp(i int) {
	ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.endQuestionLocked(ctx, i, "time"); err != nil {
		c.log.Warn("timed close failed; host can still skip", "code", c.code, "index", i, "error", err)
	}
}

func (c *HostController) watch(updates <-chan *domain.Session) {
	defer close(c.watchDone)
	for s := range updates {
		if s == nil {
			c.log.Warn("session record gone", "code", c.code)
			return
		}
		c.observe(s)
	}
}

// observe closes the running question early once everyone connected has answered.
func (c *HostController) observe(s *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != domain.StatusQuestion {
		return
	}
	if s.Status != domain.StatusQuestion || s.CurrentQuestion != c.index {
		return
	}
	q := c.quiz.Questions[c.index]
	if !ShouldAutoAdvance(q, s.Connected(), len(s.Answers[c.index])) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
	defer cancel()
	if err := c.endQuestionLocked(ctx, c.index, "all answered"); err != nil {
		c.log.Warn("auto advance failed", "code", c.code, "index", c.index, "error", err)
	}
}
