package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	"classroom-quiz-service/internal/logger"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func TestHostQuizOpensLobbyAndPlayersJoin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	host, err := env.service.HostQuiz(ctx, "quiz-1", "class-7a")
	if err != nil {
		t.Fatalf("host failed: %v", err)
	}
	if len(host.Code()) != 6 {
		t.Fatalf("expected 6 character code, got %q", host.Code())
	}
	for _, name := range []string{"alice", "bob"} {
		if _, err := env.service.Join(ctx, host.Code(), name, "client-"+name); err != nil {
			t.Fatalf("join %s failed: %v", name, err)
		}
	}
	// a reload under the same name reattaches instead of adding a player
	if _, err := env.service.Join(ctx, host.Code(), "alice", "client-other"); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}

	s, err := env.service.Session(ctx, host.Code())
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if s.Status != domain.StatusLobby || s.Connected() != 2 {
		t.Fatalf("expected lobby with 2 players, got %s with %d", s.Status, s.Connected())
	}
	if s.Players["alice"].ClientID != "client-alice" {
		t.Fatalf("rejoin must keep the original player, got %+v", s.Players["alice"])
	}

	if _, err := env.service.Join(ctx, "NOPE22", "carl", "c"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found for unknown code, got %v", err)
	}
	if _, err := env.service.Join(ctx, host.Code(), "a/b", "c"); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
}

func TestTimedQuestionScoresOnceWhenEveryoneAnswered(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, alice, bob := env.hostWithPlayers(t)

	if err := host.StartQuiz(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	env.clock.Set(t0.Add(4 * time.Second))
	if err := alice.SubmitAnswer(ctx, domain.IndexAnswer(1)); err != nil {
		t.Fatalf("alice answer failed: %v", err)
	}
	env.clock.Set(t0.Add(6 * time.Second))
	if err := bob.SubmitAnswer(ctx, domain.IndexAnswer(0)); err != nil {
		t.Fatalf("bob answer failed: %v", err)
	}

	s := env.waitForStatus(t, host.Code(), domain.StatusResults)
	if p := s.Players["alice"]; p.Score != 900 || p.Streak != 1 {
		t.Fatalf("expected alice 900/1, got %+v", p)
	}
	if p := s.Players["bob"]; p.Score != 0 || p.Streak != 0 {
		t.Fatalf("expected bob 0/0, got %+v", p)
	}

	// the timer and a late host call both land after the close
	env.timers.fireAll()
	if err := host.EndQuestion(ctx, 0); err != nil {
		t.Fatalf("repeated end failed: %v", err)
	}
	s, _ = env.service.Session(ctx, host.Code())
	if s.Players["alice"].Score != 900 || s.Players["alice"].Streak != 1 {
		t.Fatalf("question scored twice: %+v", s.Players["alice"])
	}
	if err := alice.SubmitAnswer(ctx, domain.IndexAnswer(1)); !errors.Is(err, domain.ErrNotAcceptingAnswers) {
		t.Fatalf("expected closed question, got %v", err)
	}
}

func TestTimerClosesQuestionAndResetsStreak(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, alice, _ := env.hostWithPlayers(t)

	_ = host.StartQuiz(ctx)
	if d := env.timers.lastDuration(); d != 20*time.Second {
		t.Fatalf("expected 20s countdown, got %v", d)
	}
	if err := alice.SubmitAnswer(ctx, domain.IndexAnswer(1)); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	env.timers.fireAll()

	s, _ := env.service.Session(ctx, host.Code())
	if s.Status != domain.StatusResults {
		t.Fatalf("expected results after timeout, got %s", s.Status)
	}
	if s.Players["alice"].Score != 1000 || s.Players["bob"].Streak != 0 {
		t.Fatalf("unexpected scores %+v", s.Players)
	}
}

func TestDuplicateAndMalformedAnswers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, alice, _ := env.hostWithPlayers(t)

	if err := alice.SubmitAnswer(ctx, domain.IndexAnswer(1)); !errors.Is(err, domain.ErrNotAcceptingAnswers) {
		t.Fatalf("lobby must not accept answers, got %v", err)
	}
	_ = host.StartQuiz(ctx)
	if err := alice.SubmitAnswer(ctx, domain.TextAnswer("one")); !errors.Is(err, domain.ErrMalformedAnswer) {
		t.Fatalf("expected malformed answer, got %v", err)
	}
	if err := alice.SubmitAnswer(ctx, domain.IndexAnswer(2)); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if err := alice.SubmitAnswer(ctx, domain.IndexAnswer(1)); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}
	s, _ := env.service.Session(ctx, host.Code())
	if string(s.Answers[0]["alice"].Answer) != "2" {
		t.Fatalf("first answer must stick, got %s", s.Answers[0]["alice"].Answer)
	}
	if v := alice.View(s); v.Mode != app.ModeAnswered {
		t.Fatalf("expected answered mode, got %s", v.Mode)
	}
}

func TestWordCloudQuestion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, alice, _ := env.hostWithPlayers(t)

	_ = host.StartQuiz(ctx)
	_ = host.Skip(ctx)
	_ = host.Advance(ctx)
	timers := env.timers.count()
	if err := host.Advance(ctx); err != nil {
		t.Fatalf("advance to word cloud failed: %v", err)
	}
	if env.timers.count() != timers {
		t.Fatalf("word cloud questions must not start a countdown")
	}
	if err := alice.SubmitAnswer(ctx, domain.TextAnswer("cat")); !errors.Is(err, domain.ErrNotAcceptingAnswers) {
		t.Fatalf("word cloud takes words, got %v", err)
	}
	for _, w := range []string{"cat", " Cat "} {
		if err := alice.SubmitWord(ctx, w); err != nil {
			t.Fatalf("submit %q failed: %v", w, err)
		}
	}
	if err := alice.SubmitWord(ctx, "dog"); !errors.Is(err, domain.ErrSubmissionLimit) {
		t.Fatalf("expected submission limit, got %v", err)
	}

	buckets, err := env.service.WordCloud(ctx, host.Code(), 1)
	if err != nil {
		t.Fatalf("word cloud failed: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Word != "cat" || buckets[0].Count != 2 {
		t.Fatalf("unexpected buckets %+v", buckets)
	}

	before, _ := env.service.Session(ctx, host.Code())
	if err := host.Skip(ctx); err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	after, _ := env.service.Session(ctx, host.Code())
	if after.Status != domain.StatusResults || after.Players["alice"] != before.Players["alice"] {
		t.Fatalf("word cloud results must not touch scores: %+v -> %+v", before.Players["alice"], after.Players["alice"])
	}
}

func TestFullQuizExportsSnapshotOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, alice, bob := env.hostWithPlayers(t)

	_ = host.StartQuiz(ctx)
	env.clock.Set(t0.Add(4 * time.Second))
	_ = alice.SubmitAnswer(ctx, domain.IndexAnswer(1))
	_ = host.Skip(ctx)
	_ = host.Advance(ctx) // leaderboard
	_ = host.Advance(ctx) // word cloud
	_ = host.Advance(ctx) // results
	_ = host.Advance(ctx) // leaderboard

	env.clock.Set(t0.Add(time.Minute))
	if err := host.Advance(ctx); err != nil {
		t.Fatalf("open sorting failed: %v", err)
	}
	s, _ := env.service.Session(ctx, host.Code())
	if len(s.ShuffledOrder) != 4 {
		t.Fatalf("expected a shuffled order of 4 items, got %v", s.ShuffledOrder)
	}
	_ = alice.SubmitAnswer(ctx, domain.OrderAnswer([]int{0, 1, 2, 3}))
	_ = bob.SubmitAnswer(ctx, domain.OrderAnswer([]int{1, 0, 2, 3}))
	env.waitForStatus(t, host.Code(), domain.StatusResults)

	_ = host.Advance(ctx) // leaderboard
	if env.exporter.count() != 0 {
		t.Fatalf("export must wait for the final phase")
	}
	if err := host.Advance(ctx); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if err := host.Advance(ctx); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("final is terminal, got %v", err)
	}

	snaps := env.exporter.all()
	if len(snaps) != 1 {
		t.Fatalf("expected exactly one export, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.ClassID != "class-7a" || snap.PlayerCount != 2 || snap.QuestionCount != 3 {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	if p := snap.Players["alice"]; p.Score != 1900 || p.Streak != 2 {
		t.Fatalf("expected alice 1900/2, got %+v", p)
	}
	if p := snap.Players["bob"]; p.Score != 400 || p.Streak != 0 {
		t.Fatalf("expected bob 400/0, got %+v", p)
	}
	if snap.Leaderboard[0].Name != "alice" || snap.Leaderboard[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard %+v", snap.Leaderboard)
	}

	// resuming a finished session must not export again
	env.service.Shutdown()
	if _, err := env.service.ResumeHost(ctx, host.Code(), "class-7a"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if env.exporter.count() != 1 {
		t.Fatalf("resume exported again")
	}
}

func TestResumeRebuildsCountdown(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, _, _ := env.hostWithPlayers(t)
	_ = host.StartQuiz(ctx)

	env.service.Shutdown()
	env.clock.Set(t0.Add(15 * time.Second))
	resumed, err := env.service.ResumeHost(ctx, host.Code(), "class-7a")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed == host {
		t.Fatalf("expected a fresh controller after shutdown")
	}
	if status, index := resumed.Status(); status != domain.StatusQuestion || index != 0 {
		t.Fatalf("expected question 0, got %s %d", status, index)
	}
	if d := env.timers.lastDuration(); d != 5*time.Second {
		t.Fatalf("expected 5s left on the countdown, got %v", d)
	}
	again, _ := env.service.ResumeHost(ctx, host.Code(), "class-7a")
	if again != resumed {
		t.Fatalf("a running controller must be reused")
	}

	env.timers.fireAll()
	if status, _ := resumed.Status(); status != domain.StatusResults {
		t.Fatalf("expected results after resumed timeout, got %s", status)
	}
}

func TestEndSessionIsObservedAsGone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, alice, _ := env.hostWithPlayers(t)

	views, cancel, err := alice.Views(ctx)
	if err != nil {
		t.Fatalf("views failed: %v", err)
	}
	defer cancel()
	if v := <-views; v.Mode != app.ModeWaiting {
		t.Fatalf("expected waiting, got %s", v.Mode)
	}

	if err := env.service.EndSession(ctx, host.Code()); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-views:
			if !ok {
				t.Fatalf("views closed without a gone view")
			}
			if v.Mode == app.ModeGone {
				if _, err := env.service.Session(ctx, host.Code()); !errors.Is(err, domain.ErrSessionNotFound) {
					t.Fatalf("expected record removed, got %v", err)
				}
				return
			}
		case <-timeout:
			t.Fatalf("participant never saw the session end")
		}
	}
}

func TestResultsViewShowsAwardedPoints(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, alice, bob := env.hostWithPlayers(t)

	_ = host.StartQuiz(ctx)
	env.clock.Set(t0.Add(4 * time.Second))
	if err := alice.SubmitAnswer(ctx, domain.IndexAnswer(1)); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	env.clock.Set(t0.Add(30 * time.Second))
	if err := host.Skip(ctx); err != nil {
		t.Fatalf("skip failed: %v", err)
	}

	s, _ := env.service.Session(ctx, host.Code())
	v := alice.View(s)
	if v.Mode != app.ModeResults || v.LastResult == nil {
		t.Fatalf("expected a results view, got %+v", v)
	}
	if !v.LastResult.Correct || v.LastResult.Points != 900 || s.Players["alice"].Score != 900 {
		t.Fatalf("results screen must show the awarded 900 points, got %+v (score %d)", v.LastResult, s.Players["alice"].Score)
	}
	if v := bob.View(s); v.LastResult == nil || v.LastResult.Correct || v.LastResult.Points != 0 {
		t.Fatalf("expected nothing for a missing answer, got %+v", v.LastResult)
	}
}

func TestConcurrentResumesShareOneController(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	host, _, _ := env.hostWithPlayers(t)
	_ = host.StartQuiz(ctx)
	env.service.Shutdown()
	armed := env.timers.count()

	const callers = 8
	got := make([]*app.HostController, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := env.service.ResumeHost(ctx, host.Code(), "class-7a")
			if err != nil {
				t.Errorf("resume failed: %v", err)
				return
			}
			got[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range got {
		if c == nil || c != got[0] {
			t.Fatalf("every resume must get the same controller")
		}
	}
	if n := env.timers.count() - armed; n != 1 {
		t.Fatalf("expected one countdown re-armed, got %d", n)
	}
}

func TestSecondControllerDoesNotRescoreClosedQuestion(t *testing.T) {
	ctx := context.Background()
	first := newTestEnv(t)
	host, alice, _ := first.hostWithPlayers(t)
	_ = host.StartQuiz(ctx)
	first.clock.Set(t0.Add(4 * time.Second))
	_ = alice.SubmitAnswer(ctx, domain.IndexAnswer(1))

	// a second process attached to the same record
	second := newTestEnvOn(t, first.store)
	other, err := second.service.ResumeHost(ctx, host.Code(), "")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	first.timers.fireAll()
	s, _ := first.service.Session(ctx, host.Code())
	if s.Status != domain.StatusResults || s.Players["alice"].Score != 900 {
		t.Fatalf("expected results with 900, got %s %+v", s.Status, s.Players["alice"])
	}

	second.timers.fireAll()
	s, _ = first.service.Session(ctx, host.Code())
	if p := s.Players["alice"]; p.Score != 900 || p.Streak != 1 {
		t.Fatalf("question scored twice: %+v", p)
	}
	if status, index := other.Status(); status != domain.StatusResults || index != 0 {
		t.Fatalf("second controller must follow the record, got %s %d", status, index)
	}
}

func TestClassIDIsNormalizedAndKeptAcrossResume(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.service.HostQuiz(ctx, "quiz-1", "class/7a"); !errors.Is(err, domain.ErrInvalidClassID) {
		t.Fatalf("expected invalid class id, got %v", err)
	}
	anon, err := env.service.HostQuiz(ctx, "quiz-1", "  ")
	if err != nil {
		t.Fatalf("host failed: %v", err)
	}
	if anon.ClassID() != domain.DefaultClassID {
		t.Fatalf("expected the default class, got %q", anon.ClassID())
	}

	host, err := env.service.HostQuiz(ctx, "quiz-1", " class-7a ")
	if err != nil {
		t.Fatalf("host failed: %v", err)
	}
	if host.ClassID() != "class-7a" {
		t.Fatalf("expected a trimmed class id, got %q", host.ClassID())
	}
	env.service.Shutdown()
	resumed, err := env.service.ResumeHost(ctx, host.Code(), "")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.ClassID() != "class-7a" {
		t.Fatalf("resume must keep the hosted class, got %q", resumed.ClassID())
	}
}

func TestShouldAutoAdvance(t *testing.T) {
	mc := domain.Question{Type: domain.QuestionMultipleChoice, TimeLimit: 20}
	cloud := domain.Question{Type: domain.QuestionWordCloud, MaxSubmissions: 1}
	cases := []struct {
		q                   domain.Question
		connected, answered int
		want                bool
	}{
		{mc, 0, 0, false},
		{mc, 2, 1, false},
		{mc, 2, 2, true},
		{cloud, 1, 1, false},
	}
	for _, c := range cases {
		if got := app.ShouldAutoAdvance(c.q, c.connected, c.answered); got != c.want {
			t.Fatalf("ShouldAutoAdvance(%s, %d, %d) = %v, want %v", c.q.Type, c.connected, c.answered, got, c.want)
		}
	}
}

func TestHostQuizFailsWhenCodesRunOut(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, app.WithCodeSource(zeroReader{}), app.WithCodeRetries(2))
	if _, err := env.service.HostQuiz(ctx, "quiz-1", ""); err != nil {
		t.Fatalf("first host failed: %v", err)
	}
	if _, err := env.service.HostQuiz(ctx, "quiz-1", ""); !errors.Is(err, domain.ErrCodeExhausted) {
		t.Fatalf("expected code exhaustion, got %v", err)
	}
	if _, err := env.service.HostQuiz(ctx, "missing", ""); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

type testEnv struct {
	store    *memory.Store
	service  *app.QuizService
	clock    *fakeClock
	timers   *fakeTimers
	exporter *recordingExporter
}

func newTestEnv(t *testing.T, opts ...app.Option) *testEnv {
	t.Helper()
	return newTestEnvOn(t, memory.NewStore(), opts...)
}

// newTestEnvOn builds a service over st, so two services can share one record.
func newTestEnvOn(t *testing.T, st *memory.Store, opts ...app.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:    &fakeClock{now: t0},
		timers:   &fakeTimers{},
		exporter: &recordingExporter{},
	}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": testQuiz()}), time.Minute)
	opts = append([]app.Option{
		app.WithClock(env.clock.Now),
		app.WithTimers(env.timers.AfterFunc),
		app.WithShuffleSeed(7),
	}, opts...)
	env.store = st
	env.service = app.NewQuizService(st, quizzes, env.exporter, logger.Discard(), opts...)
	t.Cleanup(env.service.Shutdown)
	return env
}

func (e *testEnv) hostWithPlayers(t *testing.T) (*app.HostController, *app.ParticipantClient, *app.ParticipantClient) {
	t.Helper()
	ctx := context.Background()
	host, err := e.service.HostQuiz(ctx, "quiz-1", "class-7a")
	if err != nil {
		t.Fatalf("host failed: %v", err)
	}
	alice, err := e.service.Join(ctx, host.Code(), "alice", "client-alice")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	bob, err := e.service.Join(ctx, host.Code(), "bob", "client-bob")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	return host, alice, bob
}

func (e *testEnv) waitForStatus(t *testing.T, code string, want domain.Status) *domain.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s, err := e.service.Session(context.Background(), code)
		if err == nil && s.Status == want {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never reached %s (last err %v)", want, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Animals",
		Questions: []domain.Question{
			{Type: domain.QuestionMultipleChoice, Text: "Which one barks?", TimeLimit: 20, Options: []string{"cat", "dog", "fish"}, CorrectIndex: 1},
			{Type: domain.QuestionWordCloud, Text: "Favourite pet?", MaxSubmissions: 2},
			{Type: domain.QuestionSorting, Text: "Smallest to largest", TimeLimit: 30, Items: []string{"mouse", "cat", "dog", "horse"}},
		},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	owner   *fakeTimers
	d       time.Duration
	f       func()
	stopped bool
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) app.Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	timer := &fakeTimer{owner: ft, d: d, f: f}
	ft.timers = append(ft.timers, timer)
	return timer
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fireAll runs every pending timer, even ones stopped after they were due.
func (ft *fakeTimers) fireAll() {
	ft.mu.Lock()
	var due []func()
	for _, timer := range ft.timers {
		due = append(due, timer.f)
		timer.stopped = true
	}
	ft.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

func (ft *fakeTimers) lastDuration() time.Duration {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.timers) == 0 {
		return -1
	}
	return ft.timers[len(ft.timers)-1].d
}

type recordingExporter struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (r *recordingExporter) Export(_ context.Context, _ string, snap domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recordingExporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recordingExporter) all() []domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Snapshot(nil), r.snaps...)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
