package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
	"github.com/p-n-ai/pai-progress/internal/leveling"
)

const (
	defaultPersistTimeout = 5 * time.Second
	defaultRetryDelay     = 200 * time.Millisecond
	// persistAttempts is the first call plus a single retry.
	persistAttempts = 2
)

// ManagerConfig holds dependencies for a per-user progress manager.
type ManagerConfig struct {
	UserID     string
	Curriculum *curriculum.Curriculum
	Curve      *leveling.Curve
	Repository Repository
	Events     EventLogger
	// Now and Location define "today". Defaults: time.Now, UTC.
	Now      func() time.Time
	Location *time.Location
	// LifetimeUnitTestCap limits unit test attempts per unit; 0 means unlimited.
	LifetimeUnitTestCap int
	PersistTimeout      time.Duration // per repository call (default 5s)
	RetryDelay          time.Duration // pause before the single retry (default 200ms)
}

// Manager owns one user's progress: it validates actions, applies rewards, mutates the
// in-memory record and persists it. Create one Manager per user.
type Manager struct {
	userID         string
	curriculum     *curriculum.Curriculum
	curve          *leveling.Curve
	rules          Eligibility
	repo           Repository
	events         EventLogger
	now            func() time.Time
	loc            *time.Location
	persistTimeout time.Duration
	saver          retry.Retry[int64]
	loader         retry.Retry[*Document]

	loads singleflight.Group

	mu      sync.Mutex
	state   *UserProgress
	version int64
}

// NewManager creates a progress manager bound to cfg.UserID.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if cfg.Curriculum == nil {
		return nil, fmt.Errorf("curriculum is required")
	}
	if cfg.LifetimeUnitTestCap < 0 {
		return nil, fmt.Errorf("lifetime unit test cap must not be negative")
	}
	curve := cfg.Curve
	if curve == nil {
		curve = leveling.Default()
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewMemoryStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = defaultPersistTimeout
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	return &Manager{
		userID:     cfg.UserID,
		curriculum: cfg.Curriculum,
		curve:      curve,
		rules: Eligibility{
			Curriculum:          cfg.Curriculum,
			LifetimeUnitTestCap: cfg.LifetimeUnitTestCap,
		},
		repo:           repo,
		events:         events,
		now:            now,
		loc:            loc,
		persistTimeout: timeout,
		saver:          retry.New[int64](retryConfig(delay)),
		loader:         retry.New[*Document](retryConfig(delay)),
	}, nil
}

func retryConfig(delay time.Duration) retry.Config {
	return retry.Config{
		MaxAttempts:   persistAttempts,
		InitialDelay:  delay,
		MaxDelay:      delay,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		IsRetryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
}

// UserID returns the user this manager is bound to.
func (m *Manager) UserID() string {
	return m.userID
}

// Curriculum returns the curriculum the manager evaluates against.
func (m *Manager) Curriculum() *curriculum.Curriculum {
	return m.curriculum
}

// Init loads the user's progress once. Concurrent callers share the same in-flight load;
// a failed load is not memoized and is attempted again by the next caller. The shared
// load is not cancelled with any one caller; a caller whose ctx ends stops waiting.
func (m *Manager) Init(ctx context.Context) error {
	if m.loaded() {
		return nil
	}
	ch := m.loads.DoChan("load", func() (any, error) {
		if m.loaded() {
			return nil, nil
		}
		return nil, m.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil
}

func (m *Manager) load(ctx context.Context) error {
	doc, err := m.loader.Do(ctx, func(ctx context.Context) (*Document, error) {
		ctx, cancel := context.WithTimeout(ctx, m.persistTimeout)
		defer cancel()
		return m.repo.Load(ctx, m.userID)
	})
	if err != nil {
		slog.Error("failed to load progress", "user_id", m.userID, "error", err)
		return &PersistenceError{UserID: m.userID, Op: "load", Err: err}
	}

	state := New()
	var version int64
	if doc != nil {
		version = doc.Version
		state, err = Decode(doc.Data)
		if err != nil {
			// Keep the version so a reset can overwrite the bad document.
			m.mu.Lock()
			m.version = version
			m.mu.Unlock()
			slog.Error("rejecting stored progress", "user_id", m.userID, "version", version, "error", err)
			return fmt.Errorf("load progress for user %s: %w", m.userID, err)
		}
	}

	m.mu.Lock()
	m.state = state
	m.version = version
	m.mu.Unlock()

	slog.Info("progress loaded", "user_id", m.userID, "version", version, "xp", state.XP)
	return nil
}

// persist saves the current state. Must be called with m.mu held. A version conflict
// adopts the store's version so the retry carries the in-memory state forward.
func (m *Manager) persist(ctx context.Context) error {
	data, err := Encode(m.state)
	if err != nil {
		return &PersistenceError{UserID: m.userID, Op: "encode", Err: err}
	}

	version, err := m.saver.Do(ctx, func(ctx context.Context) (int64, error) {
		ctx, cancel := context.WithTimeout(ctx, m.persistTimeout)
		defer cancel()

		v, err := m.repo.Save(ctx, m.userID, data, m.version)
		var conflict *VersionConflictError
		if errors.As(err, &conflict) {
			slog.Warn("progress version conflict, overwriting with session state",
				"user_id", m.userID,
				"expected", conflict.Expected,
				"current", conflict.Current,
			)
			m.version = conflict.Current
		}
		return v, err
	})
	if err != nil {
		slog.Warn("failed to persist progress, keeping in-memory state",
			"user_id", m.userID,
			"error", err,
		)
		return &PersistenceError{UserID: m.userID, Op: "save", Err: err}
	}

	m.version = version
	return nil
}

func (m *Manager) today() Date {
	return DateOf(m.now(), m.loc)
}

func (m *Manager) publish(events []Event) {
	for _, e := range events {
		if err := m.events.LogEvent(e); err != nil {
			slog.Warn("failed to log progress event",
				"type", e.EventType,
				"user_id", m.userID,
				"error", err,
			)
		}
	}
}

func (m *Manager) event(eventType string, data map[string]any) Event {
	return NewEvent(m.userID, eventType, data)
}

// levelEvents returns a level_up event when xp crossed into a higher level.
func (m *Manager) levelEvents(before, xp int) []Event {
	after := m.curve.LevelFor(xp)
	if after <= before {
		return nil
	}
	return []Event{m.event(EventLevelUp, map[string]any{"from": before, "to": after, "xp": xp})}
}

func validateScore(score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}
	return nil
}

func (p *UserProgress) credit(r Reward) {
	p.XP += r.XP
	p.Coins += r.Coins
}

// AttemptResult is returned by RecordLessonAttempt.
type AttemptResult struct {
	Outcome
	LessonID curriculum.LessonID `json:"lessonId"`
	Attempts int                 `json:"attempts"`
}

// RecordLessonAttempt counts a started attempt on a lesson. It grants no reward.
func (m *Manager) RecordLessonAttempt(ctx context.Context, id curriculum.LessonID) (AttemptResult, error) {
	if _, err := m.curriculum.Lesson(id); err != nil {
		return AttemptResult{}, err
	}
	if err := m.Init(ctx); err != nil {
		return AttemptResult{}, err
	}

	m.mu.Lock()
	entry := m.state.Lessons[id]
	entry.Attempts++
	entry.LastAttemptDate = m.today()
	m.state.Lessons[id] = entry

	result := AttemptResult{Outcome: allowed(), LessonID: id, Attempts: entry.Attempts}
	result.Warning = m.persist(ctx)
	m.mu.Unlock()

	m.publish([]Event{m.event(EventLessonAttempted, map[string]any{
		"lesson_id": id,
		"attempts":  entry.Attempts,
	})})
	return result, nil
}

// LessonResult is returned by CompleteLesson.
type LessonResult struct {
	Outcome
	Grant
	LessonID        curriculum.LessonID `json:"lessonId"`
	Score           int                 `json:"score"`
	FirstCompletion bool                `json:"firstCompletion"`
	Level           int                 `json:"level"`
}

// CompleteLesson records a finished quiz with score (0..100), tops up the lesson reward
// and marks the lesson completed. Unreachable lessons are denied with ReasonLocked.
func (m *Manager) CompleteLesson(ctx context.Context, id curriculum.LessonID, score int) (LessonResult, error) {
	if err := validateScore(score); err != nil {
		return LessonResult{}, err
	}
	lesson, err := m.curriculum.Lesson(id)
	if err != nil {
		return LessonResult{}, err
	}
	if err := m.Init(ctx); err != nil {
		return LessonResult{}, err
	}

	m.mu.Lock()
	result, events, err := m.completeLesson(ctx, lesson, score)
	m.mu.Unlock()

	m.publish(events)
	return result, err
}

func (m *Manager) completeLesson(ctx context.Context, lesson curriculum.Lesson, score int) (LessonResult, []Event, error) {
	p := m.state
	result := LessonResult{LessonID: lesson.ID, Score: score}

	reachable, err := m.rules.LessonReachable(p, lesson.ID)
	if err != nil {
		return LessonResult{}, nil, err
	}
	if !reachable {
		result.Outcome = denied(deny(ReasonLocked, "lesson %d is locked until the previous lesson is completed", lesson.ID))
		result.Level = m.curve.LevelFor(p.XP)
		return result, nil, nil
	}

	levelBefore := m.curve.LevelFor(p.XP)
	entry := p.Lessons[lesson.ID]
	if entry.Attempts == 0 {
		entry.Attempts = 1
	}
	entry.LastAttemptDate = m.today()
	entry.BestScore = max(entry.BestScore, score)

	grant := ApplyScore(Reward{XP: lesson.MaxXP, Coins: lesson.MaxCoins}, entry.RewardIssued, score)
	entry.RewardIssued = grant.Issued
	p.Lessons[lesson.ID] = entry
	p.credit(grant.Delta)

	result.FirstCompletion = !p.CompletedLessons[lesson.ID]
	p.CompletedLessons[lesson.ID] = true

	result.Outcome = allowed()
	result.Grant = grant
	result.Level = m.curve.LevelFor(p.XP)
	result.Warning = m.persist(ctx)

	events := []Event{m.event(EventLessonCompleted, map[string]any{
		"lesson_id":        lesson.ID,
		"score":            score,
		"delta_xp":         grant.Delta.XP,
		"delta_coins":      grant.Delta.Coins,
		"first_completion": result.FirstCompletion,
	})}
	events = append(events, m.levelEvents(levelBefore, p.XP)...)
	return result, events, nil
}

// TestResult is returned by TakeUnitTest.
type TestResult struct {
	Outcome
	Grant
	UnitID            curriculum.UnitID `json:"unitId"`
	Score             int               `json:"score"`
	Passed            bool              `json:"passed"`
	FirstPass         bool              `json:"firstPass"`
	AttemptsLeftToday int               `json:"attemptsLeftToday"`
	// AttemptsLeftTotal is -1 when there is no lifetime cap.
	AttemptsLeftTotal int `json:"attemptsLeftTotal"`
	Level             int `json:"level"`
}

// TakeUnitTest records a unit test attempt with score (0..100). The attempt counts
// against the daily and lifetime limits; a score at or above the passing score passes
// the unit.
func (m *Manager) TakeUnitTest(ctx context.Context, id curriculum.UnitID, score int) (TestResult, error) {
	if err := validateScore(score); err != nil {
		return TestResult{}, err
	}
	unit, err := m.curriculum.Unit(id)
	if err != nil {
		return TestResult{}, err
	}
	if err := m.Init(ctx); err != nil {
		return TestResult{}, err
	}

	m.mu.Lock()
	result, events, err := m.takeUnitTest(ctx, unit, score)
	m.mu.Unlock()

	m.publish(events)
	return result, err
}

func (m *Manager) takeUnitTest(ctx context.Context, unit curriculum.Unit, score int) (TestResult, []Event, error) {
	p := m.state
	today := m.today()
	result := TestResult{UnitID: unit.ID, Score: score}

	decision, err := m.rules.UnitTest(p, unit.ID, today)
	if err != nil {
		return TestResult{}, nil, err
	}
	if !decision.Allowed {
		result.Outcome = denied(decision)
		result.AttemptsLeftToday, result.AttemptsLeftTotal = m.rules.UnitTestAttemptsLeft(p, unit.ID, today)
		result.Level = m.curve.LevelFor(p.XP)
		return result, nil, nil
	}

	levelBefore := m.curve.LevelFor(p.XP)
	entry := p.UnitTests[unit.ID]
	if entry.LastAttemptDate != today {
		entry.DailyCount = 0
	}
	entry.DailyCount++
	entry.TotalCount++
	entry.LastAttemptDate = today
	entry.BestScore = max(entry.BestScore, score)

	grant := ApplyScore(Reward{XP: unit.UnitTest.MaxXP, Coins: unit.UnitTest.MaxCoins}, entry.RewardIssued, score)
	entry.RewardIssued = grant.Issued
	p.UnitTests[unit.ID] = entry
	p.credit(grant.Delta)

	result.Passed = score >= m.curriculum.PassingScore
	if result.Passed {
		result.FirstPass = !p.CompletedUnitTests[unit.ID]
		p.CompletedUnitTests[unit.ID] = true
		if p.AllUnitsPassed(m.curriculum) {
			p.FinalTestUnlocked = true
		}
	}

	result.Outcome = allowed()
	result.Grant = grant
	result.AttemptsLeftToday, result.AttemptsLeftTotal = m.rules.UnitTestAttemptsLeft(p, unit.ID, today)
	result.Level = m.curve.LevelFor(p.XP)
	result.Warning = m.persist(ctx)

	events := []Event{m.event(EventUnitTestTaken, map[string]any{
		"unit_id":     unit.ID,
		"score":       score,
		"passed":      result.Passed,
		"delta_xp":    grant.Delta.XP,
		"delta_coins": grant.Delta.Coins,
	})}
	if result.FirstPass {
		events = append(events, m.event(EventUnitTestPassed, map[string]any{"unit_id": unit.ID, "score": score}))
	}
	events = append(events, m.levelEvents(levelBefore, p.XP)...)
	return result, events, nil
}

// UnlockResult is returned by UnlockFinalTest.
type UnlockResult struct {
	Outcome
	AlreadyUnlocked bool `json:"alreadyUnlocked"`
	CoinsSpent      int  `json:"coinsSpent"`
	Coins           int  `json:"coins"`
}

// UnlockFinalTest buys access to the final test. It is a no-op when the test is
// already open.
func (m *Manager) UnlockFinalTest(ctx context.Context) (UnlockResult, error) {
	if err := m.Init(ctx); err != nil {
		return UnlockResult{}, err
	}

	m.mu.Lock()
	p := m.state
	if m.rules.FinalTestOpen(p) {
		result := UnlockResult{Outcome: allowed(), AlreadyUnlocked: true, Coins: p.Coins}
		m.mu.Unlock()
		return result, nil
	}

	decision := m.rules.FinalTestUnlock(p)
	if !decision.Allowed {
		result := UnlockResult{Outcome: denied(decision), Coins: p.Coins}
		m.mu.Unlock()
		return result, nil
	}

	cost := m.curriculum.FinalTest.UnlockCost
	p.Coins -= cost
	p.FinalTestUnlocked = true
	result := UnlockResult{Outcome: allowed(), CoinsSpent: cost, Coins: p.Coins}
	result.Warning = m.persist(ctx)
	m.mu.Unlock()

	m.publish([]Event{m.event(EventFinalTestUnlocked, map[string]any{"cost": cost})})
	return result, nil
}

// FinalTestResult is returned by TakeFinalTest.
type FinalTestResult struct {
	Outcome
	Grant
	Score     int  `json:"score"`
	Passed    bool `json:"passed"`
	FirstPass bool `json:"firstPass"`
	Level     int  `json:"level"`
}

// TakeFinalTest records a final test attempt with score (0..100). One attempt per day.
func (m *Manager) TakeFinalTest(ctx context.Context, score int) (FinalTestResult, error) {
	if err := validateScore(score); err != nil {
		return FinalTestResult{}, err
	}
	if err := m.Init(ctx); err != nil {
		return FinalTestResult{}, err
	}

	m.mu.Lock()
	result, events := m.takeFinalTest(ctx, score)
	m.mu.Unlock()

	m.publish(events)
	return result, nil
}

func (m *Manager) takeFinalTest(ctx context.Context, score int) (FinalTestResult, []Event) {
	p := m.state
	today := m.today()
	result := FinalTestResult{Score: score}

	decision := m.rules.FinalTest(p, today)
	if !decision.Allowed {
		result.Outcome = denied(decision)
		result.Level = m.curve.LevelFor(p.XP)
		return result, nil
	}

	levelBefore := m.curve.LevelFor(p.XP)
	p.FinalTestLastAttemptDate = today
	p.FinalTest.Attempts++
	p.FinalTest.BestScore = max(p.FinalTest.BestScore, score)

	ft := m.curriculum.FinalTest
	grant := ApplyScore(Reward{XP: ft.MaxXP, Coins: ft.MaxCoins}, p.FinalTest.RewardIssued, score)
	p.FinalTest.RewardIssued = grant.Issued
	p.credit(grant.Delta)

	result.Passed = score >= m.curriculum.PassingScore
	if result.Passed {
		result.FirstPass = !p.FinalTestCompleted
		p.FinalTestCompleted = true
	}

	result.Outcome = allowed()
	result.Grant = grant
	result.Level = m.curve.LevelFor(p.XP)
	result.Warning = m.persist(ctx)

	events := []Event{m.event(EventFinalTestTaken, map[string]any{
		"score":       score,
		"passed":      result.Passed,
		"delta_xp":    grant.Delta.XP,
		"delta_coins": grant.Delta.Coins,
	})}
	if result.FirstPass {
		events = append(events, m.event(EventFinalTestPassed, map[string]any{"score": score}))
	}
	events = append(events, m.levelEvents(levelBefore, p.XP)...)
	return result, events
}

// ResetProgress replaces the user's progress with a fresh record and persists it.
// It also recovers a user whose stored record was rejected as malformed.
func (m *Manager) ResetProgress(ctx context.Context) (Outcome, error) {
	if err := m.Init(ctx); err != nil && !errors.Is(err, ErrMalformedRecord) {
		return Outcome{}, err
	}

	m.mu.Lock()
	m.state = New()
	result := allowed()
	result.Warning = m.persist(ctx)
	m.mu.Unlock()

	slog.Info("progress reset", "user_id", m.userID)
	m.publish([]Event{m.event(EventProgressReset, nil)})
	return result, nil
}

// Snapshot returns a copy of the current progress record.
func (m *Manager) Snapshot(ctx context.Context) (*UserProgress, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

// Version returns the repository version the in-memory state was last saved or loaded at.
func (m *Manager) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}
