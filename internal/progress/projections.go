package progress

import (
	"context"
	"math"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
	"github.com/p-n-ai/pai-progress/internal/leveling"
)

// LessonState is the position of a lesson in Locked -> Available -> Attempted -> Completed.
type LessonState string

const (
	LessonLocked    LessonState = "locked"
	LessonAvailable LessonState = "available"
	LessonAttempted LessonState = "attempted"
	LessonCompleted LessonState = "completed"
)

// UnitState is the position of a unit in Locked -> Unlocked -> AllLessonsDone -> TestPassed.
type UnitState string

const (
	UnitLocked         UnitState = "locked"
	UnitUnlocked       UnitState = "unlocked"
	UnitAllLessonsDone UnitState = "all_lessons_done"
	UnitTestPassed     UnitState = "test_passed"
)

// FinalTestState is the position of the final test in Locked -> Unlocked -> TakenToday -> Completed.
type FinalTestState string

const (
	FinalTestLocked     FinalTestState = "locked"
	FinalTestUnlocked   FinalTestState = "unlocked"
	FinalTestTakenToday FinalTestState = "taken_today"
	FinalTestCompleted  FinalTestState = "completed"
)

// Overall summarizes a user's advancement through the curriculum.
type Overall struct {
	XP                 int               `json:"xp"`
	Coins              int               `json:"coins"`
	Level              leveling.Progress `json:"level"`
	LessonsCompleted   int               `json:"lessonsCompleted"`
	LessonsTotal       int               `json:"lessonsTotal"`
	LessonsPercent     float64           `json:"lessonsPercent"`
	UnitsCompleted     int               `json:"unitsCompleted"`
	UnitsTotal         int               `json:"unitsTotal"`
	UnitsPercent       float64           `json:"unitsPercent"`
	FinalTestCompleted bool              `json:"finalTestCompleted"`
	// OverallPercent counts lessons, unit tests and the final test as equal steps.
	OverallPercent float64 `json:"overallPercent"`
}

// LessonView is the read model of one lesson.
type LessonView struct {
	LessonID        curriculum.LessonID `json:"lessonId"`
	UnitID          curriculum.UnitID   `json:"unitId"`
	Title           string              `json:"title"`
	State           LessonState         `json:"state"`
	Attempts        int                 `json:"attempts"`
	Completed       bool                `json:"completed"`
	BestScore       int                 `json:"bestScore"`
	RewardIssued    Reward              `json:"rewardIssued"`
	RewardRemaining Reward              `json:"rewardRemaining"`
	LastAttemptDate Date                `json:"lastAttemptDate"`
}

// UnitView is the read model of one unit and its test.
type UnitView struct {
	UnitID            curriculum.UnitID `json:"unitId"`
	Title             string            `json:"title"`
	State             UnitState         `json:"state"`
	LessonsCompleted  int               `json:"lessonsCompleted"`
	LessonsTotal      int               `json:"lessonsTotal"`
	TestBestScore     int               `json:"testBestScore"`
	TestAttemptsToday int               `json:"testAttemptsToday"`
	TestAttemptsTotal int               `json:"testAttemptsTotal"`
	AttemptsLeftToday int               `json:"attemptsLeftToday"`
	AttemptsLeftTotal int               `json:"attemptsLeftTotal"`
	RewardRemaining   Reward            `json:"rewardRemaining"`
}

// FinalTestView is the read model of the final test.
type FinalTestView struct {
	State           FinalTestState `json:"state"`
	Unlocked        bool           `json:"unlocked"`
	UnlockCost      int            `json:"unlockCost"`
	Attempts        int            `json:"attempts"`
	BestScore       int            `json:"bestScore"`
	LastAttemptDate Date           `json:"lastAttemptDate"`
	RewardRemaining Reward         `json:"rewardRemaining"`
}

// OverallProgress returns totals, level and completion percentages.
func (m *Manager) OverallProgress(ctx context.Context) (Overall, error) {
	p, err := m.Snapshot(ctx)
	if err != nil {
		return Overall{}, err
	}
	return overallOf(m.curriculum, m.curve, p), nil
}

func overallOf(c *curriculum.Curriculum, curve *leveling.Curve, p *UserProgress) Overall {
	o := Overall{
		XP:                 p.XP,
		Coins:              p.Coins,
		Level:              curve.Progress(p.XP),
		LessonsTotal:       c.TotalLessons(),
		UnitsTotal:         len(c.Units),
		FinalTestCompleted: p.FinalTestCompleted,
	}
	for _, id := range c.LessonIDs() {
		if p.CompletedLessons[id] {
			o.LessonsCompleted++
		}
	}
	for _, u := range c.Units {
		if p.CompletedUnitTests[u.ID] {
			o.UnitsCompleted++
		}
	}
	o.LessonsPercent = percent(o.LessonsCompleted, o.LessonsTotal)
	o.UnitsPercent = percent(o.UnitsCompleted, o.UnitsTotal)

	done := o.LessonsCompleted + o.UnitsCompleted
	if p.FinalTestCompleted {
		done++
	}
	o.OverallPercent = percent(done, o.LessonsTotal+o.UnitsTotal+1)
	return o
}

// LessonProgress returns the read model of one lesson.
func (m *Manager) LessonProgress(ctx context.Context, id curriculum.LessonID) (LessonView, error) {
	lesson, err := m.curriculum.Lesson(id)
	if err != nil {
		return LessonView{}, err
	}
	p, err := m.Snapshot(ctx)
	if err != nil {
		return LessonView{}, err
	}
	return m.lessonView(p, lesson)
}

// Lessons returns the read model of every lesson in curriculum order.
func (m *Manager) Lessons(ctx context.Context) ([]LessonView, error) {
	p, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.lessonViews(p)
}

func (m *Manager) lessonViews(p *UserProgress) ([]LessonView, error) {
	views := make([]LessonView, 0, m.curriculum.TotalLessons())
	for _, u := range m.curriculum.Units {
		for _, l := range u.Lessons {
			v, err := m.lessonView(p, l)
			if err != nil {
				return nil, err
			}
			views = append(views, v)
		}
	}
	return views, nil
}

func (m *Manager) lessonView(p *UserProgress, lesson curriculum.Lesson) (LessonView, error) {
	unit, err := m.curriculum.UnitOf(lesson.ID)
	if err != nil {
		return LessonView{}, err
	}
	reachable, err := m.rules.LessonReachable(p, lesson.ID)
	if err != nil {
		return LessonView{}, err
	}

	entry := p.Lessons[lesson.ID]
	v := LessonView{
		LessonID:        lesson.ID,
		UnitID:          unit.ID,
		Title:           lesson.Title,
		Attempts:        entry.Attempts,
		Completed:       p.CompletedLessons[lesson.ID],
		BestScore:       entry.BestScore,
		RewardIssued:    entry.RewardIssued,
		RewardRemaining: Remaining(Reward{XP: lesson.MaxXP, Coins: lesson.MaxCoins}, entry.RewardIssued),
		LastAttemptDate: entry.LastAttemptDate,
	}
	switch {
	case v.Completed:
		v.State = LessonCompleted
	case !reachable:
		v.State = LessonLocked
	case entry.Attempts > 0:
		v.State = LessonAttempted
	default:
		v.State = LessonAvailable
	}
	return v, nil
}

// UnitProgress returns the read model of one unit.
func (m *Manager) UnitProgress(ctx context.Context, id curriculum.UnitID) (UnitView, error) {
	unit, err := m.curriculum.Unit(id)
	if err != nil {
		return UnitView{}, err
	}
	p, err := m.Snapshot(ctx)
	if err != nil {
		return UnitView{}, err
	}
	return m.unitView(p, unit, m.today())
}

// Units returns the read model of every unit in curriculum order.
func (m *Manager) Units(ctx context.Context) ([]UnitView, error) {
	p, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.unitViews(p, m.today())
}

func (m *Manager) unitViews(p *UserProgress, today Date) ([]UnitView, error) {
	views := make([]UnitView, 0, len(m.curriculum.Units))
	for _, u := range m.curriculum.Units {
		v, err := m.unitView(p, u, today)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (m *Manager) unitView(p *UserProgress, unit curriculum.Unit, today Date) (UnitView, error) {
	unlocked, err := m.rules.UnitUnlocked(p, unit.ID)
	if err != nil {
		return UnitView{}, err
	}

	entry := p.UnitTests[unit.ID]
	v := UnitView{
		UnitID:            unit.ID,
		Title:             unit.Title,
		LessonsTotal:      len(unit.Lessons),
		TestBestScore:     entry.BestScore,
		TestAttemptsToday: entry.DailyCountOn(today),
		TestAttemptsTotal: entry.TotalCount,
		RewardRemaining:   Remaining(Reward{XP: unit.UnitTest.MaxXP, Coins: unit.UnitTest.MaxCoins}, entry.RewardIssued),
	}
	for _, l := range unit.Lessons {
		if p.CompletedLessons[l.ID] {
			v.LessonsCompleted++
		}
	}
	v.AttemptsLeftToday, v.AttemptsLeftTotal = m.rules.UnitTestAttemptsLeft(p, unit.ID, today)

	switch {
	case p.CompletedUnitTests[unit.ID]:
		v.State = UnitTestPassed
	case !unlocked:
		v.State = UnitLocked
	case p.UnitLessonsDone(unit):
		v.State = UnitAllLessonsDone
	default:
		v.State = UnitUnlocked
	}
	return v, nil
}

// FinalTestProgress returns the read model of the final test.
func (m *Manager) FinalTestProgress(ctx context.Context) (FinalTestView, error) {
	p, err := m.Snapshot(ctx)
	if err != nil {
		return FinalTestView{}, err
	}
	return m.finalTestView(p, m.today()), nil
}

func (m *Manager) finalTestView(p *UserProgress, today Date) FinalTestView {
	ft := m.curriculum.FinalTest
	v := FinalTestView{
		Unlocked:        m.rules.FinalTestOpen(p),
		UnlockCost:      ft.UnlockCost,
		Attempts:        p.FinalTest.Attempts,
		BestScore:       p.FinalTest.BestScore,
		LastAttemptDate: p.FinalTestLastAttemptDate,
		RewardRemaining: Remaining(Reward{XP: ft.MaxXP, Coins: ft.MaxCoins}, p.FinalTest.RewardIssued),
	}
	switch {
	case p.FinalTestCompleted:
		v.State = FinalTestCompleted
	case !v.Unlocked:
		v.State = FinalTestLocked
	case p.FinalTestLastAttemptDate == today:
		v.State = FinalTestTakenToday
	default:
		v.State = FinalTestUnlocked
	}
	return v
}

// Dashboard is every read model of one user taken from a single snapshot.
type Dashboard struct {
	Overall   Overall       `json:"overall"`
	Lessons   []LessonView  `json:"lessons"`
	Units     []UnitView    `json:"units"`
	FinalTest FinalTestView `json:"finalTest"`
}

// Dashboard returns all read models computed from one consistent snapshot.
func (m *Manager) Dashboard(ctx context.Context) (Dashboard, error) {
	p, err := m.Snapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	today := m.today()

	d := Dashboard{
		Overall:   overallOf(m.curriculum, m.curve, p),
		FinalTest: m.finalTestView(p, today),
	}
	if d.Lessons, err = m.lessonViews(p); err != nil {
		return Dashboard{}, err
	}
	if d.Units, err = m.unitViews(p, today); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

// percent returns part/total as a percentage rounded to one decimal.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}
