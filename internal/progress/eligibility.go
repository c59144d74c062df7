package progress

import (
	"fmt"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
)

// Decision is the verdict of a gating check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

var allow = Decision{Allowed: true}

func deny(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Eligibility evaluates gating rules against a progress snapshot. All methods are pure.
type Eligibility struct {
	Curriculum *curriculum.Curriculum
	// LifetimeUnitTestCap limits unit test attempts per unit over all time; 0 disables it.
	LifetimeUnitTestCap int
}

// UnitUnlocked reports whether the unit is the first one or its predecessor's test is passed.
func (e Eligibility) UnitUnlocked(p *UserProgress, id curriculum.UnitID) (bool, error) {
	prev, ok, err := e.Curriculum.PreviousUnit(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return p.CompletedUnitTests[prev.ID], nil
}

// LessonReachable reports whether the lesson may be completed: the first lesson of an
// unlocked unit, or a lesson whose predecessor in the same unit is completed.
func (e Eligibility) LessonReachable(p *UserProgress, id curriculum.LessonID) (bool, error) {
	prev, ok, err := e.Curriculum.PreviousLesson(id)
	if err != nil {
		return false, err
	}
	if ok {
		return p.CompletedLessons[prev.ID], nil
	}
	unit, err := e.Curriculum.UnitOf(id)
	if err != nil {
		return false, err
	}
	return e.UnitUnlocked(p, unit.ID)
}

// UnitTest decides whether the unit test may be attempted today.
func (e Eligibility) UnitTest(p *UserProgress, id curriculum.UnitID, today Date) (Decision, error) {
	unit, err := e.Curriculum.Unit(id)
	if err != nil {
		return Decision{}, err
	}
	unlocked, err := e.UnitUnlocked(p, id)
	if err != nil {
		return Decision{}, err
	}
	if !unlocked {
		return deny(ReasonLocked, "unit %d is locked until the previous unit test is passed", id), nil
	}
	if !p.UnitLessonsDone(unit) {
		return deny(ReasonLocked, "complete every lesson in unit %d before its test", id), nil
	}

	entry := p.UnitTests[id]
	limit := e.Curriculum.DailyUnitTestLimit
	if entry.DailyCountOn(today) >= limit {
		return deny(ReasonRateLimited, "daily limit of %d unit test attempts reached", limit), nil
	}
	if e.LifetimeUnitTestCap > 0 && entry.TotalCount >= e.LifetimeUnitTestCap {
		return deny(ReasonRateLimited, "all %d attempts for unit %d test are used", e.LifetimeUnitTestCap, id), nil
	}
	return allow, nil
}

// FinalTestOpen reports whether the final test has been opened, by passing every unit
// test or by buying it.
func (e Eligibility) FinalTestOpen(p *UserProgress) bool {
	return p.FinalTestUnlocked || p.AllUnitsPassed(e.Curriculum)
}

// FinalTest decides whether the final test may be attempted today.
func (e Eligibility) FinalTest(p *UserProgress, today Date) Decision {
	if !e.FinalTestOpen(p) {
		return deny(ReasonLocked, "pass every unit test or unlock the final test for %d coins",
			e.Curriculum.FinalTest.UnlockCost)
	}
	if p.FinalTestLastAttemptDate == today {
		return deny(ReasonAlreadyAttemptedToday, "the final test can be taken once per day")
	}
	return allow
}

// FinalTestUnlock decides whether the final test can be bought. An already open test
// is allowed and costs nothing.
func (e Eligibility) FinalTestUnlock(p *UserProgress) Decision {
	if e.FinalTestOpen(p) {
		return allow
	}
	cost := e.Curriculum.FinalTest.UnlockCost
	if p.Coins < cost {
		return deny(ReasonInsufficientFunds, "unlocking the final test costs %d coins, you have %d", cost, p.Coins)
	}
	return allow
}

// UnitTestAttemptsLeft returns remaining attempts today and overall (-1 when unlimited).
func (e Eligibility) UnitTestAttemptsLeft(p *UserProgress, id curriculum.UnitID, today Date) (daily, total int) {
	entry := p.UnitTests[id]
	daily = nonNegative(e.Curriculum.DailyUnitTestLimit - entry.DailyCountOn(today))
	total = -1
	if e.LifetimeUnitTestCap > 0 {
		total = nonNegative(e.LifetimeUnitTestCap - entry.TotalCount)
		daily = min(daily, total)
	}
	return daily, total
}
