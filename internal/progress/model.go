// Package progress tracks one learner's advancement through the curriculum: rewards,
// gating, attempt limits, and the persisted progress record.
package progress

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
)

// Date is a calendar day formatted as YYYY-MM-DD. The zero value means "never".
type Date string

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(time.DateOnly))
}

// MarshalJSON encodes the zero Date as null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

// UnmarshalJSON accepts null or a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s != "" {
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return fmt.Errorf("invalid date %q: %w", s, err)
		}
	}
	*d = Date(s)
	return nil
}

// Reward is an amount of XP and coins.
type Reward struct {
	XP    int `json:"xp"`
	Coins int `json:"coins"`
}

// LessonEntry is the per-lesson ledger line.
type LessonEntry struct {
	Attempts        int    `json:"attempts"`
	BestScore       int    `json:"bestScore"`
	RewardIssued    Reward `json:"rewardIssued"`
	LastAttemptDate Date   `json:"lastAttemptDate"`
}

// UnitTestEntry holds the attempt counters and reward high-water mark of a unit test.
type UnitTestEntry struct {
	DailyCount      int    `json:"dailyCount"`
	TotalCount      int    `json:"totalCount"`
	LastAttemptDate Date   `json:"lastAttemptDate"`
	BestScore       int    `json:"bestScore"`
	RewardIssued    Reward `json:"rewardIssued"`
}

// DailyCountOn returns the daily counter as seen on today; a stale day reads as 0.
func (e UnitTestEntry) DailyCountOn(today Date) int {
	if e.LastAttemptDate != today {
		return 0
	}
	return e.DailyCount
}

// FinalTestEntry is the final test's ledger line.
type FinalTestEntry struct {
	Attempts     int    `json:"attempts"`
	BestScore    int    `json:"bestScore"`
	RewardIssued Reward `json:"rewardIssued"`
}

// UserProgress is the mutable per-user aggregate.
type UserProgress struct {
	XP                       int
	Coins                    int
	CompletedLessons         map[curriculum.LessonID]bool
	CompletedUnitTests       map[curriculum.UnitID]bool
	FinalTestCompleted       bool
	FinalTestUnlocked        bool
	FinalTestLastAttemptDate Date
	Lessons                  map[curriculum.LessonID]LessonEntry
	UnitTests                map[curriculum.UnitID]UnitTestEntry
	FinalTest                FinalTestEntry
}

// New returns a zeroed progress record.
func New() *UserProgress {
	return &UserProgress{
		CompletedLessons:   make(map[curriculum.LessonID]bool),
		CompletedUnitTests: make(map[curriculum.UnitID]bool),
		Lessons:            make(map[curriculum.LessonID]LessonEntry),
		UnitTests:          make(map[curriculum.UnitID]UnitTestEntry),
	}
}

// Clone returns a deep copy.
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	c.CompletedLessons = make(map[curriculum.LessonID]bool, len(p.CompletedLessons))
	for k, v := range p.CompletedLessons {
		c.CompletedLessons[k] = v
	}
	c.CompletedUnitTests = make(map[curriculum.UnitID]bool, len(p.CompletedUnitTests))
	for k, v := range p.CompletedUnitTests {
		c.CompletedUnitTests[k] = v
	}
	c.Lessons = make(map[curriculum.LessonID]LessonEntry, len(p.Lessons))
	for k, v := range p.Lessons {
		c.Lessons[k] = v
	}
	c.UnitTests = make(map[curriculum.UnitID]UnitTestEntry, len(p.UnitTests))
	for k, v := range p.UnitTests {
		c.UnitTests[k] = v
	}
	return &c
}

// AllUnitsPassed reports whether every unit of c has a passed unit test.
func (p *UserProgress) AllUnitsPassed(c *curriculum.Curriculum) bool {
	for _, u := range c.Units {
		if !p.CompletedUnitTests[u.ID] {
			return false
		}
	}
	return true
}

// UnitLessonsDone reports whether every lesson of u is completed.
func (p *UserProgress) UnitLessonsDone(u curriculum.Unit) bool {
	for _, l := range u.Lessons {
		if !p.CompletedLessons[l.ID] {
			return false
		}
	}
	return true
}
