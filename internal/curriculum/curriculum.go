package curriculum

import (
	"errors"
	"fmt"
)

const (
	// DefaultPassingScore is the minimum score that passes a unit or final test.
	DefaultPassingScore = 70
	// DefaultDailyUnitTestLimit caps unit test attempts per calendar day.
	DefaultDailyUnitTestLimit = 3
)

// ErrNotFound is returned for unknown unit or lesson ids.
var ErrNotFound = errors.New("not found")

// Validate checks the curriculum shape, fills defaults and builds the lookup indexes.
// It must be called before any lookup; the loaders call it.
func (c *Curriculum) Validate() error {
	if c.PassingScore == 0 {
		c.PassingScore = DefaultPassingScore
	}
	if c.PassingScore < 1 || c.PassingScore > 100 {
		return fmt.Errorf("passing_score must be within 1..100, got %d", c.PassingScore)
	}
	if c.DailyUnitTestLimit == 0 {
		c.DailyUnitTestLimit = DefaultDailyUnitTestLimit
	}
	if c.DailyUnitTestLimit < 1 {
		return fmt.Errorf("daily_unit_test_limit must be positive, got %d", c.DailyUnitTestLimit)
	}
	if len(c.Units) == 0 {
		return fmt.Errorf("curriculum has no units")
	}
	if c.FinalTest.UnlockCost < 0 {
		return fmt.Errorf("final_test.unlock_cost must not be negative")
	}
	if err := checkTest("final_test", c.FinalTest.Test); err != nil {
		return err
	}

	units := make(map[UnitID]int, len(c.Units))
	lessons := make(map[LessonID]lessonRef)
	var prevUnit UnitID
	var prevLesson LessonID
	for ui, u := range c.Units {
		if ui > 0 && u.ID <= prevUnit {
			return fmt.Errorf("unit %d: ids must be unique and ascending", u.ID)
		}
		prevUnit = u.ID
		if len(u.Lessons) == 0 {
			return fmt.Errorf("unit %d has no lessons", u.ID)
		}
		if err := checkTest(fmt.Sprintf("unit %d test", u.ID), u.UnitTest); err != nil {
			return err
		}
		units[u.ID] = ui
		for li, l := range u.Lessons {
			if len(lessons) > 0 && l.ID <= prevLesson {
				return fmt.Errorf("lesson %d: ids must be unique and ascending", l.ID)
			}
			prevLesson = l.ID
			if l.MaxXP < 0 || l.MaxCoins < 0 {
				return fmt.Errorf("lesson %d: reward maxima must not be negative", l.ID)
			}
			lessons[l.ID] = lessonRef{unit: ui, lesson: li}
		}
	}

	c.units = units
	c.lessons = lessons
	c.lessonCount = len(lessons)
	return nil
}

func checkTest(name string, t Test) error {
	if t.MaxXP < 0 || t.MaxCoins < 0 {
		return fmt.Errorf("%s: reward maxima must not be negative", name)
	}
	return nil
}

// Lesson returns the lesson with the given id.
func (c *Curriculum) Lesson(id LessonID) (Lesson, error) {
	ref, ok := c.lessons[id]
	if !ok {
		return Lesson{}, fmt.Errorf("lesson %d: %w", id, ErrNotFound)
	}
	return c.Units[ref.unit].Lessons[ref.lesson], nil
}

// Unit returns the unit with the given id.
func (c *Curriculum) Unit(id UnitID) (Unit, error) {
	i, ok := c.units[id]
	if !ok {
		return Unit{}, fmt.Errorf("unit %d: %w", id, ErrNotFound)
	}
	return c.Units[i], nil
}

// UnitOf returns the unit containing the lesson.
func (c *Curriculum) UnitOf(id LessonID) (Unit, error) {
	ref, ok := c.lessons[id]
	if !ok {
		return Unit{}, fmt.Errorf("lesson %d: %w", id, ErrNotFound)
	}
	return c.Units[ref.unit], nil
}

// PreviousUnit returns the unit preceding id. ok is false for the first unit.
func (c *Curriculum) PreviousUnit(id UnitID) (prev Unit, ok bool, err error) {
	i, found := c.units[id]
	if !found {
		return Unit{}, false, fmt.Errorf("unit %d: %w", id, ErrNotFound)
	}
	if i == 0 {
		return Unit{}, false, nil
	}
	return c.Units[i-1], true, nil
}

// PreviousLesson returns the lesson preceding id within the same unit.
// ok is false for the first lesson of a unit.
func (c *Curriculum) PreviousLesson(id LessonID) (prev Lesson, ok bool, err error) {
	ref, found := c.lessons[id]
	if !found {
		return Lesson{}, false, fmt.Errorf("lesson %d: %w", id, ErrNotFound)
	}
	if ref.lesson == 0 {
		return Lesson{}, false, nil
	}
	return c.Units[ref.unit].Lessons[ref.lesson-1], true, nil
}

// FirstUnit returns the first unit of the course.
func (c *Curriculum) FirstUnit() Unit {
	return c.Units[0]
}

// TotalLessons returns the number of lessons across all units.
func (c *Curriculum) TotalLessons() int {
	return c.lessonCount
}

// LessonIDs returns every lesson id in curriculum order.
func (c *Curriculum) LessonIDs() []LessonID {
	ids := make([]LessonID, 0, c.lessonCount)
	for _, u := range c.Units {
		for _, l := range u.Lessons {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// LessonIDs returns the unit's lesson ids in order.
func (u Unit) LessonIDs() []LessonID {
	ids := make([]LessonID, len(u.Lessons))
	for i, l := range u.Lessons {
		ids[i] = l.ID
	}
	return ids
}
