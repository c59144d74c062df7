package curriculum_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
)

const testCurriculumYAML = `
version: test
final_test:
  max_xp: 200
  max_coins: 100
  unlock_cost: 100
units:
  - id: 1
    title: Basics
    unit_test: {max_xp: 100, max_coins: 50}
    lessons:
      - {id: 1, title: One, max_xp: 25, max_coins: 15}
      - {id: 2, title: Two, max_xp: 25, max_coins: 15}
  - id: 2
    title: Advanced
    unit_test: {max_xp: 100, max_coins: 50}
    lessons:
      - {id: 3, title: Three, max_xp: 30, max_coins: 20}
`

func TestLoad_File(t *testing.T) {
	path := writeCurriculum(t, testCurriculumYAML)

	c, err := curriculum.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Version != "test" {
		t.Errorf("Version = %q, want test", c.Version)
	}
	if c.TotalLessons() != 3 {
		t.Errorf("TotalLessons() = %d, want 3", c.TotalLessons())
	}
	if c.FinalTest.UnlockCost != 100 || c.FinalTest.MaxXP != 200 {
		t.Errorf("FinalTest = %+v, want unlock 100, max xp 200", c.FinalTest)
	}
}

func TestLoad_Defaults(t *testing.T) {
	c, err := curriculum.Parse([]byte(testCurriculumYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.PassingScore != curriculum.DefaultPassingScore {
		t.Errorf("PassingScore = %d, want %d", c.PassingScore, curriculum.DefaultPassingScore)
	}
	if c.DailyUnitTestLimit != curriculum.DefaultDailyUnitTestLimit {
		t.Errorf("DailyUnitTestLimit = %d, want %d", c.DailyUnitTestLimit, curriculum.DefaultDailyUnitTestLimit)
	}
}

func TestLoad_Directory(t *testing.T) {
	path := writeCurriculum(t, testCurriculumYAML)

	c, err := curriculum.Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if len(c.Units) != 2 {
		t.Errorf("Units = %d, want 2", len(c.Units))
	}
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	c, err := curriculum.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if len(c.Units) == 0 {
		t.Error("default curriculum has no units")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := curriculum.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no units", `version: x`},
		{"unit without lessons", `
units:
  - id: 1
    lessons: []
`},
		{"descending unit ids", `
units:
  - id: 2
    lessons: [{id: 1, max_xp: 1, max_coins: 1}]
  - id: 1
    lessons: [{id: 2, max_xp: 1, max_coins: 1}]
`},
		{"duplicate lesson ids", `
units:
  - id: 1
    lessons: [{id: 1, max_xp: 1, max_coins: 1}]
  - id: 2
    lessons: [{id: 1, max_xp: 1, max_coins: 1}]
`},
		{"negative reward", `
units:
  - id: 1
    lessons: [{id: 1, max_xp: -1, max_coins: 1}]
`},
		{"negative unlock cost", `
final_test: {unlock_cost: -5}
units:
  - id: 1
    lessons: [{id: 1, max_xp: 1, max_coins: 1}]
`},
		{"passing score out of range", `
passing_score: 150
units:
  - id: 1
    lessons: [{id: 1, max_xp: 1, max_coins: 1}]
`},
		{"malformed yaml", `units: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := curriculum.Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() should return error")
			}
		})
	}
}

func TestCurriculum_Lookups(t *testing.T) {
	c, err := curriculum.Parse([]byte(testCurriculumYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	l, err := c.Lesson(2)
	if err != nil || l.Title != "Two" {
		t.Errorf("Lesson(2) = %+v, %v", l, err)
	}

	u, err := c.UnitOf(3)
	if err != nil || u.ID != 2 {
		t.Errorf("UnitOf(3) = unit %d, %v; want unit 2", u.ID, err)
	}

	if _, ok, _ := c.PreviousUnit(1); ok {
		t.Error("PreviousUnit(1) should not exist")
	}
	prevUnit, ok, err := c.PreviousUnit(2)
	if err != nil || !ok || prevUnit.ID != 1 {
		t.Errorf("PreviousUnit(2) = %d, %v, %v; want 1", prevUnit.ID, ok, err)
	}

	prev, ok, err := c.PreviousLesson(2)
	if err != nil || !ok || prev.ID != 1 {
		t.Errorf("PreviousLesson(2) = %d, %v, %v; want 1", prev.ID, ok, err)
	}
	// Lesson 3 opens unit 2, so it has no predecessor inside its unit.
	if _, ok, _ := c.PreviousLesson(3); ok {
		t.Error("PreviousLesson(3) should not exist")
	}

	if got := c.LessonIDs(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("LessonIDs() = %v", got)
	}
}

func TestCurriculum_NotFound(t *testing.T) {
	c := curriculum.Default()

	if _, err := c.Lesson(9999); !errors.Is(err, curriculum.ErrNotFound) {
		t.Errorf("Lesson(9999) error = %v, want ErrNotFound", err)
	}
	if _, err := c.Unit(9999); !errors.Is(err, curriculum.ErrNotFound) {
		t.Errorf("Unit(9999) error = %v, want ErrNotFound", err)
	}
	if _, err := c.UnitOf(9999); !errors.Is(err, curriculum.ErrNotFound) {
		t.Errorf("UnitOf(9999) error = %v, want ErrNotFound", err)
	}
	if _, _, err := c.PreviousUnit(9999); !errors.Is(err, curriculum.ErrNotFound) {
		t.Errorf("PreviousUnit(9999) error = %v, want ErrNotFound", err)
	}
	if _, _, err := c.PreviousLesson(9999); !errors.Is(err, curriculum.ErrNotFound) {
		t.Errorf("PreviousLesson(9999) error = %v, want ErrNotFound", err)
	}
}

func writeCurriculum(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, curriculum.DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing curriculum: %v", err)
	}
	return path
}
