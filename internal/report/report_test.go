package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

func TestWrite(t *testing.T) {
	ctx := t.Context()
	m, err := progress.NewManager(progress.ManagerConfig{
		UserID:     "alice",
		Curriculum: curriculum.Default(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	for _, id := range []curriculum.LessonID{1, 2, 3} {
		if _, err := m.CompleteLesson(ctx, id, 100); err != nil {
			t.Fatalf("CompleteLesson(%d) error = %v", id, err)
		}
	}
	if _, err := m.TakeUnitTest(ctx, 1, 100); err != nil {
		t.Fatalf("TakeUnitTest() error = %v", err)
	}

	data, err := Collect(ctx, m)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var buf bytes.Buffer
	opts := Options{Language: language.English, GeneratedAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	if err := Write(&buf, data, opts); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 3 || got[0] != SheetSummary || got[1] != SheetLessons || got[2] != SheetUnits {
		t.Fatalf("sheets = %v", got)
	}

	checks := []struct {
		sheet, cell, want string
	}{
		{SheetSummary, "B1", "alice"},
		{SheetSummary, "B2", "2026-03-10T00:00:00Z"},
		{SheetSummary, "B3", "180"},
		{SheetSummary, "B7", "3 / 10 (30.0%)"},
		{SheetSummary, "B8", "1 / 3 (33.3%)"},
		{SheetLessons, "A1", "Lesson"},
		{SheetLessons, "D2", "completed"},
		{SheetLessons, "D5", "available"},
		{SheetLessons, "D6", "locked"},
		{SheetUnits, "C2", "test_passed"},
		{SheetUnits, "C3", "unlocked"},
	}
	for _, c := range checks {
		got, err := f.GetCellValue(c.sheet, c.cell)
		if err != nil {
			t.Fatalf("GetCellValue(%s!%s) error = %v", c.sheet, c.cell, err)
		}
		if got != c.want {
			t.Errorf("%s!%s = %q, want %q", c.sheet, c.cell, got, c.want)
		}
	}

	rows, err := f.GetRows(SheetLessons)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 11 {
		t.Errorf("lesson rows = %d, want header + 10", len(rows))
	}
}

func TestWrite_ThousandsSeparator(t *testing.T) {
	data := Data{UserID: "bob", Overall: progress.Overall{XP: 12345, Coins: 1500}}

	var buf bytes.Buffer
	if err := Write(&buf, data, Options{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if got, _ := f.GetCellValue(SheetSummary, "B3"); got != "12,345" {
		t.Errorf("XP = %q, want 12,345", got)
	}
	if got, _ := f.GetCellValue(SheetSummary, "B4"); got != "1,500" {
		t.Errorf("Coins = %q, want 1,500", got)
	}
}
