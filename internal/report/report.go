// Package report renders a learner's progress as an xlsx workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

// Sheet names.
const (
	SheetSummary = "Summary"
	SheetLessons = "Lessons"
	SheetUnits   = "Units"
)

// Data is everything a report shows.
type Data struct {
	UserID    string
	Overall   progress.Overall
	Lessons   []progress.LessonView
	Units     []progress.UnitView
	FinalTest progress.FinalTestView
}

// Collect gathers report data from a manager using a single progress snapshot.
func Collect(ctx context.Context, m *progress.Manager) (Data, error) {
	dash, err := m.Dashboard(ctx)
	if err != nil {
		return Data{}, err
	}
	return Data{
		UserID:    m.UserID(),
		Overall:   dash.Overall,
		Lessons:   dash.Lessons,
		Units:     dash.Units,
		FinalTest: dash.FinalTest,
	}, nil
}

// Options controls report rendering.
type Options struct {
	// Language selects number formatting in the summary; zero means English.
	Language    language.Tag
	GeneratedAt time.Time
}

// Write renders d as an xlsx workbook to w.
func Write(w io.Writer, d Data, opts Options) error {
	if opts.Language == language.Und {
		opts.Language = language.English
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now()
	}

	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	if err := writeSummary(f, d, opts, header); err != nil {
		return err
	}

	lessonRows := make([][]any, 0, len(d.Lessons))
	for _, l := range d.Lessons {
		lessonRows = append(lessonRows, []any{
			int(l.LessonID), int(l.UnitID), l.Title, string(l.State), l.Attempts, l.BestScore,
			l.RewardIssued.XP, l.RewardIssued.Coins, l.RewardRemaining.XP, l.RewardRemaining.Coins,
			string(l.LastAttemptDate),
		})
	}
	err = writeTable(f, SheetLessons, header, []any{
		"Lesson", "Unit", "Title", "State", "Attempts", "Best Score",
		"XP Earned", "Coins Earned", "XP Remaining", "Coins Remaining", "Last Attempt",
	}, lessonRows)
	if err != nil {
		return err
	}

	unitRows := make([][]any, 0, len(d.Units))
	for _, u := range d.Units {
		unitRows = append(unitRows, []any{
			int(u.UnitID), u.Title, string(u.State), u.LessonsCompleted, u.LessonsTotal,
			u.TestBestScore, u.TestAttemptsTotal, u.AttemptsLeftToday,
			u.RewardRemaining.XP, u.RewardRemaining.Coins,
		})
	}
	err = writeTable(f, SheetUnits, header, []any{
		"Unit", "Title", "State", "Lessons Done", "Lessons", "Best Test Score",
		"Test Attempts", "Attempts Left Today", "XP Remaining", "Coins Remaining",
	}, unitRows)
	if err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, d Data, opts Options, header int) error {
	p := message.NewPrinter(opts.Language)
	o := d.Overall
	rows := [][]any{
		{"Learner", d.UserID},
		{"Generated", opts.GeneratedAt.UTC().Format(time.RFC3339)},
		{"XP", p.Sprintf("%d", o.XP)},
		{"Coins", p.Sprintf("%d", o.Coins)},
		{"Level", o.Level.Level},
		{"XP To Next Level", p.Sprintf("%d", o.Level.XPToNext)},
		{"Lessons", p.Sprintf("%d / %d (%.1f%%)", o.LessonsCompleted, o.LessonsTotal, o.LessonsPercent)},
		{"Unit Tests", p.Sprintf("%d / %d (%.1f%%)", o.UnitsCompleted, o.UnitsTotal, o.UnitsPercent)},
		{"Final Test", string(d.FinalTest.State)},
		{"Overall", p.Sprintf("%.1f%%", o.OverallPercent)},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("writing summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(rows)), header); err != nil {
		return fmt.Errorf("styling summary: %w", err)
	}
	return f.SetColWidth(SheetSummary, "A", "B", 24)
}

func writeTable(f *excelize.File, sheet string, header int, columns []any, rows [][]any) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("creating sheet %s: %w", sheet, err)
	}
	if err := f.SetSheetRow(sheet, "A1", &columns); err != nil {
		return fmt.Errorf("writing %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
