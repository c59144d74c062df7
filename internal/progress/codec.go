package progress

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/p-n-ai/pai-progress/internal/curriculum"
)

const recordSchemaVersion = 1

// record is the persisted JSON shape of UserProgress.
type record struct {
	SchemaVersion            int                                 `json:"schemaVersion"`
	XP                       int                                 `json:"xp"`
	Coins                    int                                 `json:"coins"`
	CompletedLessons         []curriculum.LessonID               `json:"completedLessons"`
	CompletedUnitTests       []curriculum.UnitID                 `json:"completedUnitTests"`
	FinalTestCompleted       bool                                `json:"finalTestCompleted"`
	FinalTestUnlocked        bool                                `json:"finalTestUnlocked"`
	FinalTestLastAttemptDate Date                                `json:"finalTestLastAttemptDate"`
	LessonLedger             map[curriculum.LessonID]LessonEntry `json:"lessonLedger"`
	UnitTestAttempts         map[curriculum.UnitID]UnitTestEntry `json:"unitTestAttempts"`
	FinalTest                FinalTestEntry                      `json:"finalTest"`
}

// Encode serializes p into its persisted JSON form. Sets are written as sorted arrays.
func Encode(p *UserProgress) ([]byte, error) {
	r := record{
		SchemaVersion:            recordSchemaVersion,
		XP:                       p.XP,
		Coins:                    p.Coins,
		CompletedLessons:         sortedKeys(p.CompletedLessons),
		CompletedUnitTests:       sortedKeys(p.CompletedUnitTests),
		FinalTestCompleted:       p.FinalTestCompleted,
		FinalTestUnlocked:        p.FinalTestUnlocked,
		FinalTestLastAttemptDate: p.FinalTestLastAttemptDate,
		LessonLedger:             p.Lessons,
		UnitTestAttempts:         p.UnitTests,
		FinalTest:                p.FinalTest,
	}
	if r.LessonLedger == nil {
		r.LessonLedger = map[curriculum.LessonID]LessonEntry{}
	}
	if r.UnitTestAttempts == nil {
		r.UnitTestAttempts = map[curriculum.UnitID]UnitTestEntry{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding progress: %w", err)
	}
	return data, nil
}

// Decode validates and parses a persisted document. Anything that does not match the
// record schema, or breaks record invariants, yields ErrMalformedRecord.
func Decode(data []byte) (*UserProgress, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	p := New()
	p.XP = r.XP
	p.Coins = r.Coins
	for _, id := range r.CompletedLessons {
		p.CompletedLessons[id] = true
	}
	for _, id := range r.CompletedUnitTests {
		p.CompletedUnitTests[id] = true
	}
	p.FinalTestCompleted = r.FinalTestCompleted
	p.FinalTestUnlocked = r.FinalTestUnlocked
	p.FinalTestLastAttemptDate = r.FinalTestLastAttemptDate
	for id, e := range r.LessonLedger {
		p.Lessons[id] = e
	}
	for id, e := range r.UnitTestAttempts {
		p.UnitTests[id] = e
	}
	p.FinalTest = r.FinalTest

	for id := range p.CompletedLessons {
		if p.Lessons[id].Attempts < 1 {
			return nil, fmt.Errorf("%w: lesson %d completed without an attempt", ErrMalformedRecord, id)
		}
	}
	return p, nil
}

func sortedKeys[K ~int](m map[K]bool) []K {
	keys := make([]K, 0, len(m))
	for k, v := range m {
		if v {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
