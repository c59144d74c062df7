package progress

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

type recordingPublisher struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, body []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, body)
	return nil
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("user-1", EventLevelUp, map[string]any{"to": 2})
	if e.ID == "" {
		t.Error("ID should be set")
	}
	if e.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", e.UserID)
	}
	if d := time.Since(e.CreatedAt); d < 0 || d > time.Second {
		t.Errorf("CreatedAt = %v, want now", e.CreatedAt)
	}
	if other := NewEvent("user-1", EventLevelUp, nil); other.ID == e.ID {
		t.Error("event IDs should be unique")
	}
}

func TestMemoryEventLogger(t *testing.T) {
	l := NewMemoryEventLogger()
	if err := l.LogEvent(Event{EventType: EventProgressReset}); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	if err := l.LogEvent(Event{}); err == nil {
		t.Error("LogEvent() without a type should fail")
	}
	if got := l.Types(); !slices.Equal(got, []string{EventProgressReset}) {
		t.Errorf("Types() = %v, want [%s]", got, EventProgressReset)
	}
	if l.Events()[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
}

func TestPublisherEventLogger(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewPublisherEventLogger(pub, time.Second)

	e := NewEvent("user-1", EventUnitTestPassed, map[string]any{"unit_id": 2})
	if err := l.LogEvent(e); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	if len(pub.keys) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.keys))
	}
	if pub.keys[0] != "progress.unit_test_passed" {
		t.Errorf("routing key = %q, want progress.unit_test_passed", pub.keys[0])
	}

	var got Event
	if err := json.Unmarshal(pub.bodies[0], &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != e.ID || got.EventType != EventUnitTestPassed {
		t.Errorf("published event = %s/%s, want %s/%s", got.ID, got.EventType, e.ID, EventUnitTestPassed)
	}

	pub.err = errors.New("channel closed")
	if err := l.LogEvent(e); err == nil || !strings.Contains(err.Error(), "channel closed") {
		t.Errorf("LogEvent() error = %v, want the publish failure", err)
	}
}

func TestMultiEventLogger(t *testing.T) {
	mem := NewMemoryEventLogger()
	failing := NewPublisherEventLogger(&recordingPublisher{err: errors.New("down")}, time.Second)
	multi := MultiEventLogger{failing, mem}

	err := multi.LogEvent(NewEvent("user-1", EventLessonAttempted, nil))
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("LogEvent() error = %v, want the failing logger's error", err)
	}
	if got := mem.Types(); !slices.Equal(got, []string{EventLessonAttempted}) {
		t.Errorf("Types() = %v; a failing logger should not block the others", got)
	}
}

func TestManager_EventFailureDoesNotFailOperation(t *testing.T) {
	failing := NewPublisherEventLogger(&recordingPublisher{err: errors.New("down")}, time.Second)
	env := newTestEnv(t, func(c *ManagerConfig) { c.Events = failing })

	res, err := env.manager.CompleteLesson(t.Context(), 1, 100)
	if err != nil {
		t.Fatalf("CompleteLesson() error = %v", err)
	}
	if !res.Success || res.Warning != nil {
		t.Errorf("CompleteLesson() = %+v, want success without warning", res.Outcome)
	}
}
