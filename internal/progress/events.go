package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types emitted by the Manager.
const (
	EventLessonAttempted   = "lesson_attempted"
	EventLessonCompleted   = "lesson_completed"
	EventUnitTestTaken     = "unit_test_taken"
	EventUnitTestPassed    = "unit_test_passed"
	EventFinalTestUnlocked = "final_test_unlocked"
	EventFinalTestTaken    = "final_test_taken"
	EventFinalTestPassed   = "final_test_passed"
	EventLevelUp           = "level_up"
	EventProgressReset     = "progress_reset"
)

// Event is a progress change worth recording or broadcasting.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	EventType string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewEvent stamps a new event with an id and creation time.
func NewEvent(userID, eventType string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventType: eventType,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// Types returns the logged event types in order.
func (l *MemoryEventLogger) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]string, len(l.events))
	for i, e := range l.events {
		types[i] = e.EventType
	}
	return types
}

// PostgresEventLogger inserts events into the progress_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO progress_events (id, user_id, event_type, data, created_at)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, $5)`,
		event.ID,
		event.UserID,
		event.EventType,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"user_id", event.UserID,
	)
	return nil
}

// Publisher sends an encoded event to a message broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// PublisherEventLogger forwards events to a broker, routed by "progress.<type>".
type PublisherEventLogger struct {
	publisher Publisher
	timeout   time.Duration
}

func NewPublisherEventLogger(p Publisher, timeout time.Duration) *PublisherEventLogger {
	if timeout <= 0 {
		timeout = dbTimeout
	}
	return &PublisherEventLogger{publisher: p, timeout: timeout}
}

func (l *PublisherEventLogger) LogEvent(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.publisher.Publish(ctx, "progress."+event.EventType, body); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// MultiEventLogger fans an event out to several loggers.
type MultiEventLogger []EventLogger

func (m MultiEventLogger) LogEvent(event Event) error {
	var errs []error
	for _, l := range m {
		if err := l.LogEvent(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
