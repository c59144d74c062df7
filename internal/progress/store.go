package progress

import (
	"context"
	"sync"
	"time"
)

// Document is a stored progress record with its optimistic-concurrency version.
type Document struct {
	UserID    string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Repository persists one progress document per user.
type Repository interface {
	// Load returns the user's document, or nil and no error when none exists.
	Load(ctx context.Context, userID string) (*Document, error)
	// Save stores data if the stored version equals expectedVersion (0 for a new
	// document) and returns the new version. A mismatch returns *VersionConflictError.
	Save(ctx context.Context, userID string, data []byte, expectedVersion int64) (int64, error)
}

// MemoryStore is an in-memory implementation of Repository.
type MemoryStore struct {
	docs map[string]Document
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
	}
}

func (s *MemoryStore) Load(_ context.Context, userID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[userID]
	if !ok {
		return nil, nil
	}
	doc.Data = append([]byte(nil), doc.Data...)
	return &doc, nil
}

func (s *MemoryStore) Save(_ context.Context, userID string, data []byte, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.docs[userID].Version
	if current != expectedVersion {
		return 0, &VersionConflictError{Expected: expectedVersion, Current: current}
	}

	next := current + 1
	s.docs[userID] = Document{
		UserID:    userID,
		Data:      append([]byte(nil), data...),
		Version:   next,
		UpdatedAt: time.Now(),
	}
	return next, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}
