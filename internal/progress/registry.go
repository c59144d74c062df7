package progress

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxUsers bounds how many managers a Registry keeps in memory.
const DefaultMaxUsers = 10000

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

// ValidateUserID reports whether id is usable as a progress key.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid user id %q", id)
	}
	return nil
}

// Factory builds a Manager for a user id.
type Factory func(userID string) (*Manager, error)

// Registry keeps one Manager per recently active user. The least recently used
// manager is dropped once maxUsers is exceeded; its state is reloaded from the
// repository on the next request.
type Registry struct {
	factory Factory

	mu       sync.Mutex
	managers *lru.Cache[string, *Manager]
}

// NewRegistry creates a registry that builds managers with factory. maxUsers <= 0
// uses DefaultMaxUsers.
func NewRegistry(factory Factory, maxUsers int) *Registry {
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	managers, _ := lru.NewWithEvict(maxUsers, func(userID string, _ *Manager) {
		slog.Debug("evicting idle progress manager", "user_id", userID)
	})
	return &Registry{
		factory:  factory,
		managers: managers,
	}
}

// ConfigFactory returns a Factory that copies base and sets the user id.
func ConfigFactory(base ManagerConfig) Factory {
	return func(userID string) (*Manager, error) {
		cfg := base
		cfg.UserID = userID
		return NewManager(cfg)
	}
}

// Get returns the user's manager, creating it on first use.
func (r *Registry) Get(userID string) (*Manager, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers.Get(userID); ok {
		return m, nil
	}
	m, err := r.factory(userID)
	if err != nil {
		return nil, fmt.Errorf("create progress manager for %s: %w", userID, err)
	}
	r.managers.Add(userID, m)
	return m, nil
}

// Len returns the number of managers held.
func (r *Registry) Len() int {
	return r.managers.Len()
}
