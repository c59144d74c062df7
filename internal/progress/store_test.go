package progress

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-progress/internal/platform/cache"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/platform/sqlite"
)

// jsonEqual reports whether a and b hold the same JSON value.
func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", a, err)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", b, err)
	}
	return reflect.DeepEqual(va, vb)
}

// testRepository exercises the Repository contract shared by every backend.
func testRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := t.Context()
	user := "user-" + uuid.NewString()

	doc, err := repo.Load(ctx, user)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc != nil {
		t.Fatalf("Load() of a missing document = %+v, want nil", doc)
	}

	v, err := repo.Save(ctx, user, []byte(`{"v":1}`), 0)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if v != 1 {
		t.Errorf("Save() version = %d, want 1", v)
	}

	doc, err = repo.Load(ctx, user)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc == nil {
		t.Fatal("Load() = nil after Save()")
	}
	if doc.UserID != user || doc.Version != 1 || doc.UpdatedAt.IsZero() {
		t.Errorf("Load() = %s v%d at %v, want %s v1 with a timestamp", doc.UserID, doc.Version, doc.UpdatedAt, user)
	}
	if !jsonEqual(t, doc.Data, []byte(`{"v":1}`)) {
		t.Errorf("Data = %s, want {\"v\":1}", doc.Data)
	}

	var conflict *VersionConflictError
	_, err = repo.Save(ctx, user, []byte(`{"v":2}`), 0)
	if !errors.As(err, &conflict) {
		t.Fatalf("create over an existing document: error = %v, want *VersionConflictError", err)
	}
	if conflict.Expected != 0 || conflict.Current != 1 {
		t.Errorf("conflict = %+v, want expected 0, current 1", conflict)
	}

	v, err = repo.Save(ctx, user, []byte(`{"v":2}`), 1)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if v != 2 {
		t.Errorf("Save() version = %d, want 2", v)
	}

	_, err = repo.Save(ctx, user, []byte(`{"v":3}`), 1)
	if !errors.As(err, &conflict) {
		t.Fatalf("stale version: error = %v, want *VersionConflictError", err)
	}
	if conflict.Current != 2 {
		t.Errorf("conflict.Current = %d, want 2", conflict.Current)
	}

	doc, err = repo.Load(ctx, user)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.Version != 2 || !jsonEqual(t, doc.Data, []byte(`{"v":2}`)) {
		t.Errorf("Load() = v%d %s, want v2 {\"v\":2}", doc.Version, doc.Data)
	}
}

func TestMemoryStore(t *testing.T) {
	testRepository(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.HealthCheck(t.Context()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	testRepository(t, store)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("LEARN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEARN_TEST_REDIS_URL not set")
	}

	c, err := cache.New(t.Context(), url, "pai-progress-test")
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	store, err := NewRedisStore(c, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	testRepository(t, store)
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := t.Context()

	ctr, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("progress"),
		postgres.WithUsername("progress"),
		postgres.WithPassword("progress"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("postgres.Run() error = %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}

	db, err := database.New(ctx, dsn, 4, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store, err := NewPostgresStore(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	testRepository(t, store)

	events := NewPostgresEventLogger(db.Pool)
	if err := events.LogEvent(NewEvent("user-1", EventLessonCompleted, map[string]any{"lesson_id": 1})); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	var n int
	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM progress_events WHERE user_id = $1`, "user-1").Scan(&n); err != nil {
		t.Fatalf("count events error = %v", err)
	}
	if n != 1 {
		t.Errorf("progress_events rows = %d, want 1", n)
	}
}

func TestNewStores_RejectNil(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Error("NewSQLiteStore(nil) should return error")
	}
	if _, err := NewRedisStore(nil, 0); err == nil {
		t.Error("NewRedisStore(nil) should return error")
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Error("NewPostgresStore(nil) should return error")
	}
}
