package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-progress/internal/platform/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LEARN_ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Progress.Backend = config.BackendMemory
	cfg.Progress.EventsToPostgres = false
	cfg.Broker.Enabled = false
	cfg.Progress.LevelThresholds = nil
	cfg.Progress.Timezone = "UTC"
	cfg.CurriculumPath = ""
	return cfg
}

func TestHealthEndpoints(t *testing.T) {
	app, err := build(t.Context(), testConfig(t))
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer app.Close()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			app.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestBuild_SQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Progress.Backend = config.BackendSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "nested", "progress.db")

	app, err := build(t.Context(), cfg)
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer app.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/users/alice/lessons/1/complete", strings.NewReader(`{"score": 80}`))
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "warning") {
		t.Errorf("unexpected persistence warning: %s", rec.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
}

func TestBuild_CustomCurve(t *testing.T) {
	cfg := testConfig(t)
	cfg.Progress.LevelThresholds = []int{0, 10, 20}

	app, err := build(t.Context(), cfg)
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer app.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/users/bob/lessons/1/complete", strings.NewReader(`{"score": 100}`))
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"level":2`) {
		t.Errorf("body = %s, want level 2 on the custom curve", rec.Body)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad thresholds", func(c *config.Config) { c.Progress.LevelThresholds = []int{5, 10} }},
		{"missing curriculum", func(c *config.Config) { c.CurriculumPath = filepath.Join(t.TempDir(), "missing.yaml") }},
		{"bad timezone", func(c *config.Config) { c.Progress.Timezone = "Nowhere/Special" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if _, err := build(t.Context(), cfg); err == nil {
				t.Fatal("build() should fail")
			}
		})
	}
}
