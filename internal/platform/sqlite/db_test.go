package sqlite

import (
	"path/filepath"
	"testing"
)

func TestOpenAndMigrate(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Second run is a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM learning_progress").Scan(&n); err != nil {
		t.Fatalf("learning_progress table missing: %v", err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") should return error")
	}
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_learning_progress.sql", 1, false},
		{"012_add_index.sql", 12, false},
		{"readme.sql", 0, true},
		{"abc_x.sql", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMigrationVersion(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMigrationVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMigrationVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}
