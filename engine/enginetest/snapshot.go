// Package enginetest builds small snapshot files for tests.
package enginetest

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2" // load duckdb driver
)

// Fixture statements. The "morning" group has three dates; its last row
// ranks vidA first, then vidB, then vidC (absent). "angerme" has no rows.
var fixture = []string{
	`CREATE TABLE __source__ (db_key VARCHAR, screen_name VARCHAR)`,
	`INSERT INTO __source__ VALUES ('morning', 'モーニング娘。'), ('angerme', 'アンジュルム'), ('', 'unnamed'), ('morning', 'モーニング娘。')`,
	`CREATE TABLE __title__ (youtube_id VARCHAR, cleaned_title VARCHAR)`,
	`INSERT INTO __title__ VALUES ('vidA', 'Song A'), ('vidB', 'Song B')`,
	`CREATE TABLE morning ("index" TIMESTAMP, "vidA" BIGINT, "vidB" BIGINT, "vidC" BIGINT)`,
	`INSERT INTO morning VALUES
		('2024-01-01 00:00:00', 0, 100, NULL),
		('2024-01-02 00:00:00', 50, 150, 10),
		('2024-01-05 00:00:00', 200, 180, NULL)`,
	`CREATE TABLE angerme ("index" TIMESTAMP, "vidZ" BIGINT)`,
}

// WriteSnapshot creates the fixture database at path.
func WriteSnapshot(t testing.TB, path string) {
	t.Helper()

	db, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()

	for _, stmt := range fixture {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture %q: %v", stmt, err)
		}
	}
}

// SnapshotBytes returns the fixture database file contents.
func SnapshotBytes(t testing.TB) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.duckdb")
	WriteSnapshot(t, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	return data
}
