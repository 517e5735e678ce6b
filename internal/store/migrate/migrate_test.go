package migrate

import (
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAppliesAllMigrations(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, "")

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"page", "image", "user", "site_stats", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRunSeedsSummaryRow(t *testing.T) {
	db := openTestDB(t)
	if err := NewRunner(db, "").Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var rows, good int64
	if err := db.QueryRow(`SELECT COUNT(*), MAX(ss_good_articles) FROM site_stats WHERE ss_row_id = 1`).Scan(&rows, &good); err != nil {
		t.Fatalf("query site_stats: %v", err)
	}
	if rows != 1 || good != 0 {
		t.Errorf("summary row: rows=%d good=%d, want rows=1 good=0", rows, good)
	}
}

func TestRunHonoursPrefix(t *testing.T) {
	db := openTestDB(t)
	if err := NewRunner(db, "mw_").Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"mw_page", "mw_site_stats", "mw_schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, "")

	if err := r.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	cur, pending, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 2 || pending != 0 {
		t.Errorf("expected version=2 pending=0, got version=%d pending=%d", cur, pending)
	}
}

func TestStatusReportsCorrectly(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db, "")

	cur, pending, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 0 || pending != 2 {
		t.Errorf("before run: expected version=0 pending=2, got version=%d pending=%d", cur, pending)
	}

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, pending, err = r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 2 || pending != 0 {
		t.Errorf("after run: expected version=2 pending=0, got version=%d pending=%d", cur, pending)
	}
}
