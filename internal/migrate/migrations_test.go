package migrate_test

import (
	"context"
	"testing"

	"boardroom/internal/db"
	"boardroom/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	versions, err := migrate.Applied(context.Background(), conn)
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if len(versions) != 6 || versions[0] != 1 || versions[5] != 6 {
		t.Fatalf("unexpected applied versions %v", versions)
	}
	for _, table := range []string{"tasks", "events", "scheduled_actions", "schedule_runs", "knowledge_entries", "synthesized_knowledge", "meetings", "messages", "provider_calls", "api_keys"} {
		var name string
		if err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
