package telemetry

import (
	"context"
	"testing"
	"time"

	"boardroom/internal/db"
	"boardroom/internal/logging"
	"boardroom/internal/migrate"
	"boardroom/internal/repo"
)

func TestStorePersistsAndRestores(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)

	s := NewStore(repo.Repo{DB: conn}, 24*time.Hour, 100, logging.Nop())
	s.Start()
	s.Record(rec("stale", "anthropic", "athena", 100, false, now.Add(-48*time.Hour)))
	s.Record(rec("fresh", "gemini", "griffin", 800, true, now))
	s.Close()

	restored := NewStore(repo.Repo{DB: conn}, 24*time.Hour, 100, logging.Nop())
	if err := restored.Restore(ctx, now); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap := restored.Snapshot()
	if len(snap) != 1 || snap[0].ID != "fresh" || !snap[0].Fallback {
		t.Fatalf("unexpected restored records %+v", snap)
	}

	if _, err := s.Prune(ctx, now); err != nil {
		t.Fatalf("prune: %v", err)
	}
	rows, err := repo.Repo{DB: conn}.ListProviderCalls(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "fresh" {
		t.Fatalf("prune left %+v", rows)
	}
}
