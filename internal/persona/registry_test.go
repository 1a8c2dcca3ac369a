package persona

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"boardroom/internal/config"
	"boardroom/internal/domain"
	"boardroom/internal/logging"
)

func TestResolve(t *testing.T) {
	reg := NewRegistry(config.Default())
	m, err := reg.Resolve("athena")
	if err != nil {
		t.Fatalf("resolve athena: %v", err)
	}
	if m.Provider != "anthropic" {
		t.Fatalf("unexpected provider %s", m.Provider)
	}
	_, err = reg.Resolve("ghost")
	if !errors.Is(err, domain.ErrPersonaNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var pe domain.PersonaError
	if !errors.As(err, &pe) || pe.Slug != "ghost" {
		t.Fatalf("expected PersonaError for ghost, got %#v", err)
	}
}

func TestSetActiveSwapsSnapshot(t *testing.T) {
	reg := NewRegistry(config.Default())
	before := reg.Snapshot()
	if _, err := reg.SetActive("griffin", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := reg.Resolve("griffin"); !errors.Is(err, domain.ErrPersonaInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
	// a snapshot captured earlier keeps its view
	if _, err := before.Resolve("griffin"); err != nil {
		t.Fatalf("old snapshot changed: %v", err)
	}
	if m, ok := reg.Snapshot().Lookup("griffin"); !ok || m.Active {
		t.Fatalf("lookup should still find the inactive member")
	}
}

func TestReassignValidatesProvider(t *testing.T) {
	reg := NewRegistry(config.Default())
	m, err := reg.Reassign("athena", "gemini", "gemini-2.5-pro")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if m.Provider != "gemini" || m.Model != "gemini-2.5-pro" {
		t.Fatalf("unexpected member %+v", m)
	}
	var ve domain.ValidationError
	if _, err := reg.Reassign("athena", "openai", ""); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got, _ := reg.Resolve("athena"); got.Provider != "gemini" {
		t.Fatalf("failed reassignment must not apply")
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName(domain.BoardMember{Slug: "x", Name: "Athena", Title: "CSO"}); got != "Athena, CSO" {
		t.Fatalf("got %q", got)
	}
	if got := DisplayName(domain.BoardMember{Slug: "x"}); got != "x" {
		t.Fatalf("got %q", got)
	}
}

func TestWatcherReloadsConfig(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(config.Default())
	reloaded := make(chan struct{}, 1)
	w := &Watcher{Registry: reg, Path: path, Log: logging.Nop(), OnReload: func(*config.Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(config.GenerateDefault(), "    name: Nova\n", "    name: Nova\n    active: false\n", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatalf("config was not reloaded")
	}
	if _, err := reg.Resolve("nova"); !errors.Is(err, domain.ErrPersonaInactive) {
		t.Fatalf("expected nova inactive after reload, got %v", err)
	}

	// an invalid file is ignored and the previous board stays
	if err := os.WriteFile(path, []byte("members: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	if _, err := reg.Resolve("athena"); err != nil {
		t.Fatalf("invalid reload replaced the board: %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watcher: %v", err)
	}
}
