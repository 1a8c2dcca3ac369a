package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestPersonaErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("execute: %w", PersonaError{Slug: "athena", Err: ErrPersonaInactive})
	if !errors.Is(err, ErrPersonaInactive) {
		t.Fatalf("expected ErrPersonaInactive in chain")
	}
	if !IsPersonaUnavailable(err) {
		t.Fatalf("expected persona unavailable")
	}
	var pe PersonaError
	if !errors.As(err, &pe) || pe.Slug != "athena" {
		t.Fatalf("expected slug athena, got %+v", pe)
	}
}

func TestInvalidTransitionMessage(t *testing.T) {
	err := InvalidTransitionError{Entity: "task", ID: "t1", From: StatusCompleted, Action: "cancel"}
	want := "invalid task transition: cannot cancel task t1 in status completed"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
}

func TestValidPriority(t *testing.T) {
	for _, p := range []string{"low", "normal", "high", "critical"} {
		if !ValidPriority(p) {
			t.Fatalf("%s should be valid", p)
		}
	}
	if ValidPriority("urgent") {
		t.Fatalf("urgent should be invalid")
	}
}
