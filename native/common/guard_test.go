package common

import (
	"errors"
	"testing"
)

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestPausesToggle(t *testing.T) {
	pauses := NewPauses()
	if err := Guard(pauses, "lending"); err != nil {
		t.Fatalf("expected unpaused module, got %v", err)
	}
	if !pauses.Set(" Lending ", true) {
		t.Fatalf("expected pause to change state")
	}
	if pauses.Set("lending", true) {
		t.Fatalf("expected repeated pause to be a no-op")
	}
	if err := Guard(pauses, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "swap"); err != nil {
		t.Fatalf("other modules must stay unpaused, got %v", err)
	}
	if !pauses.Set("lending", false) {
		t.Fatalf("expected unpause to change state")
	}
	if pauses.IsPaused("lending") {
		t.Fatalf("expected lending unpaused")
	}
}
