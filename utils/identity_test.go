package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "identity")

	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}
	if first == "" {
		t.Fatal("Expected a non-empty identity")
	}

	// Later loads must return the exact same value.
	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("Failed to load identity: %v", err)
	}
	if second != first {
		t.Errorf("Expected stable identity '%s', got '%s'", first, second)
	}
}

func TestLoadOrCreateIdentityTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("  abc-123\n"), 0o600); err != nil {
		t.Fatalf("Failed to seed identity file: %v", err)
	}

	id, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("Failed to load identity: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("Expected 'abc-123', got '%s'", id)
	}
}

func TestLoadOrCreateIdentityReplacesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("Failed to seed identity file: %v", err)
	}

	id, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("Failed to load identity: %v", err)
	}
	if id == "" {
		t.Error("Expected an empty identity file to be regenerated")
	}
}
