package marker

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "markers.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	m := New(48.20849, 16.37208, "medical", "field hospital")
	if err := s.Add(m); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	all := s.ListAll()
	if len(all) != 1 {
		t.Fatalf("Expected 1 marker, got %d", len(all))
	}
	got := all[0]
	if got.ID != m.ID || got.Lat != m.Lat || got.Lon != m.Lon ||
		got.Category != m.Category || got.Note != m.Note || got.CreatedAt != m.CreatedAt {
		t.Errorf("Stored marker does not match: %+v vs %+v", got, m)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	m := New(48.2, 16.3, "shelter", "")
	if err := s.Add(m); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	all := reopened.ListAll()
	if len(all) != 1 || all[0].ID != m.ID {
		t.Errorf("Expected the marker to survive a reopen, got %d markers", len(all))
	}
}

func TestSQLiteStoreDuplicateRejected(t *testing.T) {
	s := openTestStore(t)

	m := New(48.2, 16.3, "water", "original")
	if err := s.Add(m); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	conflicting := m
	conflicting.Note = "impostor"
	if err := s.Add(conflicting); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
	if err := s.ReceiveExternal(conflicting); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID on external receive, got %v", err)
	}

	all := s.ListAll()
	if len(all) != 1 || all[0].Note != "original" {
		t.Error("Expected the stored marker to be untouched by the rejected duplicate")
	}
}

func TestSQLiteStoreUpdate(t *testing.T) {
	s := openTestStore(t)

	m := New(48.2, 16.3, "water", "well")
	if err := s.Add(m); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	m.Note = "contaminated"
	m.Category = "danger"
	if err := s.Update(m); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	all := s.ListAll()
	if len(all) != 1 || all[0].Note != "contaminated" || all[0].Category != "danger" {
		t.Errorf("Expected updated fields, got %+v", all)
	}

	if err := s.Update(New(0, 0, "sos", "")); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Expected ErrUnknownID, got %v", err)
	}
}

func TestSQLiteStoreSyncHook(t *testing.T) {
	s := openTestStore(t)

	var synced []string
	s.SetSyncFunc(func(m Marker) { synced = append(synced, m.ID) })

	local := New(48.2, 16.3, "food", "")
	if err := s.Add(local); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.ReceiveExternal(New(48.9, 16.9, "fire", "")); err != nil {
		t.Fatalf("ReceiveExternal failed: %v", err)
	}

	if len(synced) != 1 || synced[0] != local.ID {
		t.Errorf("Expected only the local add to notify, got %v", synced)
	}
}
