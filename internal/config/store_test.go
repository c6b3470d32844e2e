package config

import (
	"os"
	"testing"
)

func TestStoreReloadSwapsSnapshot(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "max_timeline_rows: 10\n")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	before := s.Current()
	if before.MaxTimelineRows != 10 {
		t.Fatalf("MaxTimelineRows: got %d, want 10", before.MaxTimelineRows)
	}

	if err := os.WriteFile(path, []byte("max_timeline_rows: 20\n"), 0644); err != nil {
		t.Fatal(err)
	}
	after, err := s.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if after.MaxTimelineRows != 20 || s.Current().MaxTimelineRows != 20 {
		t.Errorf("reloaded MaxTimelineRows: got %d, want 20", s.Current().MaxTimelineRows)
	}
	if before.MaxTimelineRows != 10 {
		t.Errorf("old snapshot was mutated: got %d, want 10", before.MaxTimelineRows)
	}
}

func TestStoreReloadErrorKeepsSnapshot(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "max_timeline_rows: 10\n")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := os.WriteFile(path, []byte("max_timeline_rows: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Reload(); err == nil {
		t.Fatal("Reload() expected error for malformed file")
	}
	if s.Current().MaxTimelineRows != 10 {
		t.Errorf("snapshot replaced after failed reload: got %d", s.Current().MaxTimelineRows)
	}
}
