package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createClicks defines an event table with the runtime's implicit columns.
func createClicks(t *testing.T, s *Store) {
	t.Helper()
	err := s.Exec(context.Background(),
		"CREATE TABLE clicks (x NUMERIC, label TEXT, timestep NUMERIC NOT NULL, request_timestep NUMERIC)")
	if err != nil {
		t.Fatalf("create clicks: %v", err)
	}
}
