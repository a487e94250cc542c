package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

// TestWriteInput_Ledger stamps rows and records the ledger entry.
func TestWriteInput_Ledger(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createClicks(t, s)

	for ts := int64(1); ts <= 3; ts++ {
		err := s.WriteInput(ctx, Input{
			Relation:        "clicks",
			Timestep:        ts,
			RequestTimestep: ts,
			Timestamp:       1000 + ts,
			Columns:         []string{"x", "label"},
			Rows:            [][]any{{ts * 10, "r"}},
		})
		if err != nil {
			t.Fatalf("WriteInput(%d) failed: %v", ts, err)
		}
	}

	entries, err := s.Inputs(ctx)
	if err != nil {
		t.Fatalf("Inputs() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for i, e := range entries {
		want := LedgerEntry{Timestep: int64(i + 1), Relation: "clicks", Timestamp: int64(1001 + i), RequestTimestep: int64(i + 1)}
		if e != want {
			t.Errorf("entries[%d] = %+v, want %+v", i, e, want)
		}
	}

	res, err := s.Query(ctx, "SELECT x, timestep FROM clicks ORDER BY timestep")
	if err != nil {
		t.Fatal(err)
	}
	if res.Len() != 3 || res.Rows[2][0] != int64(30) || res.Rows[2][1] != int64(3) {
		t.Errorf("rows = %v", res.Rows)
	}

	last, err := s.LastTimestep(ctx)
	if err != nil || last != 3 {
		t.Errorf("LastTimestep() = %d, %v; want 3", last, err)
	}
}

// TestInputAt_ByTimestep finds the input stamped with a timestep and
// keeps a caller-supplied request timestep.
func TestInputAt_ByTimestep(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createClicks(t, s)

	inputs := []Input{
		{Relation: "clicks", Timestep: 1, RequestTimestep: 1, Timestamp: 10, Columns: []string{"x", "label"}, Rows: [][]any{{1, "a"}}},
		{Relation: "clicks", Timestep: 2, RequestTimestep: 1, Timestamp: 20, Columns: []string{"x", "label"}, Rows: [][]any{{2, "b"}}},
	}
	for _, in := range inputs {
		if err := s.WriteInput(ctx, in); err != nil {
			t.Fatalf("WriteInput(%d) failed: %v", in.Timestep, err)
		}
	}

	got, err := s.InputAt(ctx, 2)
	if err != nil {
		t.Fatalf("InputAt(2) failed: %v", err)
	}
	want := LedgerEntry{Timestep: 2, Relation: "clicks", Timestamp: 20, RequestTimestep: 1}
	if got != want {
		t.Errorf("InputAt(2) = %+v, want %+v", got, want)
	}

	if _, err := s.InputAt(ctx, 3); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("InputAt(3) error = %v, want sql.ErrNoRows", err)
	}
}

// TestWriteInput_Atomic leaves no ledger entry when a row fails.
func TestWriteInput_Atomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createClicks(t, s)

	err := s.WriteInput(ctx, Input{
		Relation: "clicks",
		Timestep: 1,
		Columns:  []string{"x", "label"},
		Rows:     [][]any{{1, "a"}, {2}},
	})
	if err == nil {
		t.Fatal("WriteInput() succeeded with a short row")
	}
	entries, _ := s.Inputs(ctx)
	if len(entries) != 0 {
		t.Errorf("ledger = %v, want empty", entries)
	}
}

// TestInputs_Empty returns an empty slice rather than nil.
func TestInputs_Empty(t *testing.T) {
	s := createTestStore(t)
	entries, err := s.Inputs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %#v, want empty non-nil", entries)
	}
}

// TestReplace_Contents swaps rows; Append keeps them.
func TestReplace_Contents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	if err := s.Exec(ctx, "CREATE TABLE copy (a NUMERIC, request_timestep NUMERIC)"); err != nil {
		t.Fatal(err)
	}
	cols := []string{"a", "request_timestep"}

	if err := s.Replace(ctx, "copy", cols, [][]any{{1, 1}, {2, 1}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Replace(ctx, "copy", cols, [][]any{{3, 2}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "copy", cols, [][]any{{4, 3}}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Query(ctx, "SELECT a FROM copy ORDER BY a")
	if err != nil {
		t.Fatal(err)
	}
	if res.Len() != 2 || res.Rows[0][0] != int64(3) || res.Rows[1][0] != int64(4) {
		t.Errorf("rows = %v, want [[3] [4]]", res.Rows)
	}
}
