package database

import (
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func TestInsertAndHistory(t *testing.T) {
	s := openTest(t)
	base := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local).Unix()

	records := []Record{
		{Timestamp: base, Temp: ptr(23), Dist: ptr(24.13), LED: true},
		{Timestamp: base + 60, Temp: nil, Dist: ptr(10)},
		{Timestamp: base + 120, Temp: ptr(22.5), Dist: nil},
	}
	for _, r := range records {
		if err := s.Insert(r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.History(base, base+60)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("history rows = %d, want 2", len(got))
	}
	if *got[0].Temp != 23 || *got[0].Dist != 24.13 || !got[0].LED {
		t.Errorf("first row = %+v", got[0])
	}
	if got[1].Temp != nil || got[1].LED {
		t.Errorf("absent temperature not stored as NULL: %+v", got[1])
	}

	day, err := s.Day("2026-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(day) != 3 || day[2].Dist != nil {
		t.Errorf("day rows = %+v", day)
	}
}

func TestDatesAndPrune(t *testing.T) {
	s := openTest(t)
	for _, d := range []int{1, 2, 5, 9} {
		ts := time.Date(2026, 3, d, 10, 0, 0, 0, time.Local).Unix()
		if err := s.Insert(Record{Timestamp: ts, Temp: ptr(20)}); err != nil {
			t.Fatal(err)
		}
	}

	dates, err := s.Dates()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2026-03-09", "2026-03-05", "2026-03-02", "2026-03-01"}
	if len(dates) != len(want) {
		t.Fatalf("dates = %v", dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}

	if err := s.Prune(2); err != nil {
		t.Fatal(err)
	}
	dates, _ = s.Dates()
	if len(dates) != 2 || dates[1] != "2026-03-05" {
		t.Errorf("dates after prune = %v", dates)
	}

	if err := s.Prune(0); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}
}
