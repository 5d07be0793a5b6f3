package sampler

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func TestRowsOversamplingCoversRange(t *testing.T) {
	s := NewWithRand(rand.New(rand.NewSource(12345)))
	const (
		start, end = 10, 12
		n          = 5
		trials     = 20000
	)
	counts := map[int]int{}
	for range trials {
		rows, err := s.Rows(start, end, n)
		if err != nil {
			t.Fatalf("Rows returned error: %v", err)
		}
		if len(rows) != n {
			t.Fatalf("expected %d rows, got %d", n, len(rows))
		}
		for _, r := range rows {
			if r < start || r > end {
				t.Fatalf("row %d outside [%d, %d]", r, start, end)
			}
			counts[r]++
		}
	}

	// Chi-square goodness of fit against the uniform distribution, 2 degrees
	// of freedom: the 99.9% critical value is 13.82.
	expected := float64(trials*n) / float64(end-start+1)
	chi2 := 0.0
	for r := start; r <= end; r++ {
		d := float64(counts[r]) - expected
		chi2 += d * d / expected
	}
	if chi2 > 13.82 {
		t.Fatalf("row frequencies %v not uniform: chi2=%.2f", counts, chi2)
	}
}

func TestRowsWindowIsContiguous(t *testing.T) {
	s := New(99)
	const start, end, n = 3, 9, 4
	offsets := map[int]bool{}
	for range 2000 {
		rows, err := s.Rows(start, end, n)
		if err != nil {
			t.Fatalf("Rows returned error: %v", err)
		}
		if rows[0] < start || rows[n-1] > end {
			t.Fatalf("window %v not inside [%d, %d]", rows, start, end)
		}
		for q := 1; q < n; q++ {
			if rows[q] != rows[q-1]+1 {
				t.Fatalf("window %v is not consecutive", rows)
			}
		}
		offsets[rows[0]] = true
	}
	// Every fitting offset (3..6) should show up.
	if len(offsets) != end-n+1-start+1 {
		t.Fatalf("expected %d distinct offsets, got %v", end-n+1-start+1, offsets)
	}
}

func TestRowsExactFit(t *testing.T) {
	s := New(1)
	rows, err := s.Rows(4, 6, 3)
	if err != nil {
		t.Fatalf("Rows returned error: %v", err)
	}
	want := []int{4, 5, 6}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("got %v want %v", rows, want)
		}
	}
}

func TestRowsEmptyRange(t *testing.T) {
	s := New(1)
	_, err := s.Rows(5, 4, 2)
	if !errors.Is(err, ErrEmptyRange) {
		t.Fatalf("expected ErrEmptyRange, got %v", err)
	}
	if _, err := s.Rows(0, 4, 0); err == nil {
		t.Fatalf("expected error for n=0")
	}
}
