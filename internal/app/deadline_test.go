package app

import (
	"testing"
	"time"
)

func TestRemainingSecondsUntimed(t *testing.T) {
	if got := RemainingSeconds(nil, time.Now(), time.Now().Add(time.Hour)); got != nil {
		t.Fatalf("expected nil for untimed attempt, got %d", *got)
	}
}

func TestRemainingSeconds(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	limit := 1

	cases := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"fresh", 0, 60},
		{"half", 30 * time.Second, 30},
		{"partial second rounds up", 59*time.Second + 500*time.Millisecond, 1},
		{"deadline", time.Minute, 0},
		{"past deadline", 61 * time.Second, 0},
		{"clock skew", -10 * time.Second, 60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RemainingSeconds(&limit, start, start.Add(tc.elapsed))
			if got == nil || *got != tc.want {
				t.Fatalf("expected %d, got %v", tc.want, got)
			}
		})
	}
}

func TestRemainingSecondsMonotonic(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	limit := 2
	prev := 1 << 30
	for ms := 0; ms <= 3*60*1000; ms += 250 {
		got := *RemainingSeconds(&limit, start, start.Add(time.Duration(ms)*time.Millisecond))
		if got > prev {
			t.Fatalf("remaining increased at %dms: %d > %d", ms, got, prev)
		}
		if got < 0 {
			t.Fatalf("remaining negative at %dms: %d", ms, got)
		}
		prev = got
	}
	if prev != 0 {
		t.Fatalf("expected to reach exactly 0, got %d", prev)
	}
}

func TestDeadline(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	limit := 15
	at, ok := Deadline(&limit, start)
	if !ok || !at.Equal(start.Add(15*time.Minute)) {
		t.Fatalf("unexpected deadline %v %v", at, ok)
	}
	if _, ok := Deadline(nil, start); ok {
		t.Fatalf("expected no deadline for untimed quiz")
	}
}
