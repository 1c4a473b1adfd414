package cli

import (
	"testing"
	"time"

	"quiz-attempt-service/internal/config"
)

func TestSweepInterval(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		enabled bool
	}{
		{"", 0, false},
		{"   ", 0, false},
		{"45s", 45 * time.Second, true},
		{"soon", 30 * time.Second, true},
	}
	for _, tc := range cases {
		var cfg config.Config
		cfg.Attempt.SweepInterval = tc.raw
		got, ok := sweepInterval(cfg)
		if ok != tc.enabled || got != tc.want {
			t.Fatalf("sweepInterval(%q) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.enabled)
		}
	}
}
