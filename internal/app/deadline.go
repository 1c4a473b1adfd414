package app

import "time"

// RemainingSeconds returns how many seconds are left on an attempt, or nil
// for an untimed attempt. The result is clamped to [0, limit*60] and a partial
// second counts as a whole one, so the deadline instant is the first moment
// with zero remaining. Only ever call it with the server clock.
func RemainingSeconds(limitMinutes *int, startedAt, now time.Time) *int {
	if limitMinutes == nil {
		return nil
	}
	limit := time.Duration(*limitMinutes) * time.Minute
	left := limit - now.Sub(startedAt)
	if left > limit {
		left = limit
	}
	secs := 0
	if left > 0 {
		secs = int((left + time.Second - 1) / time.Second)
	}
	return &secs
}

// Deadline returns the wall-clock instant an attempt expires.
func Deadline(limitMinutes *int, startedAt time.Time) (time.Time, bool) {
	if limitMinutes == nil {
		return time.Time{}, false
	}
	return startedAt.Add(time.Duration(*limitMinutes) * time.Minute), true
}

func expired(remaining *int) bool {
	return remaining != nil && *remaining <= 0
}
