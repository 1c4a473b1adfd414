package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"quiz-attempt-service/internal/infra/memory"
)

func TestEnrollmentCacheRemembersDecisions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	source := memory.NewEnrollments(map[string][]string{"course-1": {"learner-1"}})
	cache := NewEnrollmentCache(newClient(mr), source, time.Minute, nil)
	ctx := context.Background()

	ok, err := cache.IsEnrolled(ctx, "learner-2", "course-1")
	if err != nil || ok {
		t.Fatalf("expected learner-2 not enrolled, got %v %v", ok, err)
	}
	if v, _ := mr.Get("enrollment:course-1:learner-2"); v != "0" {
		t.Fatalf("expected negative decision cached, got %q", v)
	}

	// the cached "no" wins until it expires
	source.Enroll("course-1", "learner-2")
	if ok, _ := cache.IsEnrolled(ctx, "learner-2", "course-1"); ok {
		t.Fatalf("expected cached decision to be served")
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists("enrollment:course-1:learner-2") {
		t.Fatalf("expected cached decision to expire")
	}
	if ok, _ := cache.IsEnrolled(ctx, "learner-2", "course-1"); !ok {
		t.Fatalf("expected fresh decision after expiry")
	}
}

// failingAfterLookup breaks Redis once the source has been asked, so only the
// cache write fails.
type failingAfterLookup struct {
	EnrollmentChecker
	mr *miniredis.Miniredis
}

func (f failingAfterLookup) IsEnrolled(ctx context.Context, learnerID, courseID string) (bool, error) {
	ok, err := f.EnrollmentChecker.IsEnrolled(ctx, learnerID, courseID)
	f.mr.SetError("READONLY replica")
	return ok, err
}

func TestEnrollmentCacheLogsWriteFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	source := failingAfterLookup{
		EnrollmentChecker: memory.NewEnrollments(map[string][]string{"course-1": {"learner-1"}}),
		mr:                mr,
	}
	cache := NewEnrollmentCache(newClient(mr), source, time.Minute, zap.New(core))

	ok, err := cache.IsEnrolled(context.Background(), "learner-1", "course-1")
	if err != nil || !ok {
		t.Fatalf("expected the source decision despite the cache failure, got %v %v", ok, err)
	}
	entries := logs.FilterMessage("cache enrollment").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["learner_id"]; got != "learner-1" {
		t.Fatalf("expected learner_id field, got %v", got)
	}
}
