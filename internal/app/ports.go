package app

import (
	"context"

	"quiz-attempt-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// EnrollmentChecker answers whether a learner may take quizzes of a course.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, learnerID, courseID string) (bool, error)
}

// AttemptStore persists attempts and answers. Implementations must guarantee
// that at most one IN_PROGRESS attempt exists per (learner, quiz) and report a
// violating create as domain.ErrConflict.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt domain.Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	FindInProgress(ctx context.Context, learnerID, quizID string) (domain.Attempt, error)
	CountCompleted(ctx context.Context, learnerID, quizID string) (int, error)
	ListAttempts(ctx context.Context, learnerID, quizID string) ([]domain.Attempt, error)
	// ListTimedInProgress returns in-progress attempts that carry a time limit.
	ListTimedInProgress(ctx context.Context) ([]domain.Attempt, error)

	ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error)
	// UpsertAnswer writes the answer value only while the attempt is still in
	// progress, returning domain.ErrInvalidState otherwise.
	UpsertAnswer(ctx context.Context, answer domain.Answer) error
	// CompleteAttempt moves an in-progress attempt to COMPLETED. It reads the
	// answers under the same lock that blocks UpsertAnswer and passes them to
	// finish, so the stored score covers exactly the answers that were saved.
	// A second completion returns domain.ErrAlreadyCompleted without calling
	// finish and changes nothing.
	CompleteAttempt(ctx context.Context, attemptID string, finish func(answers []domain.Answer) domain.Completion) error
	// GradeAnswer stores a human grade, creating the answer row if needed.
	GradeAnswer(ctx context.Context, answer domain.Answer) error
	// FinalizeScore records the aggregate once manual grading is finished.
	FinalizeScore(ctx context.Context, attemptID string, scorePercent *int, passed *bool) error
}

// Recorder receives lifecycle events, typically for metrics.
type Recorder interface {
	AttemptStarted(resumed bool)
	AttemptCompleted(trigger domain.CompletionTrigger)
	AnswerSaved()
	AnswerGraded()
	Rejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) AttemptStarted(bool)                       {}
func (nopRecorder) AttemptCompleted(domain.CompletionTrigger) {}
func (nopRecorder) AnswerSaved()                              {}
func (nopRecorder) AnswerGraded()                             {}
func (nopRecorder) Rejected(string)                           {}
