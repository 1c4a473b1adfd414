package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the umbrella for every missing quiz, attempt or question.
	ErrNotFound = errors.New("not found")
	// ErrQuizNotFound indicates the quiz is missing or not active.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrAttemptNotFound indicates the attempt id is unknown.
	ErrAttemptNotFound = fmt.Errorf("attempt %w", ErrNotFound)
	// ErrQuestionNotFound indicates a question id is not part of the quiz.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)

	// ErrForbidden is returned when the caller may not act on the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrAttemptLimitExceeded means every allowed attempt has been used.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrAttemptExpired means the deadline passed; the caller should complete.
	ErrAttemptExpired = errors.New("attempt time has expired")
	// ErrInvalidState is returned for operations on an attempt in the wrong state.
	ErrInvalidState = errors.New("attempt is not in a valid state for this operation")
	// ErrInvalidAnswer is returned for answer values or grades that do not fit the question.
	ErrInvalidAnswer = errors.New("invalid answer")

	// ErrConflict is reported by stores when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflicting write")
	// ErrAlreadyCompleted is reported by stores when a completion loses to another one.
	ErrAlreadyCompleted = errors.New("attempt already completed")
)
