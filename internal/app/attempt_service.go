package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
)

// AttemptService contains the attempt lifecycle use cases. It holds no
// mutable state of its own; all coordination goes through the store.
type AttemptService struct {
	attempts    AttemptStore
	quizzes     QuizRepository
	enrollments EnrollmentChecker

	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
	recorder Recorder
}

// Option customizes an AttemptService.
type Option func(*AttemptService)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *AttemptService) { s.now = now } }

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option { return func(s *AttemptService) { s.logger = l } }

// WithRecorder sets the lifecycle event sink.
func WithRecorder(r Recorder) Option { return func(s *AttemptService) { s.recorder = r } }

// WithIDGenerator replaces the attempt id generator.
func WithIDGenerator(f func() string) Option { return func(s *AttemptService) { s.newID = f } }

func NewAttemptService(attempts AttemptStore, quizzes QuizRepository, enrollments EnrollmentChecker, opts ...Option) *AttemptService {
	s := &AttemptService{
		attempts:    attempts,
		quizzes:     quizzes,
		enrollments: enrollments,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      zap.NewNop(),
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a new attempt or resumes the learner's open one.
func (s *AttemptService) Start(ctx context.Context, actor domain.Actor, quizID string) (domain.StartResult, error) {
	if actor.Role != domain.RoleLearner {
		return domain.StartResult{}, domain.ErrForbidden
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.StartResult{}, err
	}
	if !quiz.IsActive {
		return domain.StartResult{}, domain.ErrQuizNotFound
	}
	enrolled, err := s.enrollments.IsEnrolled(ctx, actor.ID, quiz.CourseID)
	if err != nil {
		return domain.StartResult{}, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return domain.StartResult{}, domain.ErrForbidden
	}

	res, err := s.startOnce(ctx, actor.ID, quiz)
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent start won the insert; retrying resumes its attempt.
		s.logger.Info("concurrent start detected, retrying",
			zap.String("learner_id", actor.ID), zap.String("quiz_id", quiz.ID))
		res, err = s.startOnce(ctx, actor.ID, quiz)
	}
	return res, err
}

func (s *AttemptService) startOnce(ctx context.Context, learnerID string, quiz domain.Quiz) (domain.StartResult, error) {
	current, err := s.attempts.FindInProgress(ctx, learnerID, quiz.ID)
	switch {
	case err == nil:
		remaining := RemainingSeconds(current.TimeLimitSnapshotMinutes, current.StartedAt, s.now())
		if !expired(remaining) {
			answers, err := s.attempts.ListAnswers(ctx, current.ID)
			if err != nil {
				return domain.StartResult{}, err
			}
			s.recorder.AttemptStarted(true)
			s.logger.Info("attempt resumed",
				zap.String("attempt_id", current.ID), zap.String("learner_id", learnerID))
			return domain.StartResult{
				Attempt:          current,
				Questions:        LearnerQuestions(quiz),
				Answers:          answers,
				RemainingSeconds: remaining,
				Resumed:          true,
			}, nil
		}
		if _, err := s.complete(ctx, quiz, current, domain.TriggerTimeout); err != nil {
			return domain.StartResult{}, fmt.Errorf("complete expired attempt: %w", err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return domain.StartResult{}, err
	}

	used, err := s.attempts.CountCompleted(ctx, learnerID, quiz.ID)
	if err != nil {
		return domain.StartResult{}, err
	}
	if used >= maxAttempts(quiz) {
		s.recorder.Rejected("attempt_limit_exceeded")
		return domain.StartResult{}, domain.ErrAttemptLimitExceeded
	}

	now := s.now()
	attempt := domain.Attempt{
		ID:                       s.newID(),
		LearnerID:                learnerID,
		QuizID:                   quiz.ID,
		Status:                   domain.AttemptInProgress,
		StartedAt:                now,
		TimeLimitSnapshotMinutes: copyInt(quiz.TimeLimitMinutes),
	}
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		return domain.StartResult{}, err
	}
	s.recorder.AttemptStarted(false)
	s.logger.Info("attempt started",
		zap.String("attempt_id", attempt.ID),
		zap.String("learner_id", learnerID),
		zap.String("quiz_id", quiz.ID),
		zap.Int("attempt_number", used+1))

	return domain.StartResult{
		Attempt:          attempt,
		Questions:        LearnerQuestions(quiz),
		Answers:          []domain.Answer{},
		RemainingSeconds: RemainingSeconds(attempt.TimeLimitSnapshotMinutes, attempt.StartedAt, now),
	}, nil
}

// SaveAnswer records the learner's current answer to one question. Repeated
// saves for the same question overwrite each other.
func (s *AttemptService) SaveAnswer(ctx context.Context, actor domain.Actor, attemptID, questionID string, value []string) (domain.Answer, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Answer{}, err
	}
	if !ownedBy(actor, attempt) {
		return domain.Answer{}, domain.ErrForbidden
	}
	if attempt.Completed() {
		s.recorder.Rejected("invalid_state")
		return domain.Answer{}, domain.ErrInvalidState
	}
	now := s.now()
	if expired(RemainingSeconds(attempt.TimeLimitSnapshotMinutes, attempt.StartedAt, now)) {
		s.recorder.Rejected("attempt_expired")
		return domain.Answer{}, domain.ErrAttemptExpired
	}

	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.Answer{}, err
	}
	question, ok := quiz.Question(questionID)
	if !ok {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}
	if err := validateValue(question, value); err != nil {
		return domain.Answer{}, err
	}
	if value == nil {
		value = []string{}
	}

	answer := domain.Answer{
		AttemptID:  attempt.ID,
		QuestionID: question.ID,
		Value:      value,
		UpdatedAt:  now,
	}
	if err := s.attempts.UpsertAnswer(ctx, answer); err != nil {
		return domain.Answer{}, err
	}
	s.recorder.AnswerSaved()
	return answer, nil
}

// Complete finishes an attempt and scores it. Completing an already completed
// attempt is a no-op that returns the stored result.
func (s *AttemptService) Complete(ctx context.Context, actor domain.Actor, attemptID string, trigger domain.CompletionTrigger) (domain.AttemptResult, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if !ownedBy(actor, attempt) {
		return domain.AttemptResult{}, domain.ErrForbidden
	}
	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.AttemptResult{}, err
	}

	var res domain.AttemptResult
	if attempt.Completed() {
		res, err = s.storedResult(ctx, quiz, attempt)
	} else {
		res, err = s.complete(ctx, quiz, attempt, trigger)
	}
	if err != nil {
		return domain.AttemptResult{}, err
	}
	return visibleTo(actor, quiz, res), nil
}

func (s *AttemptService) complete(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt, requested domain.CompletionTrigger) (domain.AttemptResult, error) {
	now := s.now()
	trigger := domain.TriggerManual
	if expired(RemainingSeconds(attempt.TimeLimitSnapshotMinutes, attempt.StartedAt, now)) {
		trigger = domain.TriggerTimeout
	}
	if requested != "" && requested != trigger {
		s.logger.Debug("completion trigger decided by server clock",
			zap.String("attempt_id", attempt.ID),
			zap.String("requested", string(requested)),
			zap.String("effective", string(trigger)))
	}

	var (
		answers    []domain.Answer
		score      domain.ScoreResult
		passedQuiz *bool
	)
	err := s.attempts.CompleteAttempt(ctx, attempt.ID, func(snapshot []domain.Answer) domain.Completion {
		answers = snapshot
		score = Score(quiz.Questions, indexAnswers(snapshot))
		passedQuiz = passed(score.ScorePercent, quiz.PassingScorePercent)

		grades := make(map[string]domain.QuestionScore, len(quiz.Questions))
		for _, q := range quiz.Questions {
			if q.Type.ManuallyGraded() {
				continue
			}
			grades[q.ID] = score.PerQuestion[q.ID]
		}
		return domain.Completion{
			AttemptID:    attempt.ID,
			CompletedAt:  now,
			Trigger:      trigger,
			ScorePercent: score.ScorePercent,
			Passed:       passedQuiz,
			Grades:       grades,
		}
	})
	if errors.Is(err, domain.ErrAlreadyCompleted) {
		s.logger.Info("attempt completed concurrently, returning stored result",
			zap.String("attempt_id", attempt.ID), zap.String("trigger", string(trigger)))
		stored, err := s.attempts.GetAttempt(ctx, attempt.ID)
		if err != nil {
			return domain.AttemptResult{}, err
		}
		return s.storedResult(ctx, quiz, stored)
	}
	if err != nil {
		return domain.AttemptResult{}, err
	}

	attempt.Status = domain.AttemptCompleted
	attempt.CompletedAt = &now
	attempt.CompletionTrigger = trigger
	attempt.ScorePercent = score.ScorePercent
	attempt.Passed = passedQuiz

	s.recorder.AttemptCompleted(trigger)
	s.logger.Info("attempt completed",
		zap.String("attempt_id", attempt.ID),
		zap.String("trigger", string(trigger)),
		zap.Bool("manual_grading_pending", score.HasManualGradingPending))
	return buildResult(quiz, attempt, answers), nil
}

// Results reconstructs an attempt's result from storage.
func (s *AttemptService) Results(ctx context.Context, actor domain.Actor, attemptID string) (domain.AttemptResult, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if !ownedBy(actor, attempt) && actor.Role != domain.RoleGrader {
		return domain.AttemptResult{}, domain.ErrForbidden
	}
	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	res, err := s.storedResult(ctx, quiz, attempt)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	return visibleTo(actor, quiz, res), nil
}

// State returns the live view of an attempt for its owner.
func (s *AttemptService) State(ctx context.Context, actor domain.Actor, attemptID string) (domain.AttemptState, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptState{}, err
	}
	if !ownedBy(actor, attempt) {
		return domain.AttemptState{}, domain.ErrForbidden
	}
	answers, err := s.attempts.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return domain.AttemptState{}, err
	}
	state := domain.AttemptState{Attempt: attempt, Answers: answers}
	if !attempt.Completed() {
		state.RemainingSeconds = RemainingSeconds(attempt.TimeLimitSnapshotMinutes, attempt.StartedAt, s.now())
	}
	return state, nil
}

// ListAttempts returns the caller's attempts at a quiz, oldest first.
func (s *AttemptService) ListAttempts(ctx context.Context, actor domain.Actor, quizID string) ([]domain.Attempt, error) {
	if actor.Role != domain.RoleLearner {
		return nil, domain.ErrForbidden
	}
	return s.attempts.ListAttempts(ctx, actor.ID, quizID)
}

func (s *AttemptService) storedResult(ctx context.Context, quiz domain.Quiz, attempt domain.Attempt) (domain.AttemptResult, error) {
	answers, err := s.attempts.ListAnswers(ctx, attempt.ID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	return buildResult(quiz, attempt, answers), nil
}

// buildResult re-runs the scorer over persisted answers so grades written
// after completion show up in the aggregate.
func buildResult(quiz domain.Quiz, attempt domain.Attempt, answers []domain.Answer) domain.AttemptResult {
	questions := orderedQuestions(quiz)
	res := domain.AttemptResult{
		Attempt: attempt,
		Trigger: attempt.CompletionTrigger,
	}
	if !attempt.Completed() {
		for _, q := range questions {
			res.MaxPoints += q.Points
		}
		return res
	}

	byQuestion := indexAnswers(answers)
	score := Score(questions, byQuestion)
	res.TotalPoints = score.TotalPoints
	res.MaxPoints = score.MaxPoints
	res.ScorePercent = score.ScorePercent
	res.Passed = passed(score.ScorePercent, quiz.PassingScorePercent)
	res.HasManualGradingPending = score.HasManualGradingPending
	res.Attempt.ScorePercent = copyInt(res.ScorePercent)
	res.Attempt.Passed = copyBool(res.Passed)

	res.Questions = make([]domain.QuestionResult, 0, len(questions))
	for _, q := range questions {
		verdict := score.PerQuestion[q.ID]
		value := []string{}
		if a, ok := byQuestion[q.ID]; ok && a.Value != nil {
			value = a.Value
		}
		res.Questions = append(res.Questions, domain.QuestionResult{
			QuestionID:   q.ID,
			Type:         q.Type,
			Value:        value,
			IsCorrect:    verdict.IsCorrect,
			PointsEarned: verdict.PointsEarned,
			Points:       q.Points,
		})
	}
	return res
}

// visibleTo hides per-question detail from learners when the quiz says so.
func visibleTo(actor domain.Actor, quiz domain.Quiz, res domain.AttemptResult) domain.AttemptResult {
	if actor.Role == domain.RoleLearner && !quiz.ShowResultsToLearner {
		res.Questions = nil
	}
	return res
}

func validateValue(q domain.Question, value []string) error {
	if q.Type.ManuallyGraded() {
		return nil
	}
	for _, v := range value {
		if !q.HasOption(v) {
			return fmt.Errorf("option %q is not part of question %s: %w", v, q.ID, domain.ErrInvalidAnswer)
		}
	}
	return nil
}

func ownedBy(actor domain.Actor, attempt domain.Attempt) bool {
	if actor.Role == domain.RoleSystem {
		return true
	}
	return actor.Role == domain.RoleLearner && actor.ID == attempt.LearnerID
}

func maxAttempts(quiz domain.Quiz) int {
	if quiz.MaxAttempts < 1 {
		return 1
	}
	return quiz.MaxAttempts
}

func indexAnswers(answers []domain.Answer) map[string]domain.Answer {
	out := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		out[a.QuestionID] = a
	}
	return out
}
