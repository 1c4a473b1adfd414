package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
)

// GradeAnswer stores a grader's points for an OPEN_ENDED or CODE answer and
// finalizes the attempt score once nothing is left pending.
func (s *AttemptService) GradeAnswer(ctx context.Context, actor domain.Actor, attemptID, questionID string, points int) (domain.AttemptResult, error) {
	if actor.Role != domain.RoleGrader && actor.Role != domain.RoleSystem {
		return domain.AttemptResult{}, domain.ErrForbidden
	}
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if !attempt.Completed() {
		return domain.AttemptResult{}, domain.ErrInvalidState
	}
	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	question, ok := quiz.Question(questionID)
	if !ok {
		return domain.AttemptResult{}, domain.ErrQuestionNotFound
	}
	if !question.Type.ManuallyGraded() {
		return domain.AttemptResult{}, fmt.Errorf("question %s is graded automatically: %w", question.ID, domain.ErrInvalidAnswer)
	}
	if points < 0 || points > question.Points {
		return domain.AttemptResult{}, fmt.Errorf("points must be between 0 and %d: %w", question.Points, domain.ErrInvalidAnswer)
	}

	now := s.now()
	full := points == question.Points
	if err := s.attempts.GradeAnswer(ctx, domain.Answer{
		AttemptID:    attempt.ID,
		QuestionID:   question.ID,
		IsCorrect:    &full,
		PointsEarned: &points,
		GradedAt:     &now,
		UpdatedAt:    now,
	}); err != nil {
		return domain.AttemptResult{}, err
	}
	s.recorder.AnswerGraded()

	res, err := s.storedResult(ctx, quiz, attempt)
	if err != nil {
		return domain.AttemptResult{}, err
	}
	if !res.HasManualGradingPending {
		if err := s.attempts.FinalizeScore(ctx, attempt.ID, res.ScorePercent, res.Passed); err != nil {
			return domain.AttemptResult{}, err
		}
		s.logger.Info("attempt grading finalized",
			zap.String("attempt_id", attempt.ID), zap.Intp("score_percent", res.ScorePercent))
	}
	return res, nil
}
