package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

const attemptColumns = `id, learner_id, quiz_id, status, started_at, completed_at,
	time_limit_minutes, score_percent, passed, completion_trigger`

// AttemptStore persists attempts and answers. The partial unique index on
// attempts(learner_id, quiz_id) WHERE status='IN_PROGRESS' is what keeps a
// learner to one open attempt per quiz across instances.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) CreateAttempt(ctx context.Context, a domain.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attempts (id, learner_id, quiz_id, status, started_at, time_limit_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.LearnerID, a.QuizID, string(a.Status), a.StartedAt, a.TimeLimitSnapshotMinutes)
	if err != nil {
		return mapError("create attempt", err)
	}
	return nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, attemptID)
	return scanAttempt(row)
}

func (s *AttemptStore) FindInProgress(ctx context.Context, learnerID, quizID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE learner_id=$1 AND quiz_id=$2 AND status='IN_PROGRESS'`, learnerID, quizID)
	return scanAttempt(row)
}

func (s *AttemptStore) CountCompleted(ctx context.Context, learnerID, quizID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM attempts
		WHERE learner_id=$1 AND quiz_id=$2 AND status='COMPLETED'`, learnerID, quizID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *AttemptStore) ListAttempts(ctx context.Context, learnerID, quizID string) ([]domain.Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE learner_id=$1 AND quiz_id=$2 ORDER BY started_at, id`, learnerID, quizID)
}

func (s *AttemptStore) ListTimedInProgress(ctx context.Context) ([]domain.Attempt, error) {
	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM attempts
		WHERE status='IN_PROGRESS' AND time_limit_minutes IS NOT NULL
		ORDER BY started_at`)
}

func (s *AttemptStore) ListAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error) {
	return listAnswers(ctx, s.pool, attemptID)
}

func listAnswers(ctx context.Context, q querier, attemptID string) ([]domain.Answer, error) {
	rows, err := q.Query(ctx, `
		SELECT attempt_id, question_id, value, is_correct, points_earned, graded_at, updated_at
		FROM answers WHERE attempt_id=$1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := []domain.Answer{}
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.Value, &a.IsCorrect, &a.PointsEarned, &a.GradedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if a.Value == nil {
			a.Value = []string{}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAnswer holds a share lock on the attempt row while writing. It
// conflicts with the row lock CompleteAttempt takes, so a concurrent
// completion either scores the answer or the write is rejected.
func (s *AttemptStore) UpsertAnswer(ctx context.Context, a domain.Answer) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM attempts WHERE id=$1 FOR SHARE`, a.AttemptID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		if status != string(domain.AttemptInProgress) {
			return domain.ErrInvalidState
		}
		value := a.Value
		if value == nil {
			value = []string{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO answers (attempt_id, question_id, value, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (attempt_id, question_id) DO UPDATE
			SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
			a.AttemptID, a.QuestionID, value, a.UpdatedAt)
		if err != nil {
			return mapError("upsert answer", err)
		}
		return nil
	})
}

// CompleteAttempt locks the attempt row FOR UPDATE, reads the answers inside
// the same transaction and stores the completion finish builds from them.
func (s *AttemptStore) CompleteAttempt(ctx context.Context, attemptID string, finish func([]domain.Answer) domain.Completion) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM attempts WHERE id=$1 FOR UPDATE`, attemptID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		if status != string(domain.AttemptInProgress) {
			return domain.ErrAlreadyCompleted
		}

		answers, err := listAnswers(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		c := finish(answers)
		var trigger *string
		if c.Trigger != "" {
			t := string(c.Trigger)
			trigger = &t
		}
		_, err = tx.Exec(ctx, `
			UPDATE attempts
			SET status='COMPLETED', completed_at=$2, completion_trigger=$3, score_percent=$4, passed=$5
			WHERE id=$1`,
			attemptID, c.CompletedAt, trigger, c.ScorePercent, c.Passed)
		if err != nil {
			return fmt.Errorf("complete attempt: %w", err)
		}

		batch := &pgx.Batch{}
		for questionID, grade := range c.Grades {
			batch.Queue(`UPDATE answers SET is_correct=$3, points_earned=$4
				WHERE attempt_id=$1 AND question_id=$2`,
				attemptID, questionID, grade.IsCorrect, grade.PointsEarned)
		}
		if batch.Len() == 0 {
			return nil
		}
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("store grades: %w", err)
			}
		}
		return results.Close()
	})
}

func (s *AttemptStore) GradeAnswer(ctx context.Context, a domain.Answer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO answers (attempt_id, question_id, value, is_correct, points_earned, graded_at, updated_at)
		VALUES ($1, $2, '{}', $3, $4, $5, $6)
		ON CONFLICT (attempt_id, question_id) DO UPDATE
		SET is_correct=EXCLUDED.is_correct, points_earned=EXCLUDED.points_earned,
		    graded_at=EXCLUDED.graded_at, updated_at=EXCLUDED.updated_at`,
		a.AttemptID, a.QuestionID, a.IsCorrect, a.PointsEarned, a.GradedAt, a.UpdatedAt)
	if err != nil {
		return mapError("grade answer", err)
	}
	return nil
}

func (s *AttemptStore) FinalizeScore(ctx context.Context, attemptID string, scorePercent *int, passed *bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attempts SET score_percent=$2, passed=$3
		WHERE id=$1 AND status='COMPLETED'`, attemptID, scorePercent, passed)
	if err != nil {
		return fmt.Errorf("finalize score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.exists(ctx, s.pool, attemptID); err != nil {
			return err
		}
		return domain.ErrInvalidState
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *AttemptStore) exists(ctx context.Context, q querier, attemptID string) error {
	var found bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attempts WHERE id=$1)`, attemptID).Scan(&found); err != nil {
		return fmt.Errorf("lookup attempt: %w", err)
	}
	if !found {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (s *AttemptStore) queryAttempts(ctx context.Context, sql string, args ...interface{}) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := []domain.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var (
		a       domain.Attempt
		status  string
		trigger *string
		started time.Time
	)
	err := row.Scan(&a.ID, &a.LearnerID, &a.QuizID, &status, &started, &a.CompletedAt,
		&a.TimeLimitSnapshotMinutes, &a.ScorePercent, &a.Passed, &trigger)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.Status = domain.AttemptStatus(status)
	a.StartedAt = started
	if trigger != nil {
		a.CompletionTrigger = domain.CompletionTrigger(*trigger)
	}
	return a, nil
}

// mapError translates constraint violations into domain errors.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrAttemptNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
