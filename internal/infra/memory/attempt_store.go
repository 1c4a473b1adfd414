package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore. A single
// mutex serializes writes, which gives the same guarantees the Postgres
// store gets from its unique index and conditional updates.
type AttemptStore struct {
	mu         sync.RWMutex
	attempts   map[string]domain.Attempt
	order      []string
	inProgress map[pairKey]string
	answers    map[string]map[string]domain.Answer
}

type pairKey struct {
	learnerID string
	quizID    string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts:   make(map[string]domain.Attempt),
		inProgress: make(map[pairKey]string),
		answers:    make(map[string]map[string]domain.Answer),
	}
}

func (s *AttemptStore) CreateAttempt(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{attempt.LearnerID, attempt.QuizID}
	if _, exists := s.inProgress[key]; exists && attempt.Status == domain.AttemptInProgress {
		return domain.ErrConflict
	}
	if _, exists := s.attempts[attempt.ID]; exists {
		return domain.ErrConflict
	}
	s.attempts[attempt.ID] = cloneAttempt(attempt)
	s.order = append(s.order, attempt.ID)
	if attempt.Status == domain.AttemptInProgress {
		s.inProgress[key] = attempt.ID
	}
	return nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(attempt), nil
}

func (s *AttemptStore) FindInProgress(_ context.Context, learnerID, quizID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.inProgress[pairKey{learnerID, quizID}]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(s.attempts[id]), nil
}

func (s *AttemptStore) CountCompleted(_ context.Context, learnerID, quizID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, attempt := range s.attempts {
		if attempt.LearnerID == learnerID && attempt.QuizID == quizID && attempt.Completed() {
			count++
		}
	}
	return count, nil
}

func (s *AttemptStore) ListAttempts(_ context.Context, learnerID, quizID string) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Attempt{}
	for _, id := range s.order {
		attempt := s.attempts[id]
		if attempt.LearnerID == learnerID && attempt.QuizID == quizID {
			out = append(out, cloneAttempt(attempt))
		}
	}
	return out, nil
}

func (s *AttemptStore) ListTimedInProgress(_ context.Context) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Attempt{}
	for _, id := range s.order {
		attempt := s.attempts[id]
		if !attempt.Completed() && attempt.TimeLimitSnapshotMinutes != nil {
			out = append(out, cloneAttempt(attempt))
		}
	}
	return out, nil
}

func (s *AttemptStore) ListAnswers(_ context.Context, attemptID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(attemptID), nil
}

// snapshot copies an attempt's answers ordered by question id. Callers hold mu.
func (s *AttemptStore) snapshot(attemptID string) []domain.Answer {
	rows := s.answers[attemptID]
	out := make([]domain.Answer, 0, len(rows))
	for _, answer := range rows {
		out = append(out, cloneAnswer(answer))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (s *AttemptStore) UpsertAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[answer.AttemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.Completed() {
		return domain.ErrInvalidState
	}
	rows := s.answersFor(answer.AttemptID)
	row := rows[answer.QuestionID]
	row.AttemptID = answer.AttemptID
	row.QuestionID = answer.QuestionID
	row.Value = append([]string(nil), answer.Value...)
	row.UpdatedAt = answer.UpdatedAt
	rows[answer.QuestionID] = row
	return nil
}

// CompleteAttempt scores the answers held under the write lock, so no save can
// land between the snapshot and the status change.
func (s *AttemptStore) CompleteAttempt(_ context.Context, attemptID string, finish func([]domain.Answer) domain.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.Completed() {
		return domain.ErrAlreadyCompleted
	}

	c := finish(s.snapshot(attemptID))
	completedAt := c.CompletedAt
	attempt.Status = domain.AttemptCompleted
	attempt.CompletedAt = &completedAt
	attempt.CompletionTrigger = c.Trigger
	attempt.ScorePercent = c.ScorePercent
	attempt.Passed = c.Passed
	s.attempts[attempt.ID] = cloneAttempt(attempt)
	delete(s.inProgress, pairKey{attempt.LearnerID, attempt.QuizID})

	rows := s.answersFor(attempt.ID)
	for questionID, grade := range c.Grades {
		row, ok := rows[questionID]
		if !ok {
			continue
		}
		row.IsCorrect = grade.IsCorrect
		row.PointsEarned = grade.PointsEarned
		rows[questionID] = cloneAnswer(row)
	}
	return nil
}

func (s *AttemptStore) GradeAnswer(_ context.Context, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[answer.AttemptID]; !ok {
		return domain.ErrAttemptNotFound
	}
	rows := s.answersFor(answer.AttemptID)
	row, ok := rows[answer.QuestionID]
	if !ok {
		row = domain.Answer{AttemptID: answer.AttemptID, QuestionID: answer.QuestionID, Value: []string{}}
	}
	row.IsCorrect = answer.IsCorrect
	row.PointsEarned = answer.PointsEarned
	row.GradedAt = answer.GradedAt
	row.UpdatedAt = answer.UpdatedAt
	rows[answer.QuestionID] = cloneAnswer(row)
	return nil
}

func (s *AttemptStore) FinalizeScore(_ context.Context, attemptID string, scorePercent *int, passed *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if !attempt.Completed() {
		return domain.ErrInvalidState
	}
	attempt.ScorePercent = scorePercent
	attempt.Passed = passed
	s.attempts[attemptID] = cloneAttempt(attempt)
	return nil
}

func (s *AttemptStore) answersFor(attemptID string) map[string]domain.Answer {
	rows, ok := s.answers[attemptID]
	if !ok {
		rows = make(map[string]domain.Answer)
		s.answers[attemptID] = rows
	}
	return rows
}

func cloneAttempt(a domain.Attempt) domain.Attempt {
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		a.CompletedAt = &t
	}
	if a.TimeLimitSnapshotMinutes != nil {
		v := *a.TimeLimitSnapshotMinutes
		a.TimeLimitSnapshotMinutes = &v
	}
	if a.ScorePercent != nil {
		v := *a.ScorePercent
		a.ScorePercent = &v
	}
	if a.Passed != nil {
		v := *a.Passed
		a.Passed = &v
	}
	return a
}

func cloneAnswer(a domain.Answer) domain.Answer {
	a.Value = append([]string{}, a.Value...)
	if a.IsCorrect != nil {
		v := *a.IsCorrect
		a.IsCorrect = &v
	}
	if a.PointsEarned != nil {
		v := *a.PointsEarned
		a.PointsEarned = &v
	}
	if a.GradedAt != nil {
		t := *a.GradedAt
		a.GradedAt = &t
	}
	return a
}
