package domain

import "time"

// QuestionType is the closed set of question shapes a quiz can contain.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionMultipleSelect QuestionType = "MULTIPLE_SELECT"
	QuestionTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionOpenEnded      QuestionType = "OPEN_ENDED"
	QuestionCode           QuestionType = "CODE"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionMultipleSelect, QuestionTrueFalse, QuestionOpenEnded, QuestionCode:
		return true
	}
	return false
}

// ManuallyGraded reports whether answers to t need a human grader.
func (t QuestionType) ManuallyGraded() bool {
	return t == QuestionOpenEnded || t == QuestionCode
}

// Option represents a possible answer for a choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question belongs to exactly one quiz. CorrectAnswer holds option ids and is
// empty for OPEN_ENDED and CODE questions.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	Options       []Option     `json:"options,omitempty"`
	CorrectAnswer []string     `json:"correctAnswer,omitempty"`
	Points        int          `json:"points"`
	Order         int          `json:"order"`
}

// HasOption reports whether id names one of the question's options.
func (q Question) HasOption(id string) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// Quiz is a published, read-only quiz definition.
type Quiz struct {
	ID                   string     `json:"id"`
	CourseID             string     `json:"courseId"`
	Title                string     `json:"title"`
	Questions            []Question `json:"questions"`
	TimeLimitMinutes     *int       `json:"timeLimitMinutes,omitempty"`
	MaxAttempts          int        `json:"maxAttempts"`
	PassingScorePercent  *int       `json:"passingScorePercent,omitempty"`
	ShowResultsToLearner bool       `json:"showResultsToLearner"`
	IsActive             bool       `json:"isActive"`
}

// Question returns the question with the given id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// QuestionView is a question safe to hand to a learner: no correct answer.
type QuestionView struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Options []Option     `json:"options,omitempty"`
	Points  int          `json:"points"`
	Order   int          `json:"order"`
}

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptCompleted  AttemptStatus = "COMPLETED"
)

// CompletionTrigger says what ended an attempt.
type CompletionTrigger string

const (
	TriggerManual  CompletionTrigger = "MANUAL"
	TriggerTimeout CompletionTrigger = "TIMEOUT"
)

// Valid reports whether t is a known trigger.
func (t CompletionTrigger) Valid() bool {
	return t == TriggerManual || t == TriggerTimeout
}

// Attempt is one learner's run through one quiz. StartedAt and
// TimeLimitSnapshotMinutes never change after creation.
type Attempt struct {
	ID                       string            `json:"id"`
	LearnerID                string            `json:"learnerId"`
	QuizID                   string            `json:"quizId"`
	Status                   AttemptStatus     `json:"status"`
	StartedAt                time.Time         `json:"startedAt"`
	CompletedAt              *time.Time        `json:"completedAt,omitempty"`
	TimeLimitSnapshotMinutes *int              `json:"timeLimitSnapshotMinutes,omitempty"`
	ScorePercent             *int              `json:"scorePercent"`
	Passed                   *bool             `json:"passed"`
	CompletionTrigger        CompletionTrigger `json:"completionTrigger,omitempty"`
}

// Completed reports whether the attempt reached its terminal state.
func (a Attempt) Completed() bool {
	return a.Status == AttemptCompleted
}

// Answer is the saved response to one question of one attempt.
type Answer struct {
	AttemptID    string     `json:"attemptId"`
	QuestionID   string     `json:"questionId"`
	Value        []string   `json:"value"`
	IsCorrect    *bool      `json:"isCorrect"`
	PointsEarned *int       `json:"pointsEarned"`
	GradedAt     *time.Time `json:"gradedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// QuestionScore is the scorer's verdict for a single question. Nil fields
// mean the question still waits for a human grade.
type QuestionScore struct {
	IsCorrect    *bool `json:"isCorrect"`
	PointsEarned *int  `json:"pointsEarned"`
}

// ScoreResult aggregates the scorer output for a whole attempt.
type ScoreResult struct {
	PerQuestion             map[string]QuestionScore `json:"perQuestion"`
	TotalPoints             int                      `json:"totalPoints"`
	MaxPoints               int                      `json:"maxPoints"`
	ScorePercent            *int                     `json:"scorePercent"`
	HasManualGradingPending bool                     `json:"hasManualGradingPending"`
}

// Completion is everything the store persists when an attempt finishes.
type Completion struct {
	AttemptID    string
	CompletedAt  time.Time
	Trigger      CompletionTrigger
	ScorePercent *int
	Passed       *bool
	// Grades holds auto-graded verdicts keyed by question id. Manual
	// questions are never included.
	Grades map[string]QuestionScore
}

// QuestionResult is one row of a learner-facing result.
type QuestionResult struct {
	QuestionID   string       `json:"questionId"`
	Type         QuestionType `json:"type"`
	Value        []string     `json:"value"`
	IsCorrect    *bool        `json:"isCorrect"`
	PointsEarned *int         `json:"pointsEarned"`
	Points       int          `json:"points"`
}

// AttemptResult is the shape returned by complete and fetch-results.
type AttemptResult struct {
	Attempt                 Attempt           `json:"attempt"`
	Questions               []QuestionResult  `json:"questions,omitempty"`
	TotalPoints             int               `json:"totalPoints"`
	MaxPoints               int               `json:"maxPoints"`
	ScorePercent            *int              `json:"scorePercent"`
	Passed                  *bool             `json:"passed"`
	HasManualGradingPending bool              `json:"hasManualGradingPending"`
	Trigger                 CompletionTrigger `json:"trigger,omitempty"`
}

// StartResult is returned when a learner starts or resumes an attempt.
type StartResult struct {
	Attempt          Attempt        `json:"attempt"`
	Questions        []QuestionView `json:"questions"`
	Answers          []Answer       `json:"answers"`
	RemainingSeconds *int           `json:"remainingSeconds"`
	Resumed          bool           `json:"resumed"`
}

// AttemptState is the live view of an attempt used by the websocket.
type AttemptState struct {
	Attempt          Attempt  `json:"attempt"`
	Answers          []Answer `json:"answers"`
	RemainingSeconds *int     `json:"remainingSeconds"`
}
