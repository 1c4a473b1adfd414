package app

import (
	"math"

	"quiz-attempt-service/internal/domain"
)

// Score grades answers against questions. It is pure: the same input always
// produces the same output. Choice questions are all-or-nothing set matches;
// OPEN_ENDED and CODE questions reuse a persisted human grade if one exists
// and otherwise stay pending.
func Score(questions []domain.Question, answers map[string]domain.Answer) domain.ScoreResult {
	result := domain.ScoreResult{
		PerQuestion: make(map[string]domain.QuestionScore, len(questions)),
	}

	for _, q := range questions {
		result.MaxPoints += q.Points

		answer, answered := answers[q.ID]
		score := scoreQuestion(q, answer, answered)
		result.PerQuestion[q.ID] = score

		if score.PointsEarned == nil {
			result.HasManualGradingPending = true
			continue
		}
		result.TotalPoints += *score.PointsEarned
	}

	if !result.HasManualGradingPending {
		percent := 0
		if result.MaxPoints > 0 {
			percent = int(math.Round(100 * float64(result.TotalPoints) / float64(result.MaxPoints)))
		}
		result.ScorePercent = &percent
	}
	return result
}

func scoreQuestion(q domain.Question, answer domain.Answer, answered bool) domain.QuestionScore {
	switch q.Type {
	case domain.QuestionMultipleChoice, domain.QuestionTrueFalse, domain.QuestionMultipleSelect:
		correct := answered && sameSet(answer.Value, q.CorrectAnswer)
		points := 0
		if correct {
			points = q.Points
		}
		return domain.QuestionScore{IsCorrect: &correct, PointsEarned: &points}
	case domain.QuestionOpenEnded, domain.QuestionCode:
		if answered && answer.PointsEarned != nil {
			return domain.QuestionScore{
				IsCorrect:    copyBool(answer.IsCorrect),
				PointsEarned: copyInt(answer.PointsEarned),
			}
		}
		return domain.QuestionScore{}
	default:
		// Unknown types cannot be auto-graded; leave them for a human.
		return domain.QuestionScore{}
	}
}

// sameSet compares a and b as sets of option ids.
func sameSet(a, b []string) bool {
	left := toSet(a)
	right := toSet(b)
	if len(left) != len(right) {
		return false
	}
	for k := range left {
		if _, ok := right[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// passed evaluates a score against the quiz threshold. Either side being
// unknown leaves the outcome undetermined.
func passed(scorePercent, passingScorePercent *int) *bool {
	if scorePercent == nil || passingScorePercent == nil {
		return nil
	}
	ok := *scorePercent >= *passingScorePercent
	return &ok
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
