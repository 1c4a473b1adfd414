package app

import (
	"sort"

	"quiz-attempt-service/internal/domain"
)

// LearnerQuestions returns the quiz questions in display order with every
// correct-answer field removed.
func LearnerQuestions(quiz domain.Quiz) []domain.QuestionView {
	views := make([]domain.QuestionView, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		var options []domain.Option
		if len(q.Options) > 0 {
			options = make([]domain.Option, len(q.Options))
			copy(options, q.Options)
		}
		views = append(views, domain.QuestionView{
			ID:      q.ID,
			Type:    q.Type,
			Prompt:  q.Prompt,
			Options: options,
			Points:  q.Points,
			Order:   q.Order,
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Order < views[j].Order
	})
	return views
}

// orderedQuestions returns a copy of the quiz questions sorted by Order.
func orderedQuestions(quiz domain.Quiz) []domain.Question {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Order < questions[j].Order
	})
	return questions
}
