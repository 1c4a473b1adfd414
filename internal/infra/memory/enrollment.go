package memory

import (
	"context"
	"sync"
)

// Enrollments is an in-memory course roster. A course listed with the
// learner "*" is open to everyone.
type Enrollments struct {
	mu      sync.RWMutex
	courses map[string]map[string]struct{}
}

func NewEnrollments(roster map[string][]string) *Enrollments {
	e := &Enrollments{courses: make(map[string]map[string]struct{})}
	for courseID, learners := range roster {
		for _, learnerID := range learners {
			e.Enroll(courseID, learnerID)
		}
	}
	return e
}

// Enroll adds a learner to a course.
func (e *Enrollments) Enroll(courseID, learnerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	learners, ok := e.courses[courseID]
	if !ok {
		learners = make(map[string]struct{})
		e.courses[courseID] = learners
	}
	learners[learnerID] = struct{}{}
}

func (e *Enrollments) IsEnrolled(_ context.Context, learnerID, courseID string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	learners := e.courses[courseID]
	if _, ok := learners["*"]; ok {
		return true, nil
	}
	_, ok := learners[learnerID]
	return ok, nil
}
