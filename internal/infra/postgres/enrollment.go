package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Enrollments reads course rosters from the enrollments table.
type Enrollments struct {
	pool *pgxpool.Pool
}

func NewEnrollments(pool *pgxpool.Pool) *Enrollments {
	return &Enrollments{pool: pool}
}

func (e *Enrollments) IsEnrolled(ctx context.Context, learnerID, courseID string) (bool, error) {
	var ok bool
	err := e.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id=$1 AND learner_id=$2)`,
		courseID, learnerID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return ok, nil
}

// Enroll adds a learner to a course; enrolling twice is a no-op.
func (e *Enrollments) Enroll(ctx context.Context, courseID, learnerID string) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO enrollments (course_id, learner_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		courseID, learnerID)
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	return nil
}
