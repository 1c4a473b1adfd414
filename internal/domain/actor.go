package domain

// Role is the caller's role as asserted by the identity token.
type Role string

const (
	RoleLearner Role = "learner"
	RoleGrader  Role = "grader"
	RoleSystem  Role = "system"
)

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by background jobs such as the expiry sweeper.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Learner builds a learner actor.
func Learner(id string) Actor {
	return Actor{ID: id, Role: RoleLearner}
}

// Grader builds a grader actor.
func Grader(id string) Actor {
	return Actor{ID: id, Role: RoleGrader}
}
