package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	"quiz-attempt-service/internal/infra/postgres"
	"quiz-attempt-service/internal/infra/postgres/migrations"
)

func TestAttemptStoreAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
	pool := startDatabase(t, ctx)

	loader := postgres.NewQuizLoader(pool)
	quiz := raceQuiz()
	if err := loader.SaveQuiz(ctx, quiz); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}
	enrollments := postgres.NewEnrollments(pool)
	for i := 0; i < 12; i++ {
		if err := enrollments.Enroll(ctx, quiz.CourseID, fmt.Sprintf("learner-%d", i)); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}
	store := postgres.NewAttemptStore(pool)
	svc := app.NewAttemptService(store, memory.NewQuizRepository(loader, time.Minute), enrollments)

	t.Run("second open attempt conflicts", func(t *testing.T) {
		now := time.Now().UTC()
		first := domain.Attempt{ID: "dup-1", LearnerID: "learner-0", QuizID: quiz.ID, Status: domain.AttemptInProgress, StartedAt: now}
		if err := store.CreateAttempt(ctx, first); err != nil {
			t.Fatalf("create: %v", err)
		}
		second := first
		second.ID = "dup-2"
		if err := store.CreateAttempt(ctx, second); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("concurrent starts create one row", func(t *testing.T) {
		learner := domain.Learner("learner-1")
		const n = 10
		results := make([]domain.StartResult, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = svc.Start(ctx, learner, quiz.ID)
			}(i)
		}
		wg.Wait()

		fresh := 0
		for i := range results {
			if errs[i] != nil {
				t.Fatalf("start %d: %v", i, errs[i])
			}
			if results[i].Attempt.ID != results[0].Attempt.ID {
				t.Fatalf("expected one attempt, got %s and %s", results[0].Attempt.ID, results[i].Attempt.ID)
			}
			if !results[i].Resumed {
				fresh++
			}
		}
		if fresh != 1 {
			t.Fatalf("expected exactly one new attempt, got %d", fresh)
		}
		rows, err := store.ListAttempts(ctx, learner.ID, quiz.ID)
		if err != nil || len(rows) != 1 {
			t.Fatalf("expected one stored row, got %d %v", len(rows), err)
		}
	})

	t.Run("completion blocks a concurrent save", func(t *testing.T) {
		started, err := svc.Start(ctx, domain.Learner("learner-2"), quiz.ID)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		id := started.Attempt.ID
		saved := make(chan error, 1)
		blocked := false

		err = store.CompleteAttempt(ctx, id, func(answers []domain.Answer) domain.Completion {
			go func() {
				saved <- store.UpsertAnswer(ctx, domain.Answer{AttemptID: id, QuestionID: "q1", Value: []string{"a"}, UpdatedAt: time.Now()})
			}()
			select {
			case <-saved:
			case <-time.After(300 * time.Millisecond):
				blocked = true
			}
			return domain.Completion{AttemptID: id, CompletedAt: time.Now(), Trigger: domain.TriggerManual}
		})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if !blocked {
			t.Fatalf("save must wait for the completion lock")
		}
		if err := <-saved; !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected save after completion to be rejected, got %v", err)
		}

		err = store.CompleteAttempt(ctx, id, func([]domain.Answer) domain.Completion {
			t.Fatalf("finish must not run twice")
			return domain.Completion{}
		})
		if !errors.Is(err, domain.ErrAlreadyCompleted) {
			t.Fatalf("expected already completed, got %v", err)
		}
	})

	t.Run("saves racing complete keep one score", func(t *testing.T) {
		for round := 3; round < 12; round++ {
			learner := domain.Learner(fmt.Sprintf("learner-%d", round))
			started, err := svc.Start(ctx, learner, quiz.ID)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			id := started.Attempt.ID

			var (
				wg       sync.WaitGroup
				complete domain.AttemptResult
			)
			for _, q := range []string{"q1", "q2"} {
				wg.Add(1)
				go func(q string) {
					defer wg.Done()
					_, err := svc.SaveAnswer(ctx, learner, id, q, []string{"a"})
					if err != nil && !errors.Is(err, domain.ErrInvalidState) {
						t.Errorf("save %s: %v", q, err)
					}
				}(q)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := svc.Complete(ctx, learner, id, domain.TriggerManual)
				if err != nil {
					t.Errorf("complete: %v", err)
				}
				complete = res
			}()
			wg.Wait()

			again, err := svc.Complete(ctx, learner, id, domain.TriggerManual)
			if err != nil {
				t.Fatalf("second complete: %v", err)
			}
			stored, err := store.GetAttempt(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if complete.ScorePercent == nil || again.ScorePercent == nil || stored.ScorePercent == nil {
				t.Fatalf("expected scores, got %v %v %v", complete.ScorePercent, again.ScorePercent, stored.ScorePercent)
			}
			if *complete.ScorePercent != *again.ScorePercent || *stored.ScorePercent != *again.ScorePercent {
				t.Fatalf("round %d: complete=%d again=%d stored=%d", round,
					*complete.ScorePercent, *again.ScorePercent, *stored.ScorePercent)
			}
		}
	})

	t.Run("unknown attempt", func(t *testing.T) {
		err := store.CompleteAttempt(ctx, "nope", func([]domain.Answer) domain.Completion { return domain.Completion{} })
		if !errors.Is(err, domain.ErrAttemptNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		err = store.UpsertAnswer(ctx, domain.Answer{AttemptID: "nope", QuestionID: "q1", UpdatedAt: time.Now()})
		if !errors.Is(err, domain.ErrAttemptNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())

	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), pgdialect.New())
	defer db.Close()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func raceQuiz() domain.Quiz {
	return domain.Quiz{
		ID:                   "quiz-race",
		CourseID:             "course-race",
		MaxAttempts:          3,
		ShowResultsToLearner: true,
		IsActive:             true,
		Questions: []domain.Question{
			{ID: "q1", Type: domain.QuestionMultipleChoice, Options: []domain.Option{{ID: "a"}, {ID: "b"}}, CorrectAnswer: []string{"a"}, Points: 1, Order: 1},
			{ID: "q2", Type: domain.QuestionMultipleChoice, Options: []domain.Option{{ID: "a"}, {ID: "b"}}, CorrectAnswer: []string{"a"}, Points: 1, Order: 2},
		},
	}
}
