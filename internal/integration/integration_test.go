package integration

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
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
	rediscache "quiz-attempt-service/internal/infra/redis"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := pgstore.NewQuizLoader(pool)
	for _, quiz := range sampleQuizzes() {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			t.Fatalf("seed quiz: %v", err)
		}
	}
	enrollments := pgstore.NewEnrollments(pool)
	for _, learner := range []string{"u1", "u2"} {
		if err := enrollments.Enroll(ctx, "course-1", learner); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	clk := &clock{now: time.Now().UTC().Truncate(time.Microsecond)}
	service := app.NewAttemptService(
		pgstore.NewAttemptStore(pool),
		rediscache.NewQuizRepository(redisClient, loader, 5*time.Minute, nil),
		rediscache.NewEnrollmentCache(redisClient, enrollments, time.Minute, nil),
		app.WithClock(clk.Now),
	)

	t.Run("concurrent starts share one attempt", func(t *testing.T) {
		const n = 10
		ids := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := service.Start(ctx, domain.Learner("u1"), "quiz-1")
				if err != nil {
					t.Errorf("start %d: %v", i, err)
					return
				}
				ids[i] = res.Attempt.ID
			}(i)
		}
		wg.Wait()
		for i := range ids {
			if ids[i] != ids[0] {
				t.Fatalf("expected one attempt, got %s and %s", ids[0], ids[i])
			}
		}
	})

	t.Run("pending manual grading then graded", func(t *testing.T) {
		learner := domain.Learner("u1")
		res, err := service.Start(ctx, learner, "quiz-1")
		if err != nil || !res.Resumed {
			t.Fatalf("expected to resume, got %+v %v", res.Attempt, err)
		}
		id := res.Attempt.ID
		if _, err := service.SaveAnswer(ctx, learner, id, "q1", []string{"o2"}); err != nil {
			t.Fatalf("save q1: %v", err)
		}
		if _, err := service.SaveAnswer(ctx, learner, id, "q2", []string{"goroutines are cheap"}); err != nil {
			t.Fatalf("save q2: %v", err)
		}

		first, err := service.Complete(ctx, learner, id, domain.TriggerManual)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if first.ScorePercent != nil || !first.HasManualGradingPending || first.TotalPoints != 1 {
			t.Fatalf("expected pending result, got %+v", first)
		}
		second, err := service.Complete(ctx, learner, id, domain.TriggerTimeout)
		if err != nil {
			t.Fatalf("second complete: %v", err)
		}
		if !second.Attempt.CompletedAt.Equal(*first.Attempt.CompletedAt) || second.Trigger != domain.TriggerManual {
			t.Fatalf("second complete must be a no-op, got %+v", second.Attempt)
		}
		if _, err := service.SaveAnswer(ctx, learner, id, "q1", []string{"o1"}); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected invalid state, got %v", err)
		}

		graded, err := service.GradeAnswer(ctx, domain.Grader("g1"), id, "q2", 1)
		if err != nil {
			t.Fatalf("grade: %v", err)
		}
		if graded.ScorePercent == nil || *graded.ScorePercent != 100 || graded.Passed == nil || !*graded.Passed {
			t.Fatalf("expected 100%% pass after grading, got %+v", graded)
		}
		list, err := service.ListAttempts(ctx, learner, "quiz-1")
		if err != nil || len(list) != 1 || list[0].ScorePercent == nil || *list[0].ScorePercent != 100 {
			t.Fatalf("expected finalized attempt in storage, got %+v %v", list, err)
		}
	})

	t.Run("timed attempt expires and the limit holds", func(t *testing.T) {
		learner := domain.Learner("u2")
		res, err := service.Start(ctx, learner, "quiz-timed")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		clk.Advance(61 * time.Second)

		if _, err := service.SaveAnswer(ctx, learner, res.Attempt.ID, "t1", []string{"true"}); !errors.Is(err, domain.ErrAttemptExpired) {
			t.Fatalf("expected expired, got %v", err)
		}
		n, err := service.SweepExpired(ctx)
		if err != nil || n != 1 {
			t.Fatalf("expected sweep to complete 1 attempt, got %d %v", n, err)
		}
		result, err := service.Results(ctx, learner, res.Attempt.ID)
		if err != nil || result.Trigger != domain.TriggerTimeout || *result.ScorePercent != 0 {
			t.Fatalf("expected timed-out zero score, got %+v %v", result, err)
		}
		if _, err := service.Start(ctx, learner, "quiz-timed"); !errors.Is(err, domain.ErrAttemptLimitExceeded) {
			t.Fatalf("expected attempt limit, got %v", err)
		}
	})

	t.Run("enrollment is enforced", func(t *testing.T) {
		if _, err := service.Start(ctx, domain.Learner("outsider"), "quiz-1"); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	})
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuizzes() []domain.Quiz {
	limit, passing := 1, 50
	return []domain.Quiz{
		{
			ID:                   "quiz-1",
			CourseID:             "course-1",
			MaxAttempts:          2,
			PassingScorePercent:  &passing,
			ShowResultsToLearner: true,
			IsActive:             true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionMultipleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
					},
					CorrectAnswer: []string{"o2"},
					Points:        1,
					Order:         1,
				},
				{ID: "q2", Type: domain.QuestionOpenEnded, Prompt: "Why goroutines?", Points: 1, Order: 2},
			},
		},
		{
			ID:                   "quiz-timed",
			CourseID:             "course-1",
			TimeLimitMinutes:     &limit,
			MaxAttempts:          1,
			ShowResultsToLearner: true,
			IsActive:             true,
			Questions: []domain.Question{
				{
					ID:            "t1",
					Type:          domain.QuestionTrueFalse,
					Options:       []domain.Option{{ID: "true"}, {ID: "false"}},
					CorrectAnswer: []string{"true"},
					Points:        1,
				},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
