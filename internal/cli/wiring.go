package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	rediscache "quiz-attempt-service/internal/infra/redis"
)

// backend is the set of adapters the attempt service runs on. With no
// Postgres configured everything lives in memory with a demo quiz.
type backend struct {
	service *app.AttemptService
	close   func()
}

func buildBackend(ctx context.Context, cfg config.Config, logger *zap.Logger, recorder app.Recorder) (backend, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			closeAll()
			return backend{}, err
		}
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			closeAll()
			return backend{}, err
		}
		closers = append(closers, pool.Close)
	}

	var (
		loader      memory.QuizLoader
		enrollments app.EnrollmentChecker
		attempts    app.AttemptStore
	)
	if pool != nil {
		loader = pgstore.NewQuizLoader(pool)
		pgEnrollments := pgstore.NewEnrollments(pool)
		enrollments = pgEnrollments
		if redisClient != nil {
			enrollments = rediscache.NewEnrollmentCache(redisClient, pgEnrollments, redisTTL, logger)
		}
		attempts = pgstore.NewAttemptStore(pool)
	} else {
		logger.Warn("postgres not configured, using in-memory storage with demo quizzes")
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
		enrollments = memory.NewEnrollments(map[string][]string{"course-demo": {"*"}})
		attempts = memory.NewAttemptStore()
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = rediscache.NewQuizRepository(redisClient, loader, quizTTL, logger)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	service := app.NewAttemptService(attempts, quizRepo, enrollments,
		app.WithLogger(logger),
		app.WithRecorder(recorder),
	)
	return backend{service: service, close: closeAll}, nil
}

// sampleQuizzes provides a demo quiz for running without a database.
func sampleQuizzes() map[string]domain.Quiz {
	limit, passing := 10, 60
	return map[string]domain.Quiz{
		"quiz-demo": {
			ID:                   "quiz-demo",
			CourseID:             "course-demo",
			Title:                "Go basics",
			TimeLimitMinutes:     &limit,
			MaxAttempts:          3,
			PassingScorePercent:  &passing,
			ShowResultsToLearner: true,
			IsActive:             true,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionMultipleChoice,
					Prompt: "Which keyword starts a goroutine?",
					Options: []domain.Option{
						{ID: "o1", Text: "async"},
						{ID: "o2", Text: "go"},
						{ID: "o3", Text: "spawn"},
					},
					CorrectAnswer: []string{"o2"},
					Points:        1,
					Order:         1,
				},
				{
					ID:     "q2",
					Type:   domain.QuestionMultipleSelect,
					Prompt: "Which of these are reference types?",
					Options: []domain.Option{
						{ID: "o1", Text: "map"},
						{ID: "o2", Text: "array"},
						{ID: "o3", Text: "slice"},
					},
					CorrectAnswer: []string{"o1", "o3"},
					Points:        2,
					Order:         2,
				},
				{
					ID:            "q3",
					Type:          domain.QuestionTrueFalse,
					Prompt:        "A nil map can be read from.",
					Options:       []domain.Option{{ID: "true", Text: "True"}, {ID: "false", Text: "False"}},
					CorrectAnswer: []string{"true"},
					Points:        1,
					Order:         3,
				},
				{
					ID:     "q4",
					Type:   domain.QuestionOpenEnded,
					Prompt: "Explain when you would reach for a buffered channel.",
					Points: 3,
					Order:  4,
				},
			},
		},
	}
}
