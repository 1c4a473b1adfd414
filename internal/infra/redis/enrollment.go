package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EnrollmentChecker is the source of truth the cache sits in front of.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, learnerID, courseID string) (bool, error)
}

// EnrollmentCache remembers enrollment decisions for a short TTL. Entries are
// stored as enrollment:{courseID}:{learnerID} with value "1" or "0".
type EnrollmentCache struct {
	client *redis.Client
	source EnrollmentChecker
	ttl    time.Duration
	logger *zap.Logger
}

func NewEnrollmentCache(client *redis.Client, source EnrollmentChecker, ttl time.Duration, logger *zap.Logger) *EnrollmentCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentCache{client: client, source: source, ttl: ttl, logger: logger}
}

func (c *EnrollmentCache) IsEnrolled(ctx context.Context, learnerID, courseID string) (bool, error) {
	k := enrollmentKey(courseID, learnerID)
	v, err := c.client.Get(ctx, k).Result()
	switch {
	case err == nil:
		return v == "1", nil
	case !errors.Is(err, redis.Nil):
		return false, fmt.Errorf("read enrollment cache: %w", err)
	}

	enrolled, err := c.source.IsEnrolled(ctx, learnerID, courseID)
	if err != nil {
		return false, err
	}
	value := "0"
	if enrolled {
		value = "1"
	}
	if err := c.client.Set(ctx, k, value, c.ttl).Err(); err != nil {
		c.logger.Warn("cache enrollment",
			zap.String("course_id", courseID), zap.String("learner_id", learnerID), zap.Error(err))
	}
	return enrolled, nil
}

func enrollmentKey(courseID, learnerID string) string {
	return "enrollment:" + courseID + ":" + learnerID
}
