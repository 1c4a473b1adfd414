package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quiz-attempt-service/internal/domain"
)

// Claims carries the caller identity. The subject is the learner or grader id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 tokens.
type Service struct {
	hmac   []byte
	issuer string
	now    func() time.Time
}

func NewService(secret, issuer string) *Service {
	return &Service{hmac: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for actor that is valid for ttl.
func (s *Service) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.hmac)
}

// Parse verifies a token and returns the actor it names. System tokens are
// never accepted from the outside.
func (s *Service) Parse(tokenStr string) (domain.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.hmac, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	role := domain.Role(claims.Role)
	if role != domain.RoleLearner && role != domain.RoleGrader {
		return domain.Actor{}, fmt.Errorf("%w: unsupported role %q", domain.ErrUnauthenticated, claims.Role)
	}
	return domain.Actor{ID: claims.Subject, Role: role}, nil
}

type ctxKey struct{}

// WithActor stores the caller in ctx.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the caller stored by Middleware.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(ctxKey{}).(domain.Actor)
	return actor, ok
}

// Middleware requires a valid bearer token and stores the actor in the
// request context. Failures are reported through onError so the transport
// keeps one error format.
func Middleware(s *Service, onError func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				onError(w, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthenticated))
				return
			}
			actor, err := s.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
