// Package authstore implements the AuthStore collaborator the Expert
// endpoint depends on: validating bearer tokens as JWTs and API keys
// against Postgres, checking subscription status (cached in Redis),
// and writing an audit trail.
package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	fpjwt "github.com/Aleqsd/ferretptimize/internal/pkg/jwt"
)

// ErrNotFound means the token did not resolve to a user.
var ErrNotFound = errors.New("authstore: not found")

// User is the minimal identity the Expert gate needs.
type User struct {
	ID   uuid.UUID
	Role string
}

// Store backs the AuthStore contract. db and redisClient may be nil
// (e.g. in a dev deployment without persistence); lookups then always
// miss rather than panicking.
type Store struct {
	db    *sqlx.DB
	redis *redis.Client
	jwt   *fpjwt.Service

	subscriptionCacheTTL time.Duration
}

// New constructs a Store. jwtService validates bearer/cookie access
// tokens; db/redisClient back API keys and subscription lookups.
func New(db *sqlx.DB, redisClient *redis.Client, jwtService *fpjwt.Service) *Store {
	return &Store{db: db, redis: redisClient, jwt: jwtService, subscriptionCacheTTL: 60 * time.Second}
}

// ValidateAccess resolves a bearer access token or fp_access cookie
// value to its user, per the JWT claims.
func (s *Store) ValidateAccess(ctx context.Context, token string) (*User, error) {
	if s.jwt == nil || token == "" {
		return nil, ErrNotFound
	}
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, ErrNotFound
	}
	if claims.IsBanned {
		return nil, ErrNotFound
	}
	return &User{ID: claims.UserID, Role: claims.Role}, nil
}

type apiKeyRow struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	KeyHash   string     `db:"key_hash"`
	Scope     string     `db:"scope"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// APIKeyAllowed looks up token by its fixed-length prefix, bcrypt-compares
// the whole token against the stored hash, and checks scope and
// revocation. Returns ErrNotFound on any mismatch.
func (s *Store) APIKeyAllowed(ctx context.Context, token, scope string) (*User, error) {
	if s.db == nil || token == "" {
		return nil, ErrNotFound
	}
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	var rows []apiKeyRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, key_hash, scope, revoked_at FROM api_keys WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, ErrNotFound
	}

	for _, row := range rows {
		if row.RevokedAt != nil {
			continue
		}
		if row.Scope != "" && scope != "" && row.Scope != scope {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(row.KeyHash), []byte(token)) == nil {
			return &User{ID: row.UserID}, nil
		}
	}
	return nil, ErrNotFound
}

// HasActiveSubscription reports whether userID currently has a
// subscription in status {active, trialing, past_due} with a future
// period_end, caching a positive/negative result in Redis for
// subscriptionCacheTTL to keep the hot Expert-gate path off Postgres.
func (s *Store) HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error) {
	cacheKey := "fp:sub:active:" + userID.String()
	if s.redis != nil {
		if v, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			return v == "1", nil
		}
	}

	if s.db == nil {
		return false, nil
	}

	var active bool
	err := s.db.GetContext(ctx, &active, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE user_id = $1
			  AND status IN ('active', 'trialing', 'past_due')
			  AND period_end > now()
		)`, userID)
	if err != nil {
		return false, err
	}

	if s.redis != nil {
		val := "0"
		if active {
			val = "1"
		}
		s.redis.Set(ctx, cacheKey, val, s.subscriptionCacheTTL)
	}
	return active, nil
}

// RecordAudit appends an audit trail row; failures are logged by the
// caller, not surfaced as a gate failure.
func (s *Store) RecordAudit(ctx context.Context, userID uuid.UUID, event string, metadata map[string]interface{}) error {
	if s.db == nil {
		return nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (user_id, event, metadata) VALUES ($1, $2, $3)`,
		userID, event, payload)
	return err
}

// ParseAuthorization splits an "Authorization" header value into its
// scheme ("bearer"/"apikey") and token, matching the header grammar
// used by the Expert gate.
func ParseAuthorization(header string) (scheme, token string) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.ToLower(parts[0]), strings.TrimSpace(parts[1])
}
