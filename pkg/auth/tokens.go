// Package auth issues and verifies signed identity assertions and manages
// their revocation through a pluggable blacklist store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devmate/devmate/pkg/logging"
	"github.com/devmate/devmate/pkg/session"
)

var (
	ErrNoToken      = errors.New("no authentication token provided")
	ErrInvalidToken = errors.New("invalid authentication token")
	ErrExpiredToken = errors.New("token has expired")
	ErrRevokedToken = errors.New("token has been revoked")
)

// Identity is the subject encoded in an assertion token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Claims represents the JWT claims for a user
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues, verifies and revokes JWT assertion tokens.
// Revocation checks consult the injected session store; store outages are
// treated as "not revoked" so auth stays available under partition.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
	maxTTL    time.Duration
	sessions  session.Store
	logger    *logging.Logger
	mu        sync.RWMutex
	now       func() time.Time
}

// NewTokenManager creates a token manager with the given secret key.
// ttl is the validity window of issued tokens; maxTTL bounds blacklist
// entry lifetimes so the store never grows unbounded.
func NewTokenManager(secretKey string, ttl, maxTTL time.Duration, sessions session.Store, logger *logging.Logger) (*TokenManager, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("auth: secret key not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxTTL < ttl {
		maxTTL = ttl
	}
	return &TokenManager{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		maxTTL:    maxTTL,
		sessions:  sessions,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// WithClock overrides the manager's clock for tests.
func (tm *TokenManager) WithClock(now func() time.Time) *TokenManager {
	tm.mu.Lock()
	tm.now = now
	tm.mu.Unlock()
	return tm
}

func (tm *TokenManager) clock() func() time.Time {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.now
}

// Issue generates a signed token for the identity, valid for the
// configured window.
func (tm *TokenManager) Issue(identity Identity) (string, error) {
	now := tm.clock()()
	claims := &Claims{
		Email: identity.Email,
		Name:  identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry locally, then consults the blacklist.
// Either an expired or a revoked token is rejected; local checks run first
// because they need no round-trip.
func (tm *TokenManager) Verify(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrNoToken
	}

	claims, err := tm.parse(tokenString)
	if err != nil {
		return Identity{}, err
	}

	if tm.sessions != nil {
		revoked, err := tm.sessions.IsRevoked(ctx, tokenString)
		if err != nil {
			// Fail open: availability over strict revocation under partition.
			if tm.logger != nil {
				_ = tm.logger.Warn(logging.CategoryAuth, "blacklist_unavailable",
					"session store unreachable, treating token as not revoked",
					map[string]any{"error": err.Error()})
			}
		} else if revoked {
			return Identity{}, ErrRevokedToken
		}
	}

	return Identity{ID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// Revoke blacklists the presented token for the remainder of its validity,
// capped at the maximum token lifetime.
func (tm *TokenManager) Revoke(ctx context.Context, tokenString string) error {
	if tokenString == "" {
		return ErrNoToken
	}

	// Parse without verifying: a token being revoked may already be near
	// expiry, and the caller proved possession by presenting it.
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return ErrInvalidToken
	}

	ttl := tm.maxTTL
	if claims.ExpiresAt != nil {
		remaining := claims.ExpiresAt.Time.Sub(tm.clock()())
		if remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		// Already expired; natural expiry has done the work.
		return nil
	}

	if tm.sessions == nil {
		return nil
	}
	if err := tm.sessions.Revoke(ctx, tokenString, ttl); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (tm *TokenManager) parse(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithTimeFunc(tm.clock()))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
