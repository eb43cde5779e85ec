package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/devmate/devmate/pkg/auth"
	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/logging"
)

type contextKey string

const identityContextKey contextKey = "identity"

// identityFromContext returns the authenticated identity, if any.
func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(auth.Identity)
	return id, ok
}

// corsMiddleware adds CORS headers based on the allowed origins list.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// loggingMiddleware records one event per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.logger != nil {
			_ = s.logger.Debug(logging.CategoryServer, "http_request", r.Method+" "+r.URL.Path,
				map[string]any{"duration_ms": time.Since(start).Milliseconds()})
		}
	})
}

// authMiddleware requires a valid token and attaches the identity to the
// request context. Expired and revoked tokens both surface as a plain 401;
// the distinct cause is logged server-side.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		identity, err := s.tokens.Verify(r.Context(), token)
		if err != nil {
			s.writeError(w, r, authError(err))
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken pulls the credential from the Authorization header, falling
// back to the token cookie set at login.
func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}

// authError translates auth sentinel errors into the coded taxonomy.
func authError(err error) error {
	switch {
	case errors.Is(err, auth.ErrNoToken):
		return derrors.Wrap(err, derrors.ErrCodeNoCredential, "no credential")
	case errors.Is(err, auth.ErrExpiredToken):
		return derrors.Wrap(err, derrors.ErrCodeTokenExpired, "token expired")
	case errors.Is(err, auth.ErrRevokedToken):
		return derrors.Wrap(err, derrors.ErrCodeTokenRevoked, "token revoked")
	default:
		return derrors.Wrap(err, derrors.ErrCodeUnauthenticated, "invalid token")
	}
}

// clientLimiter hands out one token bucket per client for message-bearing
// endpoints.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newClientLimiter() *clientLimiter {
	return &clientLimiter{clients: make(map[string]*rate.Limiter)}
}

func (c *clientLimiter) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.clients[key]
	if !ok {
		// 10 writes per second with small bursts is generous for an editor.
		l = rate.NewLimiter(rate.Limit(10), 20)
		c.clients[key] = l
	}
	return l
}

// rateLimitMiddleware throttles per authenticated user, falling back to the
// remote address for anonymous callers.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !s.limiter.get(key).Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id, ok := identityFromContext(r.Context()); ok {
		return id.ID
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
