package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wager-core/internal/services"
)

// Sessions is satisfied by services.SessionStore.
type Sessions interface {
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// AuthMiddleware validates the bearer token. sessions may be nil, in which
// case logouts are not enforced.
func AuthMiddleware(jwtService *services.JWTService, sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			// browsers cannot set headers on websocket upgrades
			tokenString = c.Query("token")
			if tokenString == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
				c.Abort()
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		if sessions != nil {
			revoked, err := sessions.IsRevoked(c.Request.Context(), claims.SessionID)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session check unavailable"})
				c.Abort()
				return
			}
			if revoked {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Session has been logged out"})
				c.Abort()
				return
			}
		}

		c.Set("user_id", claims.UserID)
		c.Set("session_id", claims.SessionID)
		if claims.ExpiresAt != nil {
			c.Set("session_expires_at", claims.ExpiresAt.Time)
		}

		c.Next()
	}
}

// Limiter is satisfied by services.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, userID int64, action string, limit int, window time.Duration) (bool, error)
}

type RateRule struct {
	Action string
	Limit  int
	Window time.Duration
}

// DefaultRateRules maps path fragments to their per-user limits.
var DefaultRateRules = map[string]RateRule{
	"/games/dice":      {Action: "dice", Limit: services.DefaultRateLimitSettle, Window: time.Minute},
	"/fairness/rotate": {Action: "rotate", Limit: services.DefaultRateLimitRotate, Window: time.Minute},
	"/fairness/verify": {Action: "verify", Limit: services.DefaultRateLimitVerify, Window: time.Minute},
	"/outcomes":        {Action: "replay", Limit: services.DefaultRateLimitVerify, Window: time.Minute},
}

// RateLimitMiddleware limits authenticated requests whose path matches a
// rule. Anonymous requests are keyed by client IP under user id 0. Limiter
// errors let the request through.
func RateLimitMiddleware(limiter Limiter, rules map[string]RateRule, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		var (
			rule    RateRule
			matched bool
		)
		for fragment, r := range rules {
			if strings.Contains(path, fragment) {
				rule, matched = r, true
				break
			}
		}
		if !matched {
			c.Next()
			return
		}

		userID := c.GetInt64("user_id")
		action := rule.Action
		if userID == 0 {
			action += ":" + c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), userID, action, rule.Limit, rule.Window)
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", "action", rule.Action, "error", err)
			}
			c.Next()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": rule.Window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
