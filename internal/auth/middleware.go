package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/models"
	"github.com/Tyrowin/echoes/internal/store"
)

const contextUserKey = "echoes.user"

// UserLoader is the store method the middleware needs.
type UserLoader interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
}

// Guard authenticates requests from the token cookie or a bearer header.
type Guard struct {
	tokens *Manager
	users  UserLoader
	cache  *cache.Cache
}

// NewGuard returns a Guard. Loaded users are cached for cacheTTL; zero
// disables caching.
func NewGuard(tokens *Manager, users UserLoader, cacheTTL time.Duration) *Guard {
	g := &Guard{tokens: tokens, users: users}
	if cacheTTL > 0 {
		g.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return g
}

// Protect rejects requests without a valid token for an existing user and
// stores the user in the gin context.
func (g *Guard) Protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := RequestToken(c.Request)
		if token == "" {
			zap.S().Warnw("unauthorized access attempt, no token", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "No token provided"})
			return
		}

		claims, err := g.tokens.Verify(token)
		if err != nil {
			zap.S().Warnw("invalid token provided", "ip", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		user, err := g.load(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
				zap.S().Warnw("token valid but user not found", "user_id", claims.UserID)
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "User not found"})
				return
			}
			zap.S().Errorw("loading authenticated user", "user_id", claims.UserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

// Forget drops a cached user, e.g. after a profile update.
func (g *Guard) Forget(userID string) {
	if g.cache != nil {
		g.cache.Delete(userID)
	}
}

func (g *Guard) load(ctx context.Context, id string) (*models.User, error) {
	if g.cache != nil {
		if v, ok := g.cache.Get(id); ok {
			return v.(*models.User), nil
		}
	}

	user, err := g.users.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		g.cache.SetDefault(id, user)
	}
	return user, nil
}

// CurrentUser returns the user stored by Protect.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

// RequestToken returns the token from the cookie, falling back to an
// Authorization bearer header.
func RequestToken(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
