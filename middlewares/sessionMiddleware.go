package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
)

// Session is what the auth service stores in redis under Session:<token>.
type Session struct {
	TenantId string `json:"tenant_id"`
	Role     string `json:"role"`
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
}

// SessionLookup resolves a token. exists is false for unknown or expired tokens.
type SessionLookup func(ctx context.Context, token string) (session *Session, exists bool, err error)

func SessionKey(token string) string {
	return "Session:" + token
}

func LoadRedisSession(ctx context.Context, token string) (*Session, bool, error) {
	var session Session
	exists, err := config.GetRedisObject(SessionKey(token), &session)
	if err != nil || !exists {
		return nil, false, err
	}
	return &session, true, nil
}

// SessionMiddleware puts the caller's tenant, role and user into the request context.
// Requests without a token pass through unauthenticated; RequireSession rejects them later.
func SessionMiddleware(lookup SessionLookup) gin.HandlerFunc {
	if lookup == nil {
		lookup = LoadRedisSession
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Request.Header.Get("token"))
		if token == "" {
			c.Next()
			return
		}
		session, exists, err := lookup(c.Request.Context(), token)
		if err != nil || !exists || session == nil || session.TenantId == "" || !models.UserRole(session.Role).IsValid() {
			if err != nil {
				config.LogError(config.GetLogger(), "sessionMiddleware.go", "SessionMiddleware", "loading session", nil, err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetTenantIdInContext(ctx, session.TenantId)
		ctx = utils.SetRoleInContext(ctx, session.Role)
		ctx = utils.SetUserIdInContext(ctx, session.UserId)
		ctx = utils.SetUserNameInContext(ctx, session.UserName)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := utils.RequireTenant(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireRoles lets the request through only when the session role is one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := utils.GetRoleFromContext(c.Request.Context())
		for _, r := range roles {
			if strings.EqualFold(role, string(r)) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": utils.ErrorForbidden.Error()})
	}
}

// CorrelationMiddleware reuses the caller's x-correlation-id or generates one.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}
