package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/bloodbank-api/internal/handler"
	"github.com/jwalitptl/bloodbank-api/internal/model"
	"github.com/jwalitptl/bloodbank-api/pkg/auth"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
	roles  map[string][]model.Capability
}

func NewAuthMiddleware(tokens TokenValidator, roles map[string][]model.Capability) *AuthMiddleware {
	if len(roles) == 0 {
		roles = model.DefaultRoleCapabilities()
	}
	return &AuthMiddleware{
		tokens: tokens,
		roles:  roles,
	}
}

// RolesFromConfig converts the configured role map. An empty map yields the
// built-in roles.
func RolesFromConfig(cfg map[string][]string) map[string][]model.Capability {
	if len(cfg) == 0 {
		return model.DefaultRoleCapabilities()
	}
	roles := make(map[string][]model.Capability, len(cfg))
	for role, caps := range cfg {
		for _, c := range caps {
			roles[strings.ToLower(role)] = append(roles[strings.ToLower(role)], model.Capability(strings.ToLower(c)))
		}
	}
	return roles
}

// Authenticate verifies the bearer token and stores the caller identity in
// the context. Capabilities come from the role, not from the token.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.Fail(c, apperrors.Unauthorized(errors.New("missing authorization header")))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			handler.Fail(c, apperrors.Unauthorized(errors.New("invalid authorization format")))
			return
		}

		claims, err := m.tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			handler.Fail(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(handler.ContextIdentity, m.identity(c, claims))
		c.Next()
	}
}

func (m *AuthMiddleware) identity(c *gin.Context, claims *auth.Claims) model.Identity {
	role := strings.ToLower(claims.Role)
	caps := append([]model.Capability(nil), m.roles[role]...)
	return model.Identity{
		ActorID:      claims.Subject,
		ActorName:    claims.Name,
		Role:         role,
		Capabilities: caps,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	}
}
