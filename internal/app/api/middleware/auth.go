package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prepmed/billing/pkg/config"
	"github.com/prepmed/billing/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

const (
	ContextUserIDKey     = "user_id"
	ContextOperatorIDKey = "operator_id"
)

// SessionClaims is the JWT payload minted by the identity subsystem.
type SessionClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

func parseToken(c *gin.Context, secret string) (*SessionClaims, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing authorization header")
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header {
		return nil, fmt.Errorf("authorization header is not a bearer token")
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func setUser(c *gin.Context, userID string) {
	c.Set(ContextUserIDKey, userID)
	ctx := context.WithValue(c.Request.Context(), ContextUserIDKey, userID)
	c.Request = c.Request.WithContext(ctx)
}

// OptionalAuthMiddleware attaches the user id when a valid session token is
// present and lets the request through either way. Used for endpoints that
// serve both guests and registered users.
func OptionalAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := parseToken(c, cfg.Admin.JWTSecret); err == nil {
			setUser(c, claims.UserID)
		}
		c.Next()
	}
}

// AuthMiddleware rejects requests without a valid session token.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseToken(c, cfg.Admin.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, "unauthorized"))
			return
		}
		setUser(c, claims.UserID)
		c.Next()
	}
}

// AdminAuthMiddleware additionally requires the admin role and exposes the
// operator id for audit trails.
func AdminAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseToken(c, cfg.Admin.JWTSecret)
		if err != nil || claims.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeForbidden, "forbidden"))
			return
		}
		setUser(c, claims.UserID)
		c.Set(ContextOperatorIDKey, claims.UserID)
		c.Next()
	}
}
