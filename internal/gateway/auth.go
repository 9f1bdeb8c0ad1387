package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"modelgate/internal/quota"
)

const (
	contextUserKey = "user_id"
	contextTierKey = "tier"
)

// Authenticator validates optional bearer tokens. Requests without a
// token proceed as anonymous; requests with an invalid token are
// rejected.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

type claims struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
	jwt.RegisteredClaims
}

// Middleware resolves the requesting user. The user id comes from the
// user_id claim, falling back to the subject.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || len(a.secret) == 0 {
			c.Set(contextUserKey, "anonymous")
			c.Next()
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}

		var cl claims
		token, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		userID := cl.UserID
		if userID == "" {
			userID = cl.Subject
		}
		if userID == "" {
			userID = "anonymous"
		}
		c.Set(contextUserKey, userID)
		if tier, ok := quota.ParseTier(cl.Tier); ok {
			c.Set(contextTierKey, tier)
		}
		c.Next()
	}
}

// UserID returns the authenticated user for a request, or "anonymous".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(contextUserKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anonymous"
}

// TierOf resolves the caller's tier: a verified tier claim wins over the
// user-id conventions.
func TierOf(c *gin.Context, userID string) quota.Tier {
	if v, ok := c.Get(contextTierKey); ok {
		if t, ok := v.(quota.Tier); ok {
			return t
		}
	}
	return quota.TierFor(userID)
}
