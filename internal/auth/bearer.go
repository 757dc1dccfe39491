package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrMissingBearer and ErrInvalidBearer distinguish the two ways ingestion
// auth can fail without leaking which side (header shape vs. token value)
// was wrong to the caller, per §7's authorization-error rule.
var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidBearer = errors.New("invalid bearer token")
)

// BearerAuth validates the single static token configured at
// auth.api_token (§6). Unlike the JWKS-backed Validator, there is no
// issuer/audience or expiry: the token either matches or it doesn't.
type BearerAuth struct {
	token string
}

// NewBearerAuth constructs a BearerAuth for the given configured token.
func NewBearerAuth(token string) *BearerAuth {
	return &BearerAuth{token: token}
}

// Authenticate extracts and checks the Authorization header, returning
// ErrMissingBearer or ErrInvalidBearer on failure.
func (b *BearerAuth) Authenticate(header string) error {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ErrMissingBearer
	}
	presented := strings.TrimPrefix(header, prefix)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(b.token)) != 1 {
		return ErrInvalidBearer
	}
	return nil
}

// Middleware returns a Gin middleware enforcing the ingestion API's bearer
// auth requirement (§4.H: "Bearer token required").
func (b *BearerAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := b.Authenticate(c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
