package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// jwtAuthenticator validates bearer tokens against a single shared
// secret. This is a single-operator control plane, not the teacher's
// multi-tenant user_id-scoped auth — every request that presents a
// valid token acts as the one operator, so there is no per-user claim
// to extract and stash on the gin context.
type jwtAuthenticator struct {
	secret []byte
}

func newJWTAuthenticator(secret string) *jwtAuthenticator {
	return &jwtAuthenticator{secret: []byte(secret)}
}

// middleware rejects requests without a valid "Bearer <token>"
// Authorization header. An empty secret disables the check entirely
// (local/dev runs with no operator-facing network exposure).
func (a *jwtAuthenticator) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return a.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// IssueToken mints a bearer token for the operator, used by an
// out-of-band admin command rather than any HTTP route (there is no
// login endpoint — the operator holds the shared secret already).
func IssueToken(secret string, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
