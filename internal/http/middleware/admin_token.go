package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"pehlione.com/settlement/internal/shared/apperr"
)

// RequireAdminToken guards operator endpoints with a static bearer token.
func RequireAdminToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			Fail(c, apperr.UnauthorizedErr("admin token required"))
			return
		}
		c.Next()
	}
}
