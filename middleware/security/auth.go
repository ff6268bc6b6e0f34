package security

import (
	"net/http"
	"strings"

	"PPRelay/tools/errs"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
)

// PPCtxUserKey 认证通过后写入 context 的用户ID
const PPCtxUserKey = "userId"

// Middleware 校验 Authorization: Bearer <jwt>，sub 即用户ID
func Middleware(opts security.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}
		user, err := security.Verify(opts, token)
		if err != nil {
			var ce errs.CodeError
			if errs.Code(err) == errs.TokenExpiredError {
				ce = errs.ErrTokenExpired
			} else {
				ce = errs.ErrUnauthorized
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, ce)
			return
		}
		c.Set(PPCtxUserKey, user)
		c.Next()
	}
}

// UserID 读取认证用户
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserKey)
}
