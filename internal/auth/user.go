package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userHeader = "X-User-Id"
	userField  = "user_id"
	userCtxKey = "auth.user_id"
)

// UserMiddleware resolves the calling user from the X-User-Id header, the
// user_id query parameter or the user_id form field, in that order. It never
// rejects a request; operations that need a user check for it themselves.
func UserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(userHeader)
		if id == "" {
			id = c.Query(userField)
		}
		if id == "" && isForm(c) {
			id = c.PostForm(userField)
		}
		c.Set(userCtxKey, strings.TrimSpace(id))
		c.Next()
	}
}

// UserID returns the user resolved by UserMiddleware, or "".
func UserID(c *gin.Context) string {
	return c.GetString(userCtxKey)
}

func isForm(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == "multipart/form-data" || ct == "application/x-www-form-urlencoded"
}
