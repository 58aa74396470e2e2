package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIBodyLimit 接口只接收 {"ttl": n} 这样的小请求体
const APIBodyLimit = 4 * 1024

// BodySizeLimit 拒绝声明长度超限的请求，并截断未声明长度的请求体
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code": http.StatusRequestEntityTooLarge,
				"msg":  "请求体过大",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
