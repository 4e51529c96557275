package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"agent-brain-go/pkg/log"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 上传接口的请求体可能很大，这里只记录元信息，不回读请求体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
	}
}
