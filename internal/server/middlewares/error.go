package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"soika/jobrouter/pkg/errorutil"
	"soika/jobrouter/pkg/ginx"
	"soika/jobrouter/pkg/logger"
)

// ErrorHandler turns panics and errors left on the context into a JSON
// reply. Errors carrying an errorutil code keep it; the rest are 500s.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf(c.Request.Context(), "[HTTP] Panic on %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				c.Abort()
				ginx.InternalError(c, "internal error")
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		resp := errorutil.UnWrapResponse(c.Errors.Last().Err)
		code := resp.Code
		if code < http.StatusBadRequest || code > 599 {
			code = http.StatusInternalServerError
		}
		if resp.DevDetails != "" {
			log.Errorf(c.Request.Context(), "[HTTP] %s %s: %s (%s)", c.Request.Method, c.Request.URL.Path, resp.Message, resp.DevDetails)
		}
		ginx.Error(c, code, resp.Message)
	}
}
