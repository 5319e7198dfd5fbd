package statusserver

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

// requestLogger returns structured per-request logging middleware, adapted
// from the teacher's internal/server/middlewares.Logger. The status
// endpoint itself is noisy under watch-status polling, so it's filtered
// the same way the teacher filters its own high-frequency view endpoint.
func requestLogger() gin.HandlerFunc {
	httpLogger := slog.Default().WithGroup("http")

	return slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
		Filters: []slogGin.Filter{
			slogGin.IgnorePath("/v1/status"),
		},
	})
}
