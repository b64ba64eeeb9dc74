package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ebbinghaus/internal/clock"
	logx "ebbinghaus/pkg/logx"
)

func NewRouter(cfg Config, deps Deps) *gin.Engine {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	h := &handler{deps: deps}

	r := gin.New()
	r.Use(recovery(deps.Log), requestLog(deps.Log), bodyLimit(cfg.BodyLimit))

	r.POST("/create_user", h.createUser)
	r.POST("/add_reminder", h.addReminder)
	r.GET("/user/:id", h.getUser)
	r.GET("/reminder/:id/schedule", h.getSchedule)

	r.GET("/healthz", h.health)
	r.GET("/scheduler", h.scheduler)
	r.GET("/deliveries", h.deliveries)

	r.NoRoute(func(c *gin.Context) { c.AbortWithStatus(http.StatusNotFound) })
	return r
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}

func recovery(log logx.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		log.Error("http handler panicked", logx.String("path", c.Request.URL.Path), logx.Any("panic", err))
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
