package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyhall/internal/auth"
	"studyhall/internal/httpmiddleware"
)

// NewRouter wires every route. limiter may be nil to disable rate limiting.
func NewRouter(h *Handler, limiter *httpmiddleware.SimpleTokenBucket) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics", "/api/seats"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.ReaderHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/seats", h.Seats)
		api.GET("/stats", h.Stats)
		api.GET("/logs", h.Logs)

		scan := []gin.HandlerFunc{h.CheckIn}
		if limiter != nil {
			scan = append([]gin.HandlerFunc{limiter.GinMiddleware()}, scan...)
		}
		api.POST("/check-in", scan...)

		admin := api.Group("/admin")
		admin.POST("/session", h.OpenSession)
		admin.GET("/session", h.SessionState)

		guarded := admin.Group("", auth.AdminAuth(h.SigningKey, h.Issuer, h.now))
		guarded.DELETE("/session", h.CloseSession)
		guarded.POST("/correct", h.Correct)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such route"})
	})
	return r
}

// securityHeaders sets the usual browser hardening headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
