package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/botengine/core/config"
)

// NewRouter builds the gin engine serving h.
func NewRouter(h *Handler, cfg config.Config) *gin.Engine {
	router := gin.New()
	router.Use(Recover(), RequestLogger())

	router.GET("/health", h.Health)

	// The webhook hash and the messenger id share one wildcard segment
	// because gin allows a single wildcard name per position.
	bot := router.Group("/bot")
	limits := NewLimiters(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	bot.POST("/:"+keyParam, h.ResolveMessenger, RateLimit(limits), h.Webhook)

	admin := bot.Group("/:"+keyParam, RequireAdmin(cfg.HTTP.AdminToken))
	admin.POST("/enable", h.EnableWebhook)
	admin.POST("/disable", h.DisableWebhook)
	return router
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       120 * time.Second,
	}
}
