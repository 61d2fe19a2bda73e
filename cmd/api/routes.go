package main

import (
	"context"
	"net/http"
	"time"

	"alara-platform/internal/convai"
	"alara-platform/internal/httpapi"
	"alara-platform/pkg/logger"
	"alara-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type routeDeps struct {
	db          pinger
	registry    *prometheus.Registry
	webhookPath string
	webhook     convai.WebhookHandler
	api         httpapi.Handlers
	authMW      gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	// Provider webhook. Authenticated by HMAC signature, not by JWT.
	r.POST(d.webhookPath, d.webhook.Handle)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		d.api.Register(v1)
	}
}
