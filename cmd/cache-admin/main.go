// cache-admin is the operational surface of the response cache layer:
// health and readiness probes, metrics snapshots, and administrative
// invalidation. It boots fail-fast: an unreachable store or invalid
// configuration prevents the process from serving.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/replysage/replysage/pkg/config"
	"github.com/replysage/replysage/pkg/health"
	"github.com/replysage/replysage/pkg/observability"
	"github.com/replysage/replysage/pkg/redis"
	"github.com/replysage/replysage/pkg/responsecache"
)

func main() {
	logger := observability.NewLogger("cache-admin")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", map[string]interface{}{
			"error": err.Error(),
		})
	}

	metrics := observability.NewMetricsClient()

	conn, err := redis.NewConnectionManager(cfg.Redis, logger.WithPrefix("redis"), metrics)
	if err != nil {
		logger.Fatal("failed to connect to backing store", map[string]interface{}{
			"error": err.Error(),
			"addr":  cfg.Redis.Addr(),
		})
	}
	defer func() { _ = conn.Close() }()

	cache, err := responsecache.NewService(conn, cfg.Cache, logger.WithPrefix("responsecache"))
	if err != nil {
		logger.Fatal("failed to initialize cache layer", map[string]interface{}{
			"error": err.Error(),
		})
	}

	monitor := health.NewMonitor(conn, cfg.Health, logger.WithPrefix("health"))
	monitor.Start()
	defer monitor.Stop()

	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, cache, monitor)

	server := &http.Server{
		Addr:         cfg.Admin.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
	}

	go func() {
		logger.Info("admin server listening", map[string]interface{}{
			"addr": cfg.Admin.ListenAddress,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("admin server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func registerRoutes(router *gin.Engine, cache *responsecache.Service, monitor *health.Monitor) {
	router.GET("/healthz", func(c *gin.Context) {
		h := monitor.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, h)
	})

	router.GET("/readyz", func(c *gin.Context) {
		if monitor.IsReady(c.Request.Context()) {
			c.JSON(http.StatusOK, gin.H{"ready": true})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
	})

	router.GET("/metrics", func(c *gin.Context) {
		dbSize, err := monitor.DatabaseSize(c.Request.Context())
		payload := gin.H{
			"cache":      cache.GetMetrics(),
			"connection": monitor.ConnectionStats(),
		}
		if err == nil {
			payload["db_size"] = dbSize
		}
		c.JSON(http.StatusOK, payload)
	})

	router.POST("/metrics/reset", func(c *gin.Context) {
		cache.ResetMetrics()
		c.JSON(http.StatusOK, gin.H{"reset": true})
	})

	router.POST("/invalidate", func(c *gin.Context) {
		var req struct {
			Query    string `json:"query" binding:"required"`
			Language string `json:"language"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ok, err := cache.Invalidate(c.Request.Context(), req.Query, req.Language)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": ok})
	})

	router.POST("/invalidate/category", func(c *gin.Context) {
		var req struct {
			Category string `json:"category" binding:"required"`
			Language string `json:"language"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		count, err := cache.InvalidateByCategory(
			c.Request.Context(),
			responsecache.ParseCategory(req.Category),
			req.Language,
		)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "deleted": count})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": count})
	})
}
