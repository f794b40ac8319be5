package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"realtime-service/internal/gateway"
	"realtime-service/internal/handler"
	"realtime-service/internal/metrics"
	"realtime-service/internal/middleware"
)

type Config struct {
	Env            string
	BasePath       string
	AllowedOrigins string
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Gateway        *gateway.Gateway
	Health         *handler.HealthHandler
}

func Setup(cfg Config) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	r.GET("/health", cfg.Health.Health)
	r.GET("/ready", cfg.Health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group(cfg.BasePath)
	{
		if cfg.BasePath != "" && cfg.BasePath != "/" {
			api.GET("/health", cfg.Health.Health)
			api.GET("/ready", cfg.Health.Ready)
		}
		api.GET("/ws", cfg.Gateway.HandleWebSocket)
	}

	return r
}
