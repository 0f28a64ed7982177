package handler

import (
	"log/slog"
	"net/http"
	"time"

	"payledger/internal/config"
	"payledger/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps collects what SetupRouter wires. Redis may be nil, which
// disables rate limiting.
type RouterDeps struct {
	Handler  *Handler
	Redis    redis.Cmdable
	Config   *config.Config
	Metrics  *metrics.Recorder
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

func SetupRouter(d RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "http")

	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	if d.Redis != nil && d.Config != nil && d.Config.RateLimit.Enabled {
		rl := d.Config.RateLimit
		limiter := NewRateLimiter(d.Redis, rl.RequestsPerWindow, time.Duration(rl.WindowSeconds)*time.Second)
		api.Use(RateLimitMiddleware(limiter, d.Metrics, log))
	}

	h := d.Handler
	accounts := api.Group("/accounts")
	{
		accounts.POST("", h.CreateAccount)
		accounts.GET("", h.ListAccounts)
		accounts.GET("/:id", h.GetAccount)
		accounts.GET("/:id/balance", h.GetBalance)
		accounts.PATCH("/:id/status", h.UpdateAccountStatus)
		accounts.GET("/:id/summaries", h.GetDailySummaries)
	}

	transactions := api.Group("/transactions")
	{
		transactions.POST("/deposit", h.Deposit)
		transactions.POST("/withdraw", h.Withdraw)
		transactions.POST("/transfer", h.Transfer)
		transactions.GET("", h.ListTransactions)
		transactions.GET("/:id", h.GetTransaction)
	}

	return r
}
