package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-payflow/internal/ratelimit"
	"go.uber.org/zap"
)

// RouterConfig groups dependencies for the HTTP router.
type RouterConfig struct {
	Orders     *OrdersHandler
	Limiter    *ratelimit.Limiter
	Global     ratelimit.Config
	Sensitive  ratelimit.Config
	Production bool
	Logger     *zap.Logger
}

// NewRouter wires middleware and routes. /health bypasses rate limiting.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(ErrorMiddleware(cfg.Logger, cfg.Production))
	r.Use(ratelimit.Middleware(cfg.Limiter, ratelimit.MiddlewareOptions{
		Config:    cfg.Global,
		SkipPaths: []string{"/health"},
		Logger:    cfg.Logger,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterOrdersRoutes(r, cfg)
	return r
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg RouterConfig) {
	sensitive := ratelimit.Middleware(cfg.Limiter, ratelimit.MiddlewareOptions{
		Config: cfg.Sensitive,
		Logger: cfg.Logger,
	})

	r.POST("/order", cfg.Orders.CreateOrder)
	r.GET("/order/:id/payment-status", cfg.Orders.GetPaymentStatus)
	r.POST("/payment/card-token", sensitive, cfg.Orders.CreateCardToken)
}
