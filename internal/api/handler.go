package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"jewelcraft/internal/auth"
	"jewelcraft/internal/service"
	"jewelcraft/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Services are the core components the HTTP layer exposes
type Services struct {
	Inventory *service.InventoryService
	Catalog   *service.CatalogService
	Orders    *service.OrderService
	Users     *service.UserService
	Stats     *service.StatsService
	Tokens    *auth.TokenManager
}

// Handler contains HTTP handlers
type Handler struct {
	inventory *service.InventoryService
	catalog   *service.CatalogService
	orders    *service.OrderService
	users     *service.UserService
	stats     *service.StatsService
	tokens    *auth.TokenManager
	checks    map[string]ReadinessCheck
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		inventory: svc.Inventory,
		catalog:   svc.Catalog,
		orders:    svc.Orders,
		users:     svc.Users,
		stats:     svc.Stats,
		tokens:    svc.Tokens,
		checks:    checks,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, allowedOrigins []string) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(corsMiddleware(allowedOrigins))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/auth/login", h.login)

		api.GET("/catalog", h.listCatalog)
		api.GET("/catalog/:id", h.getCatalogItem)

		api.POST("/orders", h.createOrder)
	}

	staff := api.Group("", h.authenticate())
	{
		staff.GET("/auth/me", h.me)
		staff.POST("/auth/register", requireRole(auth.RequiredForUserAdmin), h.register)
		staff.GET("/users", requireRole(auth.RequiredForUserAdmin), h.listUsers)

		inventory := staff.Group("/inventory", requireRole(auth.RequiredForInventoryWrite))
		inventory.GET("", h.listItems)
		inventory.GET("/:id", h.getItem)
		inventory.POST("", h.createItem)
		inventory.PUT("/:id", h.updateItem)
		inventory.PATCH("/:id", h.updateItem)
		inventory.DELETE("/:id", requireRole(auth.RequiredForItemDelete), h.deleteItem)

		orders := staff.Group("/orders", requireRole(auth.RequiredForOrderRead))
		orders.GET("", h.listOrders)
		orders.GET("/:id", h.getOrder)
		orders.PATCH("/:id/status", requireRole(auth.RequiredForOrderStatus), h.updateOrderStatus)

		staff.GET("/dashboard/stats", requireRole(auth.RoleStaff), h.dashboardStats)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(gin.H, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("dependency not ready", zap.String("dependency", name), zap.Error(err))
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": deps,
		"time":         time.Now().Unix(),
	})
}

// dashboardStats handles GET /api/dashboard/stats
func (h *Handler) dashboardStats(c *gin.Context) {
	stats, err := h.stats.Dashboard(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
