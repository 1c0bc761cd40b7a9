package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 128
)

// createOrder handles POST /api/orders
func (h *Handler) createOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		h.respondError(c, apperr.Validation("%s must be at most %d characters", headerIdempotencyKey, maxIdempotencyKeyLen))
		return
	}

	order, replayed, err := h.orders.CreateOrder(c.Request.Context(), &req, key)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if replayed {
		c.Header(headerReplayed, "true")
		c.JSON(http.StatusOK, order)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// listOrders handles GET /api/orders
func (h *Handler) listOrders(c *gin.Context) {
	filter := models.OrderFilter{Status: models.OrderStatus(c.Query("status"))}

	var err error
	if filter.From, err = parseDate(c.Query("from_date"), false); err != nil {
		h.respondError(c, apperr.Validation("from_date: %v", err))
		return
	}
	if filter.To, err = parseDate(c.Query("to_date"), true); err != nil {
		h.respondError(c, apperr.Validation("to_date: %v", err))
		return
	}
	if filter.Page, err = parsePage(c); err != nil {
		h.respondError(c, err)
		return
	}

	list, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// parseDate accepts RFC3339 or YYYY-MM-DD. A bare date used as an upper
// bound covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// getOrder handles GET /api/orders/:id
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// updateOrderStatus handles PATCH /api/orders/:id/status
func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
