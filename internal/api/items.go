package api

import (
	"net/http"
	"strconv"
	"strings"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"

	"github.com/gin-gonic/gin"
)

// parseItemFilter reads the shared list query: category, metal_type, status,
// search, min_price, max_price, page and limit
func parseItemFilter(c *gin.Context) (models.ItemFilter, error) {
	filter := models.ItemFilter{
		Category:  models.Category(c.Query("category")),
		MetalType: models.MetalType(c.Query("metal_type")),
		Search:    c.Query("search"),
	}

	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.ItemStatus(strings.TrimSpace(s))
			switch status {
			case models.ItemStatusInStock, models.ItemStatusSold, models.ItemStatusReserved, models.ItemStatusDiscontinued:
				filter.Statuses = append(filter.Statuses, status)
			default:
				return filter, apperr.Validation("unknown item status %q", status)
			}
		}
	}

	var err error
	if filter.MinPrice, err = optionalInt64(c, "min_price"); err != nil {
		return filter, err
	}
	if filter.MaxPrice, err = optionalInt64(c, "max_price"); err != nil {
		return filter, err
	}
	if filter.Page, err = parsePage(c); err != nil {
		return filter, err
	}
	return filter, nil
}

func optionalInt64(c *gin.Context, key string) (*int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, apperr.Validation("%s must be a non-negative integer", key)
	}
	return &v, nil
}

func parsePage(c *gin.Context) (models.Page, error) {
	var page models.Page
	for key, dst := range map[string]*int{"page": &page.Page, "limit": &page.Limit} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return page, apperr.Validation("%s must be a positive integer", key)
		}
		*dst = v
	}
	return page.Normalize(), nil
}

// listCatalog handles GET /api/catalog
func (h *Handler) listCatalog(c *gin.Context) {
	filter, err := parseItemFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	list, err := h.catalog.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// getCatalogItem handles GET /api/catalog/:id
func (h *Handler) getCatalogItem(c *gin.Context) {
	item, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// listItems handles GET /api/inventory
func (h *Handler) listItems(c *gin.Context) {
	filter, err := parseItemFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	list, err := h.inventory.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// getItem handles GET /api/inventory/:id
func (h *Handler) getItem(c *gin.Context) {
	item, err := h.inventory.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// createItem handles POST /api/inventory
func (h *Handler) createItem(c *gin.Context) {
	var in models.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.respondError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	item, err := h.inventory.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// updateItem handles PUT and PATCH /api/inventory/:id; absent fields are left as they are
func (h *Handler) updateItem(c *gin.Context) {
	var patch models.ItemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.respondError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	item, err := h.inventory.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// deleteItem handles DELETE /api/inventory/:id
func (h *Handler) deleteItem(c *gin.Context) {
	if err := h.inventory.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
