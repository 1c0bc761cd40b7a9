package api

import (
	"net/http"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/models"

	"github.com/gin-gonic/gin"
)

// login handles POST /api/auth/login
func (h *Handler) login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	result, err := h.users.Login(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// register handles POST /api/auth/register
func (h *Handler) register(c *gin.Context) {
	var req models.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperr.Validation("invalid request body: %v", err))
		return
	}

	user, err := h.users.Register(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// me handles GET /api/auth/me
func (h *Handler) me(c *gin.Context) {
	principal := principalFrom(c)
	user, err := h.users.Me(c.Request.Context(), principal.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// listUsers handles GET /api/users
func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
