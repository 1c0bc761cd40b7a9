package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"jewelcraft/internal/apperr"
	"jewelcraft/internal/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalKey = "principal"

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposeHeaders:    []string{"Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// authenticate resolves the bearer token into a principal
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			h.respondError(c, apperr.Unauthorized(apperr.CodeInvalidToken, "missing bearer token"))
			return
		}

		principal, err := h.tokens.Verify(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "token expired"
			}
			h.respondError(c, apperr.Unauthorized(apperr.CodeInvalidToken, msg))
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func principalFrom(c *gin.Context) *auth.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*auth.Principal)
	return p
}

// requireRole denies the request unless the principal ranks at least required
func requireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actor auth.Role
		if p := principalFrom(c); p != nil {
			actor = p.Role
		}
		if auth.Authorize(actor, required) == auth.Deny {
			writeError(c, apperr.Forbidden("this action requires the %s role", required))
			return
		}
		c.Next()
	}
}

// respondError writes the error envelope; internal failures are logged and masked
func (h *Handler) respondError(c *gin.Context, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    apperr.Code(err),
			"message": message,
		},
	})
}
