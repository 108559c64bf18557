package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/local/phenbot/api/models"
	"github.com/local/phenbot/api/services"
	"github.com/rs/zerolog/log"
)

const principalKey = "principal"

// OptionalAuth attaches the caller's principal when a valid bearer token is
// present. It never rejects the request.
func (h *Handler) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		p, err := h.auth.Validate(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, services.ErrUnauthorized) {
				log.Warn().Err(err).Msg("Session lookup failed")
			}
			c.Next()
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequireAuth rejects requests without a principal. It must run after OptionalAuth.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principalFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) *services.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*services.Principal)
	return p
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	res, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("user_id", res.User.ID).Str("username", res.User.Username).Msg("User registered")
	c.JSON(http.StatusCreated, loginResponse(res))
}

func (h *Handler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse(res))
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), principalFrom(c)); err != nil {
		log.Error().Err(err).Msg("Failed to delete session")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.auth.CurrentUser(c.Request.Context(), principalFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, userJSON(user))
}

func loginResponse(res *services.LoginResult) gin.H {
	return gin.H{
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user":       userJSON(res.User),
	}
}

func userJSON(u *models.User) gin.H {
	return gin.H{"id": u.ID, "username": u.Username}
}
