package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/securenotes/internal/auth"
	"github.com/MarcoPoloResearchLab/securenotes/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponsePayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), users.RegisterInput{
		Username: request.Username,
		Email:    request.Email,
		Password: request.Password,
	})
	switch {
	case errors.Is(err, users.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_registration", "message": err.Error()})
		return
	case errors.Is(err, users.ErrDuplicateUser):
		c.JSON(http.StatusConflict, gin.H{"error": "user_exists"})
		return
	case err != nil:
		h.logger.Error("failed to register user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.logger.Info("user registered", zap.String("user_id", user.ID))
	c.JSON(http.StatusCreated, userResponsePayload{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.accounts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), auth.SessionIdentity{
		UserID:   user.ID,
		Username: user.Username,
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if cookieName := h.sessions.CookieName(); cookieName != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookieName, token, int(expiresIn), "/", "", c.Request.TLS != nil, true)
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Username:    user.Username,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if cookieName := h.sessions.CookieName(); cookieName != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookieName, "", -1, "/", "", c.Request.TLS != nil, true)
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
