package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/securenotes/internal/auth"
	"github.com/MarcoPoloResearchLab/securenotes/internal/notes"
	"github.com/MarcoPoloResearchLab/securenotes/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "securenotes_user_id"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingAccountService = errors.New("account service dependency required")
	errMissingTokenIssuer    = errors.New("token issuer dependency required")
	errMissingValidator      = errors.New("session validator dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
)

// AccountService registers, authenticates and looks up users.
type AccountService interface {
	Register(ctx context.Context, input users.RegisterInput) (users.User, error)
	Authenticate(ctx context.Context, email, password string) (users.User, error)
	Exists(ctx context.Context, userID string) (bool, error)
}

type SessionTokenIssuer interface {
	IssueToken(ctx context.Context, identity auth.SessionIdentity) (string, int64, error)
}

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

type Dependencies struct {
	Accounts          AccountService
	TokenIssuer       SessionTokenIssuer
	SessionValidator  SessionValidator
	NotesService      *notes.Service
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.SessionValidator == nil {
		return nil, errMissingValidator
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		accounts:          deps.Accounts,
		tokens:            deps.TokenIssuer,
		sessions:          deps.SessionValidator,
		notesService:      deps.NotesService,
		realtime:          realtime,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)

	protected := router.Group("/files")
	protected.Use(handler.authorizeRequest)
	protected.POST("", handler.handleCreateFile)
	protected.GET("", handler.handleListFiles)
	protected.GET("/:id", handler.handleGetFile)
	protected.PUT("/:id", handler.handleUpdateFile)
	protected.DELETE("/:id", handler.handleDeleteFile)
	protected.GET("/:id/history", handler.handleFileHistory)
	protected.PUT("/:id/revert", handler.handleRevertFile)

	// EventSource cannot send headers, so the stream also accepts the token as a query parameter.
	router.GET("/files/events", promoteQueryToken, handler.authorizeRequest, handler.handleFileEvents)

	return router, nil
}

type httpHandler struct {
	accounts          AccountService
	tokens            SessionTokenIssuer
	sessions          SessionValidator
	notesService      *notes.Service
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func promoteQueryToken(c *gin.Context) {
	if c.GetHeader("Authorization") != "" {
		c.Next()
		return
	}
	if token := strings.TrimSpace(c.Query(accessTokenQueryKey)); token != "" {
		c.Request.Header.Set("Authorization", "Bearer "+token)
	}
	c.Next()
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	exists, err := h.accounts.Exists(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("user lookup failed", zap.String("user_id", claims.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user_lookup_failed"})
		return
	}
	if !exists {
		h.logger.Info("token references unknown user", zap.String("user_id", claims.UserID))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

// writeFileError maps service failures onto status codes. Ownership mismatches are
// reported as not found so callers cannot probe for other users' files.
func (h *httpHandler) writeFileError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	errorCode := fallback
	switch {
	case errors.Is(err, notes.ErrValidation), errors.Is(err, notes.ErrInvalidNoteID), errors.Is(err, notes.ErrInvalidUserID):
		status = http.StatusBadRequest
		errorCode = "invalid_request"
	case errors.Is(err, notes.ErrNotFound):
		status = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, notes.ErrConcurrentModification):
		status = http.StatusConflict
		errorCode = "conflict"
	}

	payload := gin.H{"error": errorCode}
	var serviceErr *notes.ServiceError
	if errors.As(err, &serviceErr) {
		payload["code"] = serviceErr.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("file operation failed", zap.String("error_code", errorCode), zap.Error(err))
	}
	c.JSON(status, payload)
}
