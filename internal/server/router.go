package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/auth"
	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
	"github.com/MarcoPoloResearchLab/sustainhub/internal/profiles"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	sessionEmailContextKey   = "sustainhub_session_email"
	accessTokenQueryParam    = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingForumService    = errors.New("forum service dependency required")
	errMissingSessionVerifier = errors.New("session validator dependency required")
)

// SessionVerifier resolves the session carried by a request.
type SessionVerifier interface {
	ValidateToken(token string) (auth.SessionClaims, error)
	TokenFromRequest(r *http.Request) string
}

type Dependencies struct {
	ForumService      *forum.Service
	ProfileService    *profiles.Service
	Sessions          SessionVerifier
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ForumService == nil {
		return nil, errMissingForumService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionVerifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		forum:     deps.ForumService,
		profiles:  deps.ProfileService,
		sessions:  deps.Sessions,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	public := router.Group("/forum")
	public.Use(handler.identifyRequest)
	public.GET("/posts", handler.handleListPosts)
	public.GET("/posts/:id", handler.handleGetPost)

	members := router.Group("/")
	members.Use(handler.authorizeRequest)
	members.POST("/forum/posts", handler.handleCreatePost)
	members.POST("/forum/posts/:id/votes", handler.handleCastVote)
	members.POST("/forum/posts/:id/comments", handler.handleAppendComment)
	members.GET("/forum/stream", handler.handleStream)
	if deps.ProfileService != nil {
		members.GET("/profiles/me", handler.handleGetProfile)
		members.PUT("/profiles/me", handler.handleUpsertProfile)
	}

	return router, nil
}

type httpHandler struct {
	forum     *forum.Service
	profiles  *profiles.Service
	sessions  SessionVerifier
	heartbeat time.Duration
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// identifyRequest attaches the session email when a valid session is present and lets anonymous
// requests through.
func (h *httpHandler) identifyRequest(c *gin.Context) {
	token := h.sessions.TokenFromRequest(c.Request)
	if token == "" {
		c.Next()
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Debug("ignoring invalid session on public route", zap.Error(err))
		c.Next()
		return
	}
	c.Set(sessionEmailContextKey, claims.UserEmail)
	c.Next()
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := h.sessions.TokenFromRequest(c.Request)
	if token == "" {
		token = strings.TrimSpace(c.Query(accessTokenQueryParam))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionEmailContextKey, claims.UserEmail)
	c.Next()
}

func sessionEmail(c *gin.Context) string {
	return c.GetString(sessionEmailContextKey)
}

// writeServiceError maps forum error kinds onto HTTP statuses.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	code := ""
	var serviceErr *forum.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}

	status := http.StatusInternalServerError
	reason := "internal_error"
	switch {
	case errors.Is(err, forum.ErrInvalidArgument):
		status, reason = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, forum.ErrNotFound):
		status, reason = http.StatusNotFound, "not_found"
	case errors.Is(err, forum.ErrStoreUnavailable):
		status, reason = http.StatusServiceUnavailable, "store_unavailable"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("unexpected forum error", zap.String("path", c.FullPath()), zap.Error(err))
	}

	body := gin.H{"error": reason}
	if code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}
