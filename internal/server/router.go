package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/auth"
	"github.com/andychuong/ttb-label-verification/internal/metrics"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "ttb_user_id"
	claimsContextKey = "ttb_session_claims"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSubmissions      = errors.New("submission store dependency required")
	errMissingRoleGranter      = errors.New("role registry dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// SubmissionStore is the submission service surface the API exposes.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, owner submissions.UserID, form submissions.Form) (submissions.Submission, error)
	GetSubmission(ctx context.Context, viewer submissions.Viewer, id submissions.SubmissionID) (submissions.Detail, error)
	ListSubmissions(ctx context.Context, filter submissions.ListFilter) (submissions.Page, error)
	Stats(ctx context.Context) (submissions.Stats, error)
	EditSubmission(ctx context.Context, request submissions.EditRequest) (submissions.Submission, error)
	Resubmit(ctx context.Context, owner submissions.UserID, id submissions.SubmissionID) (submissions.Submission, error)
	ReviewSubmission(ctx context.Context, request submissions.ReviewRequest) (submissions.Review, error)
	AddImage(ctx context.Context, request submissions.ImageRequest) (submissions.Image, error)
}

type RoleGranter interface {
	GrantAdmin(ctx context.Context, userID, email string) (users.Account, error)
}

type Dependencies struct {
	Sessions    SessionValidator
	Submissions SubmissionStore
	Roles       RoleGranter
	Realtime    *RealtimeDispatcher
	Logger      *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Submissions == nil {
		return nil, errMissingSubmissions
	}
	if deps.Roles == nil {
		return nil, errMissingRoleGranter
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:    deps.Sessions,
		submissions: deps.Submissions,
		roles:       deps.Roles,
		realtime:    realtime,
		logger:      logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.POST("/submissions", handler.handleCreateSubmission)
	api.GET("/submissions", handler.handleListSubmissions)
	api.GET("/submissions/:id", handler.handleGetSubmission)
	api.PUT("/submissions/:id", handler.handleEditSubmission)
	api.POST("/submissions/:id/resubmit", handler.handleResubmit)
	api.POST("/submissions/:id/images", handler.handleAddImage)
	api.GET("/events", handler.handleEventStream)

	admin := api.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/submissions", handler.handleAdminListSubmissions)
	admin.GET("/stats", handler.handleStats)
	admin.POST("/submissions/:id/review", handler.handleReview)
	admin.POST("/users/:uid/admin", handler.handleGrantAdmin)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions    SessionValidator
	submissions SubmissionStore
	roles       RoleGranter
	realtime    *RealtimeDispatcher
	logger      *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required", nil)
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	claims, ok := sessionClaims(c)
	if !ok || !claims.IsAdmin() {
		h.logger.Info("admin route denied", zap.String("user_id", c.GetString(userIDContextKey)), zap.String("path", c.FullPath()))
		h.respondError(c, auth.ErrForbidden)
		c.Abort()
		return
	}
	c.Next()
}

func sessionClaims(c *gin.Context) (auth.SessionClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

func (h *httpHandler) viewer(c *gin.Context) submissions.Viewer {
	claims, _ := sessionClaims(c)
	return submissions.Viewer{
		UserID: submissions.UserID(claims.UserID),
		Admin:  claims.IsAdmin(),
	}
}
