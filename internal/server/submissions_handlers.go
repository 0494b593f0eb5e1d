package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errInvalidRequest = errors.New("invalid request")

// submissionView adds the decoded application types to the stored row.
type submissionView struct {
	submissions.Submission
	ApplicationType []submissions.ApplicationType `json:"applicationType"`
}

func newSubmissionView(submission submissions.Submission) submissionView {
	return submissionView{Submission: submission, ApplicationType: submission.ApplicationTypes()}
}

type detailView struct {
	Submission   submissionView          `json:"submission"`
	Images       []submissions.Image     `json:"images"`
	LatestResult *submissions.ResultView `json:"latestResult"`
	Reviews      []submissions.Review    `json:"reviews"`
}

type pageView struct {
	Submissions []submissionView `json:"submissions"`
	Cursor      string           `json:"cursor,omitempty"`
	HasMore     bool             `json:"hasMore"`
}

type editRequestPayload struct {
	submissions.Form
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type imageRequestPayload struct {
	ImageType        submissions.ImageType `json:"imageType"`
	StoragePath      string                `json:"storagePath"`
	DownloadURL      string                `json:"downloadUrl"`
	OriginalFilename string                `json:"originalFilename"`
	MimeType         string                `json:"mimeType"`
	FileSize         int64                 `json:"fileSize"`
}

type reviewRequestPayload struct {
	Action         submissions.ReviewAction `json:"action"`
	FeedbackToUser *string                  `json:"feedbackToUser"`
	InternalNotes  *string                  `json:"internalNotes"`
}

type grantAdminPayload struct {
	Email string `json:"email"`
}

func (h *httpHandler) handleCreateSubmission(c *gin.Context) {
	owner, err := submissions.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	var form submissions.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		h.respondError(c, errInvalidRequest)
		return
	}
	created, err := h.submissions.CreateSubmission(c.Request.Context(), owner, form)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, newSubmissionView(created))
}

func (h *httpHandler) handleListSubmissions(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	filter.OwnerID = c.GetString(userIDContextKey)
	h.listSubmissions(c, filter)
}

func (h *httpHandler) handleAdminListSubmissions(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.listSubmissions(c, filter)
}

func (h *httpHandler) listSubmissions(c *gin.Context, filter submissions.ListFilter) {
	page, err := h.submissions.ListSubmissions(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	view := pageView{Submissions: make([]submissionView, 0, len(page.Submissions)), Cursor: page.Cursor, HasMore: page.HasMore}
	for _, submission := range page.Submissions {
		view.Submissions = append(view.Submissions, newSubmissionView(submission))
	}
	respondOK(c, http.StatusOK, view)
}

func (h *httpHandler) handleGetSubmission(c *gin.Context) {
	id, err := submissions.NewSubmissionID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	viewer := h.viewer(c)
	detail, err := h.submissions.GetSubmission(c.Request.Context(), viewer, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	reviews := detail.Reviews
	if !viewer.Admin {
		reviews = make([]submissions.Review, 0, len(detail.Reviews))
		for _, review := range detail.Reviews {
			review.InternalNotes = nil
			reviews = append(reviews, review)
		}
	}
	if reviews == nil {
		reviews = []submissions.Review{}
	}
	images := detail.Images
	if images == nil {
		images = []submissions.Image{}
	}
	respondOK(c, http.StatusOK, detailView{
		Submission:   newSubmissionView(detail.Submission),
		Images:       images,
		LatestResult: detail.LatestResult,
		Reviews:      reviews,
	})
}

func (h *httpHandler) handleEditSubmission(c *gin.Context) {
	owner, id, ok := h.ownedTarget(c)
	if !ok {
		return
	}
	var payload editRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondError(c, errInvalidRequest)
		return
	}
	updated, err := h.submissions.EditSubmission(c.Request.Context(), submissions.EditRequest{
		Owner:           owner,
		SubmissionID:    id,
		ExpectedVersion: payload.ExpectedVersion,
		Form:            payload.Form,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, newSubmissionView(updated))
}

func (h *httpHandler) handleResubmit(c *gin.Context) {
	owner, id, ok := h.ownedTarget(c)
	if !ok {
		return
	}
	updated, err := h.submissions.Resubmit(c.Request.Context(), owner, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, newSubmissionView(updated))
}

func (h *httpHandler) handleAddImage(c *gin.Context) {
	owner, id, ok := h.ownedTarget(c)
	if !ok {
		return
	}
	var payload imageRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondError(c, errInvalidRequest)
		return
	}
	image, err := h.submissions.AddImage(c.Request.Context(), submissions.ImageRequest{
		Owner:            owner,
		SubmissionID:     id,
		ImageType:        payload.ImageType,
		StoragePath:      payload.StoragePath,
		DownloadURL:      payload.DownloadURL,
		OriginalFilename: payload.OriginalFilename,
		MimeType:         payload.MimeType,
		FileSize:         payload.FileSize,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, image)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.submissions.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, stats)
}

func (h *httpHandler) handleReview(c *gin.Context) {
	adminID, err := submissions.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	id, err := submissions.NewSubmissionID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	var payload reviewRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondError(c, errInvalidRequest)
		return
	}
	review, err := h.submissions.ReviewSubmission(c.Request.Context(), submissions.ReviewRequest{
		AdminID:        adminID,
		SubmissionID:   id,
		Action:         payload.Action,
		FeedbackToUser: payload.FeedbackToUser,
		InternalNotes:  payload.InternalNotes,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, review)
}

func (h *httpHandler) handleGrantAdmin(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("uid"))
	if userID == "" {
		h.respondError(c, errInvalidRequest)
		return
	}
	var payload grantAdminPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			h.respondError(c, errInvalidRequest)
			return
		}
	}
	account, err := h.roles.GrantAdmin(c.Request.Context(), userID, payload.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("admin role granted via api",
		zap.String("user_id", account.UserID),
		zap.String("granted_by", c.GetString(userIDContextKey)))
	respondOK(c, http.StatusOK, gin.H{"userId": account.UserID, "role": account.Role})
}

func (h *httpHandler) ownedTarget(c *gin.Context) (submissions.UserID, submissions.SubmissionID, bool) {
	owner, err := submissions.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return "", "", false
	}
	id, err := submissions.NewSubmissionID(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return "", "", false
	}
	return owner, id, true
}

func parseListFilter(c *gin.Context) (submissions.ListFilter, error) {
	filter := submissions.ListFilter{
		Status:      submissions.Status(c.Query("status")),
		ProductType: submissions.ProductType(c.Query("productType")),
		Cursor:      c.Query("cursor"),
	}
	if raw := c.Query("needsAttention"); raw != "" {
		needsAttention, err := strconv.ParseBool(raw)
		if err != nil {
			return submissions.ListFilter{}, errInvalidRequest
		}
		filter.NeedsAttention = needsAttention
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return submissions.ListFilter{}, errInvalidRequest
		}
		filter.Limit = limit
	}
	switch filter.Status {
	case "", submissions.StatusPending, submissions.StatusApproved, submissions.StatusNeedsRevision, submissions.StatusRejected:
	default:
		return submissions.ListFilter{}, errInvalidRequest
	}
	return filter, nil
}
