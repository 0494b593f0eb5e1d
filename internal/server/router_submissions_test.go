package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/users"
)

func TestCreateAndFetchSubmission(t *testing.T) {
	harness := newServerHarness(t)
	ownerToken := harness.token(t, "owner-1")

	created := harness.createSubmission(t, ownerToken)
	if created.Status != "pending" || created.Version != 1 || created.UserID != "owner-1" {
		t.Fatalf("unexpected created submission %+v", created)
	}
	if len(created.ApplicationType) != 1 || created.ApplicationType[0] != "cola" {
		t.Fatalf("expected decoded application types, got %v", created.ApplicationType)
	}

	status, response := harness.do(t, http.MethodGet, "/api/submissions/"+created.ID, ownerToken, nil)
	if status != http.StatusOK || !response.Success {
		t.Fatalf("expected owner to read submission, got %d", status)
	}
	var detail struct {
		Submission submissionPayload `json:"submission"`
		Images     []map[string]any  `json:"images"`
		Reviews    []map[string]any  `json:"reviews"`
	}
	decodeData(t, response, &detail)
	if detail.Submission.ID != created.ID || detail.Images == nil || detail.Reviews == nil {
		t.Fatalf("unexpected detail %+v", detail)
	}

	status, response = harness.do(t, http.MethodGet, "/api/submissions/"+created.ID, harness.token(t, "intruder"), nil)
	if status != http.StatusNotFound || response.Error == nil || response.Error.Code != codeNotFound {
		t.Fatalf("expected 404 NOT_FOUND for another user, got %d %+v", status, response.Error)
	}

	status, _ = harness.do(t, http.MethodGet, "/api/submissions/"+created.ID, harness.token(t, "reviewer", users.RoleAdmin), nil)
	if status != http.StatusOK {
		t.Fatalf("expected admin to read any submission, got %d", status)
	}

	status, response = harness.do(t, http.MethodGet, "/api/submissions", ownerToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected list to succeed, got %d", status)
	}
	var page struct {
		Submissions []submissionPayload `json:"submissions"`
		HasMore     bool                `json:"hasMore"`
	}
	decodeData(t, response, &page)
	if len(page.Submissions) != 1 || page.HasMore {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestCreateSubmissionRejectsInvalidForm(t *testing.T) {
	harness := newServerHarness(t)
	payload := validFormPayload()
	delete(payload, "brandName")
	payload["alcoholContent"] = "strong"

	status, response := harness.do(t, http.MethodPost, "/api/submissions", harness.token(t, "owner-1"), payload)
	if status != http.StatusBadRequest || response.Error == nil || response.Error.Code != codeValidationError {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %+v", status, response.Error)
	}
	details, ok := response.Error.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected field details, got %T", response.Error.Details)
	}
	if _, ok := details["brandName"]; !ok {
		t.Fatalf("expected brandName detail, got %v", details)
	}
	if _, ok := details["alcoholContent"]; !ok {
		t.Fatalf("expected alcoholContent detail, got %v", details)
	}
}

func TestEditSubmissionMapsConcurrencyErrors(t *testing.T) {
	harness := newServerHarness(t)
	ownerToken := harness.token(t, "owner-1")
	created := harness.createSubmission(t, ownerToken)

	stale := validFormPayload()
	stale["expectedVersion"] = 7
	status, response := harness.do(t, http.MethodPut, "/api/submissions/"+created.ID, ownerToken, stale)
	if status != http.StatusConflict || response.Error.Code != codeVersionConflict {
		t.Fatalf("expected 409 VERSION_CONFLICT, got %d %+v", status, response.Error)
	}

	edit := validFormPayload()
	edit["brandName"] = "Old Tom Reserve"
	edit["expectedVersion"] = 1
	status, response = harness.do(t, http.MethodPut, "/api/submissions/"+created.ID, ownerToken, edit)
	if status != http.StatusOK {
		t.Fatalf("expected edit to succeed, got %d %+v", status, response.Error)
	}
	var edited submissionPayload
	decodeData(t, response, &edited)
	if edited.Version != 2 || edited.BrandName != "Old Tom Reserve" {
		t.Fatalf("unexpected edited submission %+v", edited)
	}

	acquired, err := harness.store.BeginValidation(context.Background(), submissions.SubmissionID(created.ID))
	if err != nil || !acquired {
		t.Fatalf("failed to claim validation: acquired=%v err=%v", acquired, err)
	}
	status, response = harness.do(t, http.MethodPut, "/api/submissions/"+created.ID, ownerToken, validFormPayload())
	if status != http.StatusLocked || response.Error.Code != codeValidationInProgress {
		t.Fatalf("expected 423 VALIDATION_IN_PROGRESS, got %d %+v", status, response.Error)
	}

	status, response = harness.do(t, http.MethodPost, "/api/admin/submissions/"+created.ID+"/review",
		harness.token(t, "reviewer", users.RoleAdmin), map[string]any{"action": "approved"})
	if status != http.StatusLocked || response.Error.Code != codeValidationInProgress {
		t.Fatalf("expected review to be blocked during validation, got %d %+v", status, response.Error)
	}
}

func TestReviewAndResubmitFlow(t *testing.T) {
	harness := newServerHarness(t)
	ownerToken := harness.token(t, "owner-1")
	adminToken := harness.token(t, "reviewer", users.RoleAdmin)
	created := harness.createSubmission(t, ownerToken)
	reviewPath := "/api/admin/submissions/" + created.ID + "/review"

	status, response := harness.do(t, http.MethodPost, reviewPath, adminToken, map[string]any{"action": "needs_revision"})
	if status != http.StatusBadRequest || response.Error.Code != codeValidationError {
		t.Fatalf("expected 400 VALIDATION_ERROR, got %d %+v", status, response.Error)
	}
	if response.Error.Message != "Feedback to user is required when requesting revision" {
		t.Fatalf("unexpected review error message %q", response.Error.Message)
	}

	status, response = harness.do(t, http.MethodPost, "/api/submissions/"+created.ID+"/resubmit", ownerToken, nil)
	if status != http.StatusBadRequest || response.Error.Code != codeInvalidStatus {
		t.Fatalf("expected 400 INVALID_STATUS for a pending resubmit, got %d %+v", status, response.Error)
	}

	status, response = harness.do(t, http.MethodPost, reviewPath, adminToken, map[string]any{
		"action":         "needs_revision",
		"feedbackToUser": "Government warning text is incomplete.",
		"internalNotes":  "Checked against 27 CFR 16.21",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected review to be recorded, got %d %+v", status, response.Error)
	}

	status, response = harness.do(t, http.MethodGet, "/api/submissions/"+created.ID, ownerToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected owner read, got %d", status)
	}
	var detail struct {
		Submission submissionPayload `json:"submission"`
		Reviews    []map[string]any  `json:"reviews"`
	}
	decodeData(t, response, &detail)
	if detail.Submission.Status != "needs_revision" || len(detail.Reviews) != 1 {
		t.Fatalf("unexpected detail after review %+v", detail)
	}
	if detail.Reviews[0]["internalNotes"] != nil {
		t.Fatalf("expected internal notes to be hidden from the owner, got %v", detail.Reviews[0]["internalNotes"])
	}

	status, response = harness.do(t, http.MethodPost, "/api/submissions/"+created.ID+"/resubmit", ownerToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected resubmit to succeed, got %d %+v", status, response.Error)
	}
	var resubmitted submissionPayload
	decodeData(t, response, &resubmitted)
	if resubmitted.Status != "pending" || resubmitted.Version != 2 {
		t.Fatalf("unexpected resubmitted submission %+v", resubmitted)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	harness := newServerHarness(t)
	ownerToken := harness.token(t, "owner-1")
	harness.createSubmission(t, ownerToken)

	status, response := harness.do(t, http.MethodGet, "/api/admin/stats", ownerToken, nil)
	if status != http.StatusForbidden || response.Error.Code != codeForbidden {
		t.Fatalf("expected 403 FORBIDDEN, got %d %+v", status, response.Error)
	}

	adminToken := harness.token(t, "reviewer", users.RoleAdmin)
	status, response = harness.do(t, http.MethodGet, "/api/admin/stats", adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected stats, got %d", status)
	}
	var stats submissions.Stats
	decodeData(t, response, &stats)
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	status, response = harness.do(t, http.MethodGet, "/api/admin/submissions?status=pending", adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected admin listing, got %d", status)
	}
	status, response = harness.do(t, http.MethodGet, "/api/admin/submissions?status=bogus", adminToken, nil)
	if status != http.StatusBadRequest || response.Error.Code != codeValidationError {
		t.Fatalf("expected invalid filter to be rejected, got %d %+v", status, response.Error)
	}
}

func TestGrantAdminRecordsRole(t *testing.T) {
	harness := newServerHarness(t)
	adminToken := harness.token(t, "reviewer", users.RoleAdmin)

	status, response := harness.do(t, http.MethodPost, "/api/admin/users/new-reviewer/admin", adminToken,
		map[string]any{"email": "new@example.com"})
	if status != http.StatusOK {
		t.Fatalf("expected grant to succeed, got %d %+v", status, response.Error)
	}
	roles, err := harness.roles.Roles(context.Background(), "new-reviewer")
	if err != nil {
		t.Fatalf("roles lookup failed: %v", err)
	}
	if len(roles) != 2 || roles[1] != users.RoleAdmin {
		t.Fatalf("expected admin role to be recorded, got %v", roles)
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	harness := newServerHarness(t)

	status, response := harness.do(t, http.MethodGet, "/api/submissions", "", nil)
	if status != http.StatusUnauthorized || response.Error == nil || response.Error.Code != codeUnauthorized {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %+v", status, response.Error)
	}

	status, _ = harness.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		t.Fatalf("expected healthz to be public, got %d", status)
	}
}
