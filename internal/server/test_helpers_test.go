package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/auth"
	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "ttb-auth"
)

type serverHarness struct {
	handler  http.Handler
	store    *submissions.Service
	roles    *users.Service
	issuer   *auth.TokenIssuer
	realtime *RealtimeDispatcher
}

type envelopeResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

func newServerHarness(t *testing.T) serverHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	models := append(submissions.Models(), &users.Account{})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	store, err := submissions.NewService(submissions.ServiceConfig{
		Database:   db,
		IDProvider: submissions.NewUUIDProvider(),
		Events:     realtime,
	})
	if err != nil {
		t.Fatalf("failed to construct submission service: %v", err)
	}
	roles, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct role registry: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:    validator,
		Submissions: store,
		Roles:       roles,
		Realtime:    realtime,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return serverHarness{handler: handler, store: store, roles: roles, issuer: issuer, realtime: realtime}
}

func (h serverHarness) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, _, err := h.issuer.IssueSessionToken(context.Background(), auth.Principal{UserID: userID, Roles: roles})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (h serverHarness) do(t *testing.T, method, path, token string, body any) (int, envelopeResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)

	var response envelopeResponse
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
			t.Fatalf("response is not an envelope: %v (%s)", err, recorder.Body.String())
		}
	}
	return recorder.Code, response
}

func decodeData(t *testing.T, response envelopeResponse, target any) {
	t.Helper()
	if err := json.Unmarshal(response.Data, target); err != nil {
		t.Fatalf("failed to decode data: %v (%s)", err, string(response.Data))
	}
}

func validFormPayload() map[string]any {
	return map[string]any{
		"serialNumber":           "24-0001",
		"productType":            "distilled_spirits",
		"source":                 "domestic",
		"brandName":              "Old Tom Distillery",
		"classTypeDesignation":   "Kentucky Straight Bourbon Whiskey",
		"alcoholContent":         "45% Alc./Vol.",
		"netContents":            "750 mL",
		"nameAddressOnLabel":     "Old Tom Distillery, Louisville, KY",
		"applicationType":        []string{"cola"},
		"healthWarningConfirmed": true,
	}
}

type submissionPayload struct {
	ID                   string   `json:"id"`
	UserID               string   `json:"userId"`
	Status               string   `json:"status"`
	Version              int64    `json:"version"`
	NeedsAttention       bool     `json:"needsAttention"`
	ValidationInProgress bool     `json:"validationInProgress"`
	ApplicationType      []string `json:"applicationType"`
	BrandName            string   `json:"brandName"`
}

func (h serverHarness) createSubmission(t *testing.T, token string) submissionPayload {
	t.Helper()
	status, response := h.do(t, http.MethodPost, "/api/submissions", token, validFormPayload())
	if status != http.StatusCreated {
		t.Fatalf("expected 201 creating submission, got %d (%+v)", status, response.Error)
	}
	var created submissionPayload
	decodeData(t, response, &created)
	return created
}
