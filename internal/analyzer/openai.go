package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"github.com/andychuong/ttb-label-verification/internal/validation"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-4o-mini"

	defaultTimeout   = 60 * time.Second
	maxTokens        = 2000
	temperature      = 0.1
	imageDetail      = "auto"
	maxErrorBodySize = 2048
)

var (
	// ErrMissingAPIKey indicates the client was built without credentials.
	ErrMissingAPIKey = errors.New("analyzer: api key is required")
	// ErrEmptyResponse indicates the model returned no content.
	ErrEmptyResponse = errors.New("analyzer: no response content from model")
)

// StatusError reports a non-200 answer from the chat completions endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analyzer: api error (status %d): %s", e.StatusCode, e.Body)
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

type imagePart struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type ClientConfig struct {
	APIKey     string
	Model      string
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls a vision-capable chat completions model and validates its reply.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		http:     httpClient,
		logger:   logger,
	}, nil
}

// Analyze sends the form and image to the model once. Retrying is the caller's concern.
func (c *Client) Analyze(ctx context.Context, request validation.AnalysisRequest) (submissions.Report, error) {
	userMessage, err := buildUserMessage(request.Form)
	if err != nil {
		return submissions.Report{}, fmt.Errorf("analyzer: encode form data: %w", err)
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{
				Role: "user",
				Content: []any{
					textPart{Type: "text", Text: userMessage},
					imagePart{Type: "image_url", ImageURL: imageURL{URL: request.ImageURL, Detail: imageDetail}},
				},
			},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		MaxTokens:      maxTokens,
		Temperature:    temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return submissions.Report{}, fmt.Errorf("analyzer: marshal request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return submissions.Report{}, fmt.Errorf("analyzer: create request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")

	started := time.Now()
	response, err := c.http.Do(httpRequest)
	if err != nil {
		return submissions.Report{}, fmt.Errorf("analyzer: send request: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return submissions.Report{}, fmt.Errorf("analyzer: read response: %w", err)
	}
	c.logger.Debug("analyzer response received",
		zap.String("submission_id", request.SubmissionID),
		zap.Int("status", response.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if response.StatusCode != http.StatusOK {
		snippet := string(responseBody)
		if len(snippet) > maxErrorBodySize {
			snippet = snippet[:maxErrorBodySize]
		}
		return submissions.Report{}, &StatusError{StatusCode: response.StatusCode, Body: snippet}
	}

	var decoded chatResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return submissions.Report{}, fmt.Errorf("analyzer: parse response: %w", err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == nil || *decoded.Choices[0].Message.Content == "" {
		return submissions.Report{}, ErrEmptyResponse
	}

	return validation.ParseAnalysis([]byte(*decoded.Choices[0].Message.Content))
}
