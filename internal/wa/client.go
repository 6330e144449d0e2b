// Package wa implements the outbound gateway to the WhatsApp Cloud API.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
	"github.com/wanderlynx/whatsapp-inbox/pkg/metrics"
)

// Typed errors for specific Cloud API failures.
var (
	// ErrTokenExpired indicates the access token is expired or invalid (code 190).
	ErrTokenExpired = errors.New("whatsapp access token expired or invalid")

	// ErrRateLimited indicates the Cloud API rate limit was exceeded (codes 4, 80007, 130429).
	ErrRateLimited = errors.New("whatsapp rate limit exceeded")

	// ErrInvalidTemplate indicates the named template does not exist or is not approved (code 132001).
	ErrInvalidTemplate = errors.New("whatsapp template does not exist or is not approved")
)

// Client is the outbound messaging contract consumed by services. Fakes
// implement it in tests.
type Client interface {
	// SendText sends a free-form text message and returns the provider
	// message id.
	SendText(ctx context.Context, to, body string) (string, error)

	// SendTemplate sends a pre-approved template with positional body
	// variables and returns the provider message id.
	SendTemplate(ctx context.Context, to, templateName string, variables []string) (string, error)
}

// CloudClient talks to the Meta Graph API for one WhatsApp business number.
type CloudClient struct {
	httpClient    *http.Client
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	logger        *logger.Logger
}

var _ Client = (*CloudClient)(nil)

// Config holds Cloud API client settings.
type Config struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	Timeout       time.Duration
	// BaseURL overrides the Graph API origin, for tests.
	BaseURL string
}

// NewCloudClient creates a Cloud API client. The HTTP timeout bounds every
// send; a timed-out send is reported as failed and may be reconciled later
// by a delivery receipt or manual retry.
func NewCloudClient(cfg Config, log *logger.Logger) *CloudClient {
	version := cfg.APIVersion
	if version == "" {
		version = "v19.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}

	return &CloudClient{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		apiVersion:    version,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		logger:        log,
	}
}

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type templatePayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         templateBody `json:"template"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

func (c *CloudClient) SendText(ctx context.Context, to, body string) (string, error) {
	payload := textPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	}
	return c.send(ctx, "text", payload)
}

func (c *CloudClient) SendTemplate(ctx context.Context, to, templateName string, variables []string) (string, error) {
	tmpl := templateBody{
		Name:     templateName,
		Language: templateLanguage{Code: "en"},
	}
	if len(variables) > 0 {
		params := make([]templateParameter, len(variables))
		for i, v := range variables {
			params[i] = templateParameter{Type: "text", Text: v}
		}
		tmpl.Components = []templateComponent{{Type: "body", Parameters: params}}
	}

	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         tmpl,
	}
	return c.send(ctx, "template", payload)
}

func (c *CloudClient) send(ctx context.Context, operation string, payload any) (string, error) {
	start := time.Now()
	id, err := c.doSend(ctx, payload)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordProviderCall(operation, status, time.Since(start).Seconds())

	return id, err
}

func (c *CloudClient) doSend(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloud api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.classifyError(resp.StatusCode, respBody)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", errors.New("cloud api returned no message id")
	}
	return parsed.Messages[0].ID, nil
}

func (c *CloudClient) classifyError(status int, body []byte) error {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("cloud api status %d", status)
	}

	c.logger.Warn("cloud api error",
		zap.Int("status", status),
		zap.Int("code", parsed.Error.Code),
		zap.String("type", parsed.Error.Type),
		zap.String("message", parsed.Error.Message),
		zap.String("fbtrace_id", parsed.Error.FBTraceID),
	)

	switch parsed.Error.Code {
	case 190:
		return ErrTokenExpired
	case 4, 80007, 130429:
		return ErrRateLimited
	case 132000, 132001, 132005, 132012:
		return ErrInvalidTemplate
	}
	return fmt.Errorf("cloud api error %d: %s", parsed.Error.Code, parsed.Error.Message)
}
