package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultEndpoint  = "https://api.anthropic.com/v1/messages"
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 60 * time.Second

	apiVersion   = "2023-06-01"
	maxBodyChars = 8000
)

const systemPrompt = `You extract facts from job application emails.
Reply with a single JSON object and nothing else, using exactly these keys:
"company" (string), "role" (string or null),
"status" (one of "confirmation", "interview", "rejection", "offer", "other"),
"action_required" (boolean), "next_step" (string or null),
"deadlines" (array of strings), "important_links" (array of strings),
"confidence" (number between 0 and 1).
Do not invent facts that are not in the email.`

// ClientConfig configures the LLM-backed extractor.
type ClientConfig struct {
	APIKey    string
	Endpoint  string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client calls a Messages-style LLM endpoint to extract Fields.
type Client struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int
	client    *http.Client
}

// NewClient creates an extractor with defaults filled in.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:    cfg.APIKey,
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze sends the message to the model and parses its reply.
func (c *Client) Analyze(ctx context.Context, subject, sender, body string) (Fields, error) {
	if len(body) > maxBodyChars {
		body = strings.ToValidUTF8(body[:maxBodyChars], "")
	}

	var prompt strings.Builder
	prompt.WriteString("Subject: " + subject + "\n")
	prompt.WriteString("From: " + sender + "\n\n")
	prompt.WriteString(body)

	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  []apiMessage{{Role: "user", Content: prompt.String()}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Fields{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Fields{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return Fields{}, fmt.Errorf("calling extractor: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fields{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return Fields{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return Fields{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Fields{}, fmt.Errorf("%w: decoding response: %v", ErrAnalysisFailed, err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseFields(text.String())
}
