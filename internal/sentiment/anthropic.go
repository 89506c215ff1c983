package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// AnthropicClient classifies blocks with the Anthropic Messages API.
type AnthropicClient struct {
	apiKey      string
	model       string
	temperature float64
	baseURL     string
	httpClient  *http.Client

	// Stats, when set, records call latency.
	Stats *LLMStats
}

func NewAnthropicClient(apiKey, model string, temperature float64) *AnthropicClient {
	return &AnthropicClient{
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		baseURL:     anthropicMessagesURL,
		httpClient:  newHTTPClient(),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify sends one block to Claude and parses the JSON verdict.
func (c *AnthropicClient) Classify(ctx context.Context, text string) (Scores, error) {
	temp := c.temperature
	reqBody := anthropicRequest{
		Model:       c.model,
		MaxTokens:   256,
		Temperature: &temp,
		Messages: []anthropicMessage{
			{Role: "user", Content: BuildPrompt(text)},
		},
	}

	start := time.Now()
	respBody, err := postJSON(ctx, c.httpClient, c.baseURL, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}, reqBody)
	if c.Stats != nil {
		c.Stats.Record(time.Since(start), err != nil)
	}
	if err != nil {
		return Scores{}, fmt.Errorf("claude api: %w", err)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Scores{}, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return Scores{}, fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return Scores{}, fmt.Errorf("empty response from claude")
	}

	return ParseResponse(apiResp.Content[0].Text)
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

// Close releases resources.
func (c *AnthropicClient) Close() {
	c.httpClient.CloseIdleConnections()
}
