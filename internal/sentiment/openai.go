package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// OpenAIClient classifies blocks with the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey      string
	model       string
	temperature float64
	baseURL     string
	httpClient  *http.Client

	Stats *LLMStats
}

func NewOpenAIClient(apiKey, model string, temperature float64) *OpenAIClient {
	return &OpenAIClient{
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		baseURL:     openAIChatURL,
		httpClient:  newHTTPClient(),
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) Classify(ctx context.Context, text string) (Scores, error) {
	temp := c.temperature
	reqBody := openAIRequest{
		Model:       c.model,
		Messages:    []openAIMessage{{Role: "user", Content: BuildPrompt(text)}},
		Temperature: &temp,
	}

	start := time.Now()
	respBody, err := postJSON(ctx, c.httpClient, c.baseURL, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, reqBody)
	if c.Stats != nil {
		c.Stats.Record(time.Since(start), err != nil)
	}
	if err != nil {
		return Scores{}, fmt.Errorf("openai api: %w", err)
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Scores{}, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return Scores{}, fmt.Errorf("openai error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return Scores{}, fmt.Errorf("empty response from openai")
	}

	return ParseResponse(apiResp.Choices[0].Message.Content)
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Close() {
	c.httpClient.CloseIdleConnections()
}
