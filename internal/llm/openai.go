package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type OpenAIClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type openAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// Request timeouts are left to the caller's context.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{},
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	data, err := json.Marshal(openAIRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewBuffer(data))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	var llmResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("completion service returned status %s", resp.Status)
		}
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if llmResp.Error != nil && llmResp.Error.Message != "" {
			return "", fmt.Errorf("completion service returned status %s: %s", resp.Status, llmResp.Error.Message)
		}
		return "", fmt.Errorf("completion service returned status %s", resp.Status)
	}

	if len(llmResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}
	return llmResp.Choices[0].Message.Content, nil
}
